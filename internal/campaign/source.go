package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/ksato/multipost/internal/model"
	"github.com/ksato/multipost/internal/security"
)

// SourceFetcher はキャンペーンのコンテンツソースから現在のエントリ一覧を取得する。
type SourceFetcher interface {
	Fetch(ctx context.Context, campaign *model.Campaign) ([]model.SourceItem, error)
}

// HTTPSourceFetcher はHTTP経由のコンテンツソース取得の実装。
// メディアプール（JSONリスティング）とRSS/Atomフィードに対応する。
// ソースURLはユーザー設定値のため、SSRF防止付きクライアントで取得する。
type HTTPSourceFetcher struct {
	guard       security.SourceURLGuard
	timeout     time.Duration
	maxBodySize int64
}

// NewHTTPSourceFetcher はHTTPSourceFetcherを生成する。
func NewHTTPSourceFetcher(guard security.SourceURLGuard, timeout time.Duration, maxBodySize int64) *HTTPSourceFetcher {
	return &HTTPSourceFetcher{
		guard:       guard,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// poolEntry はメディアプールのJSONリスティングの1エントリ。
type poolEntry struct {
	Ref      string `json:"ref"`
	Caption  string `json:"caption"`
	MediaURL string `json:"media_url"`
}

// Fetch はキャンペーンのソース種別に応じて現在のエントリ一覧を取得する。
func (f *HTTPSourceFetcher) Fetch(ctx context.Context, campaign *model.Campaign) ([]model.SourceItem, error) {
	if err := f.guard.ValidateURL(campaign.SourceURL); err != nil {
		return nil, fmt.Errorf("ソースURLの検証に失敗しました: %w", err)
	}

	body, err := f.fetchBody(ctx, campaign.SourceURL)
	if err != nil {
		return nil, err
	}

	switch campaign.SourceKind {
	case model.SourceKindMediaPool:
		return parsePoolListing(body)
	case model.SourceKindFeed:
		return parseFeed(body)
	default:
		return nil, fmt.Errorf("未対応のソース種別です: %s", campaign.SourceKind)
	}
}

// fetchBody はソースURLの内容を最大サイズ制限付きで取得する。
func (f *HTTPSourceFetcher) fetchBody(ctx context.Context, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエストの生成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "multipost/1.0")

	client := f.guard.NewSafeClient(f.timeout)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ソースがHTTPステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスの読み取りに失敗しました: %w", err)
	}
	return body, nil
}

// parsePoolListing はメディアプールのJSONリスティングをパースする。
// refが無いエントリはmedia_urlをrefとして扱い、どちらも無いエントリは無視する。
func parsePoolListing(body []byte) ([]model.SourceItem, error) {
	var entries []poolEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("メディアプールのパースに失敗しました: %w", err)
	}

	items := make([]model.SourceItem, 0, len(entries))
	for _, e := range entries {
		ref := e.Ref
		if ref == "" {
			ref = e.MediaURL
		}
		if ref == "" {
			continue
		}
		items = append(items, model.SourceItem{
			Ref:      ref,
			Caption:  e.Caption,
			MediaURL: e.MediaURL,
		})
	}
	return items, nil
}

// parseFeed はRSS/Atomフィードをパースする。
// refにはGUIDを優先し、無ければリンクを使用する。どちらも無い記事は無視する。
func parseFeed(body []byte) ([]model.SourceItem, error) {
	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("フィードのパースに失敗しました: %w", err)
	}

	items := make([]model.SourceItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if entry == nil {
			continue
		}
		ref := entry.GUID
		if ref == "" {
			ref = entry.Link
		}
		if ref == "" {
			continue
		}

		caption := entry.Title
		if entry.Link != "" {
			caption = fmt.Sprintf("%s\n%s", entry.Title, entry.Link)
		}

		mediaURL := ""
		if len(entry.Enclosures) > 0 && entry.Enclosures[0] != nil {
			mediaURL = entry.Enclosures[0].URL
		}
		if mediaURL == "" && entry.Image != nil {
			mediaURL = entry.Image.URL
		}

		items = append(items, model.SourceItem{
			Ref:      ref,
			Caption:  caption,
			MediaURL: mediaURL,
		})
	}
	return items, nil
}
