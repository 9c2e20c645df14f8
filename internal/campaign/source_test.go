package campaign

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ksato/multipost/internal/model"
)

// passthroughGuard は検証をスキップする（またはdenyErrを返す）テスト用ガード。
// httptestサーバーはループバックで動くため、本物のSSRFガードでは通せない。
type passthroughGuard struct {
	denyErr error
}

func (g *passthroughGuard) NewSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (g *passthroughGuard) ValidateURL(rawURL string) error {
	return g.denyErr
}

func newTestFetcher(guard *passthroughGuard) *HTTPSourceFetcher {
	return NewHTTPSourceFetcher(guard, 5*time.Second, 1<<20)
}

func TestFetch_MediaPool(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"ref": "pool-1", "caption": "写真1", "media_url": "https://cdn.example.com/1.jpg"},
			{"ref": "pool-2", "caption": "写真2", "media_url": "https://cdn.example.com/2.jpg"}
		]`))
	}))
	defer server.Close()

	fetcher := newTestFetcher(&passthroughGuard{})
	campaign := &model.Campaign{SourceKind: model.SourceKindMediaPool, SourceURL: server.URL}

	items, err := fetcher.Fetch(context.Background(), campaign)
	if err != nil {
		t.Fatalf("Fetch はエラーを返すべきではない: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("アイテム数 = %d, want 2", len(items))
	}
	if items[0].Ref != "pool-1" || items[0].Caption != "写真1" || items[0].MediaURL != "https://cdn.example.com/1.jpg" {
		t.Errorf("アイテム内容が一致しない: %+v", items[0])
	}
}

func TestFetch_Feed(t *testing.T) {
	rss := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>お知らせ</title>
<item>
<title>新商品のご案内</title>
<link>https://blog.example.com/entry/1</link>
<guid>entry-guid-1</guid>
<enclosure url="https://cdn.example.com/entry1.jpg" type="image/jpeg" length="1024"/>
</item>
</channel>
</rss>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(rss))
	}))
	defer server.Close()

	fetcher := newTestFetcher(&passthroughGuard{})
	campaign := &model.Campaign{SourceKind: model.SourceKindFeed, SourceURL: server.URL}

	items, err := fetcher.Fetch(context.Background(), campaign)
	if err != nil {
		t.Fatalf("Fetch はエラーを返すべきではない: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("アイテム数 = %d, want 1", len(items))
	}
	if items[0].Ref != "entry-guid-1" {
		t.Errorf("ref はGUIDを優先すべき, got %q", items[0].Ref)
	}
	if items[0].Caption != "新商品のご案内\nhttps://blog.example.com/entry/1" {
		t.Errorf("caption はタイトルとリンクを含むべき, got %q", items[0].Caption)
	}
	if items[0].MediaURL != "https://cdn.example.com/entry1.jpg" {
		t.Errorf("media_url はenclosureから取るべき, got %q", items[0].MediaURL)
	}
}

func TestFetch_ValidationFailureBlocksRequest(t *testing.T) {
	requested := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = true
	}))
	defer server.Close()

	fetcher := newTestFetcher(&passthroughGuard{denyErr: errors.New("blocked network")})
	campaign := &model.Campaign{SourceKind: model.SourceKindMediaPool, SourceURL: server.URL}

	if _, err := fetcher.Fetch(context.Background(), campaign); err == nil {
		t.Error("URL検証失敗時はエラーを返すべき")
	}
	if requested {
		t.Error("検証に失敗したURLへリクエストしてはならない")
	}
}

func TestFetch_Non200Status(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := newTestFetcher(&passthroughGuard{})
	campaign := &model.Campaign{SourceKind: model.SourceKindMediaPool, SourceURL: server.URL}

	if _, err := fetcher.Fetch(context.Background(), campaign); err == nil {
		t.Error("200以外のステータスはエラーを返すべき")
	}
}

func TestFetch_UnsupportedSourceKind(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	fetcher := newTestFetcher(&passthroughGuard{})
	campaign := &model.Campaign{SourceKind: model.SourceKind("unknown"), SourceURL: server.URL}

	if _, err := fetcher.Fetch(context.Background(), campaign); err == nil {
		t.Error("未対応のソース種別はエラーを返すべき")
	}
}

func TestParsePoolListing_RefFallsBackToMediaURL(t *testing.T) {
	items, err := parsePoolListing([]byte(`[
		{"caption": "refなし", "media_url": "https://cdn.example.com/a.jpg"},
		{"caption": "どちらもなし"}
	]`))
	if err != nil {
		t.Fatalf("parsePoolListing はエラーを返すべきではない: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("アイテム数 = %d, want 1", len(items))
	}
	if items[0].Ref != "https://cdn.example.com/a.jpg" {
		t.Errorf("ref が無い場合は media_url を ref とすべき, got %q", items[0].Ref)
	}
}

func TestParsePoolListing_InvalidJSON(t *testing.T) {
	if _, err := parsePoolListing([]byte(`{not json`)); err == nil {
		t.Error("不正なJSONはエラーを返すべき")
	}
}

func TestParseFeed_LinkUsedWhenGUIDMissing(t *testing.T) {
	rss := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>お知らせ</title>
<item>
<title>GUIDなし記事</title>
<link>https://blog.example.com/entry/2</link>
</item>
<item>
<title>参照情報なし記事</title>
</item>
</channel>
</rss>`
	items, err := parseFeed([]byte(rss))
	if err != nil {
		t.Fatalf("parseFeed はエラーを返すべきではない: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("参照情報の無い記事は無視すべき, アイテム数 = %d", len(items))
	}
	if items[0].Ref != "https://blog.example.com/entry/2" {
		t.Errorf("GUIDが無い場合はリンクを ref とすべき, got %q", items[0].Ref)
	}
}

func TestParseFeed_InvalidXML(t *testing.T) {
	if _, err := parseFeed([]byte("これはフィードではない")); err == nil {
		t.Error("不正なフィードはエラーを返すべき")
	}
}
