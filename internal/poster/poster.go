// Package poster はマルチチャンネル投稿の実行を提供する。
// チャンネルごとにプロバイダーゲートウェイへの投稿呼び出しを行い、
// 全チャンネル分の構造化された結果を返す。
package poster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ksato/multipost/internal/model"
)

// maxResponseSize はゲートウェイレスポンスの最大読み取りサイズ。
const maxResponseSize = 1 << 20 // 1MiB

// postRequest はゲートウェイへの投稿リクエストボディ。
type postRequest struct {
	ItemID      string   `json:"item_id"`
	ChannelID   string   `json:"channel_id"`
	ChannelType string   `json:"channel_type"`
	Caption     string   `json:"caption"`
	MediaURLs   []string `json:"media_urls,omitempty"`
}

// postResponse はゲートウェイからの投稿レスポンスボディ。
type postResponse struct {
	Success        bool   `json:"success"`
	ExternalPostID string `json:"external_post_id"`
	Error          string `json:"error"`
	ErrorCode      string `json:"error_code"`
}

// GatewayPoster はプロバイダーゲートウェイ経由で投稿を行うPoster実装。
// プロバイダーごとにレートリミッターを持ち、チャンネルへの呼び出しを並列に行う。
type GatewayPoster struct {
	baseURL    string
	client     *http.Client
	timeout    time.Duration
	ratePerSec float64
	burst      int
	logger     *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewGatewayPoster はGatewayPosterを生成する。
// baseURLはプロバイダーゲートウェイのベースURL。
func NewGatewayPoster(baseURL string, timeout time.Duration, ratePerSec float64, burst int, logger *slog.Logger) *GatewayPoster {
	return &GatewayPoster{
		baseURL:    baseURL,
		client:     &http.Client{Timeout: timeout},
		timeout:    timeout,
		ratePerSec: ratePerSec,
		burst:      burst,
		logger:     logger,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Post は解決済みの全チャンネルへペイロードを並列に投稿し、
// チャンネルIDをキーとした結果マップを返す。
// 個々の呼び出しの失敗は当該チャンネルの結果エントリとなり、
// 全体を中断することはない。必ず全チャンネル分のエントリを返す。
func (p *GatewayPoster) Post(ctx context.Context, item *model.ContentItem, channels []*model.Channel, payload model.PostPayload) map[string]model.ChannelResult {
	results := make(map[string]model.ChannelResult, len(channels))

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, ch := range channels {
		wg.Add(1)
		go func(ch *model.Channel) {
			defer wg.Done()

			result := p.postOne(ctx, item, ch, payload)

			mu.Lock()
			results[ch.ID] = result
			mu.Unlock()
		}(ch)
	}

	wg.Wait()

	return results
}

// postOne は1チャンネルへの投稿を実行する。
func (p *GatewayPoster) postOne(ctx context.Context, item *model.ContentItem, ch *model.Channel, payload model.PostPayload) model.ChannelResult {
	result := model.ChannelResult{
		Provider:    ch.Provider,
		ChannelType: ch.ChannelType,
		ChannelName: ch.DisplayName,
	}

	// プロバイダー単位のレート制限
	if err := p.limiterFor(ch.Provider).Wait(ctx); err != nil {
		result.Error = fmt.Sprintf("rate limiter wait canceled: %s", err.Error())
		result.ErrorCode = model.ErrCodeTimeout
		return result
	}

	body, err := json.Marshal(postRequest{
		ItemID:      item.ID,
		ChannelID:   ch.ID,
		ChannelType: ch.ChannelType,
		Caption:     payload.Caption,
		MediaURLs:   payload.MediaURLs,
	})
	if err != nil {
		result.Error = fmt.Sprintf("failed to encode request: %s", err.Error())
		result.ErrorCode = model.ErrCodeProviderError
		return result
	}

	url := fmt.Sprintf("%s/providers/%s/posts", p.baseURL, ch.Provider)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Sprintf("failed to build request: %s", err.Error())
		result.ErrorCode = model.ErrCodeProviderError
		return result
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			result.Error = "post request timed out"
			result.ErrorCode = model.ErrCodeTimeout
			return result
		}
		result.Error = fmt.Sprintf("post request failed: %s", err.Error())
		result.ErrorCode = model.ErrCodeNetworkError
		return result
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		result.Error = fmt.Sprintf("failed to read response: %s", err.Error())
		result.ErrorCode = model.ErrCodeNetworkError
		return result
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		result.Error = "provider rate limit exceeded"
		result.ErrorCode = model.ErrCodeRateLimit
		return result
	case resp.StatusCode >= 500:
		result.Error = fmt.Sprintf("provider gateway returned %d", resp.StatusCode)
		result.ErrorCode = model.ErrCodeServiceUnavailable
		return result
	}

	var gw postResponse
	if err := json.Unmarshal(respBody, &gw); err != nil {
		result.Error = fmt.Sprintf("invalid gateway response (%d)", resp.StatusCode)
		result.ErrorCode = model.ErrCodeTemporaryError
		return result
	}

	if resp.StatusCode != http.StatusOK || !gw.Success {
		result.Error = gw.Error
		if result.Error == "" {
			result.Error = fmt.Sprintf("provider rejected post (%d)", resp.StatusCode)
		}
		result.ErrorCode = gw.ErrorCode
		if result.ErrorCode == "" {
			result.ErrorCode = model.ErrCodeProviderError
		}
		return result
	}

	result.Success = true
	result.ExternalPostID = gw.ExternalPostID
	return result
}

// limiterFor はプロバイダー用のレートリミッターを返す。未作成の場合は生成する。
func (p *GatewayPoster) limiterFor(provider string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters[provider]
	if !ok {
		l = rate.NewLimiter(rate.Limit(p.ratePerSec), p.burst)
		p.limiters[provider] = l
	}
	return l
}
