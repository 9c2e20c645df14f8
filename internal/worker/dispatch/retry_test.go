package dispatch

import (
	"strings"
	"testing"
	"time"

	"github.com/ksato/multipost/internal/model"
)

// --- リトライ可否判定のテスト ---

func TestIsRetryable_RateLimitCode(t *testing.T) {
	r := model.ChannelResult{Success: false, ErrorCode: model.ErrCodeRateLimit}
	if !IsRetryable(r) {
		t.Error("RATE_LIMIT はリトライ対象であるべき")
	}
}

func TestIsRetryable_TimeoutCode(t *testing.T) {
	r := model.ChannelResult{Success: false, ErrorCode: model.ErrCodeTimeout}
	if !IsRetryable(r) {
		t.Error("TIMEOUT はリトライ対象であるべき")
	}
}

func TestIsRetryable_ServiceUnavailableCode(t *testing.T) {
	r := model.ChannelResult{Success: false, ErrorCode: model.ErrCodeServiceUnavailable}
	if !IsRetryable(r) {
		t.Error("SERVICE_UNAVAILABLE はリトライ対象であるべき")
	}
}

func TestIsRetryable_VideoProcessingFailedCode(t *testing.T) {
	r := model.ChannelResult{Success: false, ErrorCode: model.ErrCodeVideoProcessingFailed}
	if !IsRetryable(r) {
		t.Error("VIDEO_PROCESSING_FAILED はリトライ対象であるべき")
	}
}

func TestIsRetryable_ProviderErrorCode(t *testing.T) {
	r := model.ChannelResult{Success: false, ErrorCode: model.ErrCodeProviderError}
	if IsRetryable(r) {
		t.Error("PROVIDER_ERROR はリトライ対象であってはならない")
	}
}

func TestIsRetryable_NoChannelsCode(t *testing.T) {
	r := model.ChannelResult{Success: false, ErrorCode: model.ErrCodeNoChannels}
	if IsRetryable(r) {
		t.Error("NO_CHANNELS はリトライ対象であってはならない")
	}
}

func TestIsRetryable_RateLimitSubstring(t *testing.T) {
	// エラーコードが無い場合はテキストの部分一致で判定する
	r := model.ChannelResult{Success: false, Error: "Rate Limit exceeded for this account"}
	if !IsRetryable(r) {
		t.Error("\"rate limit\" を含むエラーはリトライ対象であるべき")
	}
}

func TestIsRetryable_TooManyRequestsSubstring(t *testing.T) {
	r := model.ChannelResult{Success: false, Error: "HTTP 429: Too Many Requests"}
	if !IsRetryable(r) {
		t.Error("\"too many requests\" を含むエラーはリトライ対象であるべき")
	}
}

func TestIsRetryable_UnknownText(t *testing.T) {
	r := model.ChannelResult{Success: false, Error: "invalid media format"}
	if IsRetryable(r) {
		t.Error("未知のエラーテキストはリトライ対象であってはならない")
	}
}

func TestIsRetryable_CodeTakesPrecedenceOverText(t *testing.T) {
	// エラーコードがある場合はテキストを見ない
	r := model.ChannelResult{Success: false, ErrorCode: model.ErrCodeProviderError, Error: "rate limit"}
	if IsRetryable(r) {
		t.Error("エラーコードがある場合はコードで判定すべき")
	}
}

func TestIsRetryable_SuccessResult(t *testing.T) {
	r := model.ChannelResult{Success: true, ErrorCode: model.ErrCodeRateLimit}
	if IsRetryable(r) {
		t.Error("成功結果はリトライ対象であってはならない")
	}
}

func TestAnyRetryable_MixedResults(t *testing.T) {
	results := map[string]model.ChannelResult{
		"ch-1": {Success: false, ErrorCode: model.ErrCodeProviderError},
		"ch-2": {Success: false, ErrorCode: model.ErrCodeTimeout},
	}
	if !AnyRetryable(results) {
		t.Error("1つでもリトライ対象があれば true を返すべき")
	}
}

func TestAnyRetryable_AllTerminal(t *testing.T) {
	results := map[string]model.ChannelResult{
		"ch-1": {Success: false, ErrorCode: model.ErrCodeProviderError},
		"ch-2": {Success: false, Error: "bad payload"},
	}
	if AnyRetryable(results) {
		t.Error("全てリトライ対象外の場合は false を返すべき")
	}
}

// --- バックオフのテスト ---

func TestBackoff_InitialDelay(t *testing.T) {
	// 初回リトライ: 60秒
	if d := Backoff(0); d != 60*time.Second {
		t.Errorf("初回バックオフ = %v, want 60s", d)
	}
}

func TestBackoff_SecondDelay(t *testing.T) {
	// 2回目: 120秒
	if d := Backoff(1); d != 120*time.Second {
		t.Errorf("2回目バックオフ = %v, want 120s", d)
	}
}

func TestBackoff_ThirdDelay(t *testing.T) {
	// 3回目: 240秒
	if d := Backoff(2); d != 240*time.Second {
		t.Errorf("3回目バックオフ = %v, want 240s", d)
	}
}

func TestBackoff_MaxDelay(t *testing.T) {
	// 最大240秒を超えない
	if d := Backoff(100); d != 240*time.Second {
		t.Errorf("高い試行回数では最大値 240s を返すべき, got %v", d)
	}
}

// --- ShouldRetry のテスト ---

func retryableResults() map[string]model.ChannelResult {
	return map[string]model.ChannelResult{
		"ch-1": {Success: false, ErrorCode: model.ErrCodeTimeout, ChannelName: "main", Provider: "instagram"},
	}
}

func TestShouldRetry_WithinLimits(t *testing.T) {
	p := Policy{MaxAttempts: 3, RetryDeadline: 30 * time.Minute}
	now := time.Now()
	if !p.ShouldRetry(retryableResults(), 0, now, now) {
		t.Error("予算内のリトライ対象失敗はリトライすべき")
	}
}

func TestShouldRetry_AttemptLimitReached(t *testing.T) {
	p := Policy{MaxAttempts: 3, RetryDeadline: 30 * time.Minute}
	now := time.Now()
	if p.ShouldRetry(retryableResults(), 3, now, now) {
		t.Error("試行回数上限に達した場合はリトライしてはならない")
	}
}

func TestShouldRetry_DeadlineExceeded(t *testing.T) {
	p := Policy{MaxAttempts: 3, RetryDeadline: 30 * time.Minute}
	first := time.Now()
	now := first.Add(31 * time.Minute)
	if p.ShouldRetry(retryableResults(), 1, first, now) {
		t.Error("初回試行から期限を超過した場合はリトライしてはならない")
	}
}

func TestShouldRetry_NonRetryableFailure(t *testing.T) {
	p := Policy{MaxAttempts: 3, RetryDeadline: 30 * time.Minute}
	now := time.Now()
	results := map[string]model.ChannelResult{
		"ch-1": {Success: false, ErrorCode: model.ErrCodeProviderError},
	}
	if p.ShouldRetry(results, 0, now, now) {
		t.Error("リトライ対象外の失敗はリトライしてはならない")
	}
}

func TestShouldRetry_ZeroFirstAttemptSkipsDeadline(t *testing.T) {
	// first_attempted_at が未設定の場合は期限判定をスキップする
	p := Policy{MaxAttempts: 3, RetryDeadline: 30 * time.Minute}
	if !p.ShouldRetry(retryableResults(), 0, time.Time{}, time.Now()) {
		t.Error("初回試行時刻が未設定の場合は期限判定をスキップすべき")
	}
}

// --- 失敗要約のテスト ---

func TestFailureSummary_Format(t *testing.T) {
	results := map[string]model.ChannelResult{
		"ch-1": {Success: false, ChannelName: "brand_jp", Provider: "instagram", Error: "timeout"},
	}
	got := FailureSummary(results)
	want := "brand_jp (instagram): timeout"
	if got != want {
		t.Errorf("FailureSummary = %q, want %q", got, want)
	}
}

func TestFailureSummary_SortedAndJoined(t *testing.T) {
	results := map[string]model.ChannelResult{
		"ch-2": {Success: false, ChannelName: "zebra", Provider: "x", Error: "down"},
		"ch-1": {Success: false, ChannelName: "alpha", Provider: "facebook", Error: "timeout"},
	}
	got := FailureSummary(results)
	want := "alpha (facebook): timeout; zebra (x): down"
	if got != want {
		t.Errorf("FailureSummary = %q, want %q", got, want)
	}
}

func TestFailureSummary_SkipsSuccesses(t *testing.T) {
	results := map[string]model.ChannelResult{
		"ch-1": {Success: true, ChannelName: "ok", Provider: "instagram"},
		"ch-2": {Success: false, ChannelName: "bad", Provider: "x", Error: "down"},
	}
	got := FailureSummary(results)
	if strings.Contains(got, "ok") {
		t.Errorf("成功チャンネルは要約に含めてはならない: %q", got)
	}
}

func TestFailureSummary_EmptyErrorMessage(t *testing.T) {
	results := map[string]model.ChannelResult{
		"ch-1": {Success: false, ChannelName: "main", Provider: "x"},
	}
	got := FailureSummary(results)
	if !strings.Contains(got, "unknown error") {
		t.Errorf("エラーメッセージが空の場合は unknown error を使うべき: %q", got)
	}
}

func TestTruncateMessage_LongMessage(t *testing.T) {
	long := strings.Repeat("a", 1500)
	got := TruncateMessage(long)
	if len(got) != 1000 {
		t.Errorf("切り詰め後の長さ = %d, want 1000", len(got))
	}
}

func TestTruncateMessage_ShortMessage(t *testing.T) {
	if got := TruncateMessage("short"); got != "short" {
		t.Errorf("上限未満のメッセージは変更してはならない: %q", got)
	}
}

func TestFailureSummary_Truncated(t *testing.T) {
	results := map[string]model.ChannelResult{
		"ch-1": {Success: false, ChannelName: "main", Provider: "x", Error: strings.Repeat("e", 2000)},
	}
	got := FailureSummary(results)
	if len(got) > 1000 {
		t.Errorf("要約は1000文字以内に切り詰めるべき, got %d", len(got))
	}
}
