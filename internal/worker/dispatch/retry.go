package dispatch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ksato/multipost/internal/model"
)

const (
	// initialBackoff は指数バックオフの初回遅延（60秒）。
	initialBackoff = 60 * time.Second
	// maxBackoff は指数バックオフの最大遅延（240秒）。
	maxBackoff = 240 * time.Second
	// maxErrorMessageLength はユーザー向けエラーメッセージの最大長。
	maxErrorMessageLength = 1000
)

// Policy はリトライ可否の判定条件を保持する。
type Policy struct {
	// MaxAttempts はビジネスリトライの最大試行回数。
	MaxAttempts int
	// RetryDeadline は初回試行からの最終期限。超過後はリトライしない。
	RetryDeadline time.Duration
}

// retryableSubstrings はエラーコードが無い場合に自由テキストから
// リトライ可能性を判定するための部分文字列（小文字）。
var retryableSubstrings = []string{
	"rate limit",
	"too many requests",
}

// IsRetryable は1チャンネルの失敗結果がリトライ対象かを判定する。
// error_codeが既知のリトライ対象集合に含まれるか、コードが無い場合は
// エラーテキストの部分一致（大文字小文字を無視）で判定する。
func IsRetryable(result model.ChannelResult) bool {
	if result.Success {
		return false
	}
	if result.ErrorCode != "" {
		return model.RetryableErrorCodes[result.ErrorCode]
	}

	lower := strings.ToLower(result.Error)
	for _, s := range retryableSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// AnyRetryable はいずれかのチャンネル失敗がリトライ対象かを返す。
func AnyRetryable(results map[string]model.ChannelResult) bool {
	for _, r := range results {
		if IsRetryable(r) {
			return true
		}
	}
	return false
}

// Backoff は試行回数に基づく指数バックオフ遅延を返す。
// 0回目60秒、1回目120秒、以降は最大240秒。
func Backoff(attempt int) time.Duration {
	delay := initialBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// ShouldRetry はリトライを行うべきかを判定する。
// いずれかの失敗がリトライ対象であり、試行回数が上限未満であり、
// かつ初回試行からの最終期限を超えていない場合のみtrueを返す。
func (p Policy) ShouldRetry(results map[string]model.ChannelResult, attemptCount int, firstAttemptedAt, now time.Time) bool {
	if !AnyRetryable(results) {
		return false
	}
	if attemptCount >= p.MaxAttempts {
		return false
	}
	if !firstAttemptedAt.IsZero() && now.Sub(firstAttemptedAt) >= p.RetryDeadline {
		return false
	}
	return true
}

// FailureSummary は失敗チャンネルの要約をセミコロン区切りで返す。
// チャンネル名順に整列し、ユーザー向け上限まで切り詰める。
func FailureSummary(results map[string]model.ChannelResult) string {
	var parts []string
	for _, r := range results {
		if r.Success {
			continue
		}
		msg := r.Error
		if msg == "" {
			msg = "unknown error"
		}
		parts = append(parts, fmt.Sprintf("%s (%s): %s", r.ChannelName, r.Provider, msg))
	}
	sort.Strings(parts)
	return TruncateMessage(strings.Join(parts, "; "))
}

// TruncateMessage はユーザー向けエラーメッセージを上限長まで切り詰める。
func TruncateMessage(msg string) string {
	if len(msg) <= maxErrorMessageLength {
		return msg
	}
	return msg[:maxErrorMessageLength]
}
