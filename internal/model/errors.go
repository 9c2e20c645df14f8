package model

// 投稿失敗のエラーコード。
// チャンネル結果のerror_codeおよび監査ログのペイロードに使用される。
const (
	// ErrCodeNoChannels は有効な投稿先チャンネルが1つも解決できなかったことを示す。
	// 設定上の問題でありリトライ対象外。
	ErrCodeNoChannels = "NO_CHANNELS"
	// ErrCodeEmptyPayload はキャプションとメディアの両方が空だったことを示す。
	// データ上の問題でありリトライ対象外。
	ErrCodeEmptyPayload = "EMPTY_PAYLOAD"
	// ErrCodePayloadFailed はペイロードリゾルバ自体が失敗したことを示す。リトライ対象外。
	ErrCodePayloadFailed = "PAYLOAD_FAILED"
	// ErrCodeProviderError はプロバイダーが投稿を拒否したことを示す（4xx相当）。リトライ対象外。
	ErrCodeProviderError = "PROVIDER_ERROR"

	// ErrCodeRateLimit はプロバイダーのレート制限。
	ErrCodeRateLimit = "RATE_LIMIT"
	// ErrCodeTimeout は投稿呼び出しのタイムアウト。
	ErrCodeTimeout = "TIMEOUT"
	// ErrCodeTemporaryError はプロバイダー側の一時的なエラー。
	ErrCodeTemporaryError = "TEMPORARY_ERROR"
	// ErrCodeServiceUnavailable はプロバイダーのサービス停止（5xx）。
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	// ErrCodeNetworkError はトランスポート層のエラー。
	ErrCodeNetworkError = "NETWORK_ERROR"
	// ErrCodeVideoProcessingFailed はプロバイダー側の動画処理失敗。
	// 再投稿で解消することが多いためリトライ対象とする。
	ErrCodeVideoProcessingFailed = "VIDEO_PROCESSING_FAILED"
)

// RetryableErrorCodes はリトライ対象のエラーコード集合。
var RetryableErrorCodes = map[string]bool{
	ErrCodeRateLimit:             true,
	ErrCodeTimeout:               true,
	ErrCodeTemporaryError:        true,
	ErrCodeServiceUnavailable:    true,
	ErrCodeNetworkError:          true,
	ErrCodeVideoProcessingFailed: true,
}
