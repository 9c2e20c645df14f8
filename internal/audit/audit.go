// Package audit はキャンペーンの監査ログ記録を提供する。
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ksato/multipost/internal/model"
	"github.com/ksato/multipost/internal/repository"
)

// Logger はキャンペーンイベントを追記専用の監査ログへ記録する。
// 記録はベストエフォートであり、失敗しても呼び出し元の処理には
// 影響しない。監査ログの欠落よりアイテムの状態遷移を優先する。
type Logger struct {
	logRepo repository.CampaignLogRepository
	logger  *slog.Logger
	now     func() time.Time
}

// NewLogger はLoggerを生成する。
func NewLogger(logRepo repository.CampaignLogRepository, logger *slog.Logger) *Logger {
	return &Logger{
		logRepo: logRepo,
		logger:  logger,
		now:     time.Now,
	}
}

// Record はキャンペーンイベントを1件記録する。
// 書き込みに失敗した場合は警告ログを残して正常に戻る。
func (l *Logger) Record(ctx context.Context, campaignID string, event model.LogEventType, payload map[string]any) {
	entry := &model.CampaignLog{
		ID:         uuid.New().String(),
		CampaignID: campaignID,
		EventType:  event,
		Payload:    payload,
		CreatedAt:  l.now(),
	}

	if err := l.logRepo.Append(ctx, entry); err != nil {
		l.logger.Warn("監査ログの記録に失敗しました",
			slog.String("campaign_id", campaignID),
			slog.String("event_type", string(event)),
			slog.String("error", err.Error()),
		)
	}
}
