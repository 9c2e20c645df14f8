package dispatch

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ksato/multipost/internal/model"
	"github.com/ksato/multipost/internal/queue"
)

// mockRunner はRunnerのテスト用モック。
type mockRunner struct {
	dispatchFunc  func(ctx context.Context, itemID string) (Outcome, error)
	finalizeCalls []string
}

func (m *mockRunner) Dispatch(ctx context.Context, itemID string) (Outcome, error) {
	if m.dispatchFunc != nil {
		return m.dispatchFunc(ctx, itemID)
	}
	return Outcome{Kind: OutcomePublished}, nil
}

func (m *mockRunner) Finalize(ctx context.Context, itemID, reason string) {
	m.finalizeCalls = append(m.finalizeCalls, reason)
}

func newTestConsumer(runner Runner, itemRepo *mockItemRepo) *Consumer {
	var buf bytes.Buffer
	c := NewConsumer(runner, itemRepo, &mockCollector{}, time.Minute, 3, newTestLogger(&buf))
	c.now = func() time.Time { return testNow }
	return c
}

func TestHandleJob_SuccessfulDispatch(t *testing.T) {
	runner := &mockRunner{}
	c := newTestConsumer(runner, &mockItemRepo{})

	err := c.HandleJob(context.Background(), queue.DispatchJob{ItemID: "item-1"})
	if err != nil {
		t.Fatalf("HandleJob はエラーを返すべきではない: %v", err)
	}
	if len(runner.finalizeCalls) != 0 {
		t.Error("正常終了時に Finalize を呼んではならない")
	}
}

func TestHandleJob_PanicTriggersFinalize(t *testing.T) {
	// panicは集約処理を迂回している可能性があるため強制終端させる
	runner := &mockRunner{
		dispatchFunc: func(ctx context.Context, itemID string) (Outcome, error) {
			panic("unexpected nil")
		},
	}
	c := newTestConsumer(runner, &mockItemRepo{})

	err := c.HandleJob(context.Background(), queue.DispatchJob{ItemID: "item-1"})
	if err == nil {
		t.Fatal("panic発生時はエラーを返すべき")
	}
	if len(runner.finalizeCalls) != 1 {
		t.Fatalf("Finalize 呼び出し回数 = %d, want 1", len(runner.finalizeCalls))
	}
}

func TestHandleJob_DispatchErrorAtAttemptLimitFinalizes(t *testing.T) {
	runner := &mockRunner{
		dispatchFunc: func(ctx context.Context, itemID string) (Outcome, error) {
			return Outcome{}, errors.New("db unreachable")
		},
	}
	c := newTestConsumer(runner, &mockItemRepo{})

	err := c.HandleJob(context.Background(), queue.DispatchJob{ItemID: "item-1", Attempt: 3})
	if err == nil {
		t.Fatal("ディスパッチ失敗はエラーを返すべき")
	}
	if len(runner.finalizeCalls) != 1 {
		t.Fatalf("試行予算超過時は Finalize を呼ぶべき, calls = %d", len(runner.finalizeCalls))
	}
}

func TestHandleJob_DispatchErrorSchedulesRetry(t *testing.T) {
	// 試行予算内のインフラ障害は next_attempt_at を設定して再試行に回す
	runner := &mockRunner{
		dispatchFunc: func(ctx context.Context, itemID string) (Outcome, error) {
			return Outcome{}, errors.New("db unreachable")
		},
	}
	item := &model.ContentItem{ID: "item-1", Status: model.ItemStatusScheduled}
	var saved *model.ContentItem
	itemRepo := &mockItemRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.ContentItem, error) {
			return item, nil
		},
		updateDispatchStateFunc: func(ctx context.Context, item *model.ContentItem) error {
			saved = item
			return nil
		},
	}
	c := newTestConsumer(runner, itemRepo)

	err := c.HandleJob(context.Background(), queue.DispatchJob{ItemID: "item-1", Attempt: 1})
	if err == nil {
		t.Fatal("ディスパッチ失敗はエラーを返すべき")
	}
	if len(runner.finalizeCalls) != 0 {
		t.Error("予算内の失敗で Finalize を呼んではならない")
	}
	if saved == nil {
		t.Fatal("再試行予約を書き込むべき")
	}
	wantNext := testNow.Add(60 * time.Second)
	if saved.NextAttemptAt == nil || !saved.NextAttemptAt.Equal(wantNext) {
		t.Errorf("next_attempt_at = %v, want %v", saved.NextAttemptAt, wantNext)
	}
	if saved.AttemptCount != 0 {
		t.Error("インフラ障害では試行回数を増やしてはならない")
	}
}

func TestHandleJob_DispatchErrorRetryWriteFailureFinalizes(t *testing.T) {
	runner := &mockRunner{
		dispatchFunc: func(ctx context.Context, itemID string) (Outcome, error) {
			return Outcome{}, errors.New("db unreachable")
		},
	}
	itemRepo := &mockItemRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.ContentItem, error) {
			return &model.ContentItem{ID: "item-1", Status: model.ItemStatusScheduled}, nil
		},
		updateDispatchStateFunc: func(ctx context.Context, item *model.ContentItem) error {
			return errors.New("write failed")
		},
	}
	c := newTestConsumer(runner, itemRepo)

	_ = c.HandleJob(context.Background(), queue.DispatchJob{ItemID: "item-1", Attempt: 1})

	// 再試行も予約できない場合は scheduled のまま残さない
	if len(runner.finalizeCalls) != 1 {
		t.Fatalf("再試行予約失敗時は Finalize を呼ぶべき, calls = %d", len(runner.finalizeCalls))
	}
}

func TestHandleJob_DispatchErrorTerminalItemNotRescheduled(t *testing.T) {
	runner := &mockRunner{
		dispatchFunc: func(ctx context.Context, itemID string) (Outcome, error) {
			return Outcome{}, errors.New("db unreachable")
		},
	}
	updated := false
	itemRepo := &mockItemRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.ContentItem, error) {
			return &model.ContentItem{ID: "item-1", Status: model.ItemStatusPublished}, nil
		},
		updateDispatchStateFunc: func(ctx context.Context, item *model.ContentItem) error {
			updated = true
			return nil
		},
	}
	c := newTestConsumer(runner, itemRepo)

	_ = c.HandleJob(context.Background(), queue.DispatchJob{ItemID: "item-1", Attempt: 1})

	if updated {
		t.Error("終端済みアイテムを再予約してはならない")
	}
	if len(runner.finalizeCalls) != 0 {
		t.Error("終端済みアイテムに Finalize を呼んではならない")
	}
}
