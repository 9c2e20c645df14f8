package content

import (
	"context"
	"strings"
	"testing"

	"github.com/ksato/multipost/internal/model"
)

func TestResolve_PlainCaptionPassesThrough(t *testing.T) {
	r := NewResolver()

	payload, err := r.Resolve(context.Background(), &model.ContentItem{
		Caption: "新商品のお知らせです",
	})
	if err != nil {
		t.Fatalf("Resolve はエラーを返すべきではない: %v", err)
	}
	if payload.Caption != "新商品のお知らせです" {
		t.Errorf("Caption = %q", payload.Caption)
	}
}

func TestResolve_StripsHTMLTags(t *testing.T) {
	r := NewResolver()

	payload, err := r.Resolve(context.Background(), &model.ContentItem{
		Caption: "<p>今日の<strong>おすすめ</strong></p><p>詳細はリンクから</p>",
	})
	if err != nil {
		t.Fatalf("Resolve はエラーを返すべきではない: %v", err)
	}
	want := "今日のおすすめ\n詳細はリンクから"
	if payload.Caption != want {
		t.Errorf("Caption = %q, want %q", payload.Caption, want)
	}
}

func TestResolve_RemovesScriptContent(t *testing.T) {
	r := NewResolver()

	payload, err := r.Resolve(context.Background(), &model.ContentItem{
		Caption: `<p>安全なテキスト</p><script>alert("xss")</script>`,
	})
	if err != nil {
		t.Fatalf("Resolve はエラーを返すべきではない: %v", err)
	}
	if strings.Contains(payload.Caption, "alert") {
		t.Errorf("script の内容は除去すべき: %q", payload.Caption)
	}
}

func TestResolve_BrBecomesNewline(t *testing.T) {
	r := NewResolver()

	payload, _ := r.Resolve(context.Background(), &model.ContentItem{
		Caption: "1行目<br>2行目",
	})
	want := "1行目\n2行目"
	if payload.Caption != want {
		t.Errorf("Caption = %q, want %q", payload.Caption, want)
	}
}

func TestResolve_TruncatesLongCaption(t *testing.T) {
	r := NewResolver()

	payload, _ := r.Resolve(context.Background(), &model.ContentItem{
		Caption: strings.Repeat("a", 3000),
	})
	if len(payload.Caption) != maxCaptionLength {
		t.Errorf("キャプション長 = %d, want %d", len(payload.Caption), maxCaptionLength)
	}
}

func TestResolve_FiltersBlankMediaURLs(t *testing.T) {
	r := NewResolver()

	payload, _ := r.Resolve(context.Background(), &model.ContentItem{
		Caption:   "テスト",
		MediaURLs: []string{"https://cdn.example.com/a.jpg", "  ", ""},
	})
	if len(payload.MediaURLs) != 1 {
		t.Errorf("空のメディアURLは除外すべき, got %v", payload.MediaURLs)
	}
}

func TestResolve_EmptyItemYieldsEmptyPayload(t *testing.T) {
	r := NewResolver()

	payload, err := r.Resolve(context.Background(), &model.ContentItem{
		Caption:   "   ",
		MediaURLs: []string{""},
	})
	if err != nil {
		t.Fatalf("Resolve はエラーを返すべきではない: %v", err)
	}
	if !payload.IsEmpty() {
		t.Errorf("空のアイテムは空ペイロードを返すべき: %+v", payload)
	}
}

func TestResolve_WhitespaceNormalized(t *testing.T) {
	r := NewResolver()

	payload, _ := r.Resolve(context.Background(), &model.ContentItem{
		Caption: "<p>段落1</p><p></p><p>段落2</p>",
	})
	want := "段落1\n段落2"
	if payload.Caption != want {
		t.Errorf("連続する空白行は畳み込むべき: %q, want %q", payload.Caption, want)
	}
}
