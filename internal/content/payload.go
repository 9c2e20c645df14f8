// Package content はコンテンツアイテムから投稿ペイロードを解決する機能を提供する。
//
// ソース由来のキャプションはHTMLを含むことがあるため、bluemondayの
// 許可リストポリシーで危険なマークアップを除去した上で、プレーンテキストへ
// 変換してから投稿に使用する。
package content

import (
	"context"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/ksato/multipost/internal/model"
)

// maxCaptionLength はキャプションの最大長。超過分は切り詰める。
const maxCaptionLength = 2200

// Resolver はコンテンツアイテムから投稿ペイロードを生成する。
// bluemondayのポリシーを保持し、スレッドセーフに変換処理を行う。
type Resolver struct {
	policy *bluemonday.Policy
}

// NewResolver はResolverを生成する。
// ポリシーはテキスト抽出の前処理としてscript/iframe/style等を除去し、
// 段落・改行系のタグのみを残す。
func NewResolver() *Resolver {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "ul", "ol", "li", "blockquote", "strong", "em")

	return &Resolver{policy: p}
}

// Resolve はアイテムから投稿ペイロードを生成する。
// キャプションはサニタイズとテキスト抽出を経たプレーンテキスト。
// キャプションとメディアの両方が空のペイロードは呼び出し側でスキップ扱いとなる。
func (r *Resolver) Resolve(ctx context.Context, item *model.ContentItem) (model.PostPayload, error) {
	caption := r.toPlainText(item.Caption)
	if len(caption) > maxCaptionLength {
		caption = caption[:maxCaptionLength]
	}

	mediaURLs := make([]string, 0, len(item.MediaURLs))
	for _, u := range item.MediaURLs {
		if strings.TrimSpace(u) != "" {
			mediaURLs = append(mediaURLs, u)
		}
	}
	if len(mediaURLs) == 0 {
		mediaURLs = nil
	}

	return model.PostPayload{
		Caption:   caption,
		MediaURLs: mediaURLs,
	}, nil
}

// toPlainText はHTMLを含みうるキャプションをプレーンテキストへ変換する。
// サニタイズ後にテキストノードを収集し、ブロック要素の境界を改行として扱う。
func (r *Resolver) toPlainText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	// HTMLタグを含まないキャプションはそのまま返す
	if !strings.ContainsAny(trimmed, "<&") {
		return trimmed
	}

	sanitized := r.policy.Sanitize(trimmed)

	doc, err := html.Parse(strings.NewReader(sanitized))
	if err != nil {
		// パース不能な場合はサニタイズ結果をそのまま使う
		return strings.TrimSpace(sanitized)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		if n.Type == html.ElementNode && isBlockBoundary(n.Data) {
			b.WriteString("\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && n.Data == "p" {
			b.WriteString("\n")
		}
	}
	walk(doc)

	return normalizeWhitespace(b.String())
}

// isBlockBoundary はテキスト抽出時に改行として扱うタグかを返す。
func isBlockBoundary(tag string) bool {
	switch tag {
	case "br", "li", "blockquote":
		return true
	}
	return false
}

// normalizeWhitespace は連続する空白行を1つの改行へ畳み込み、前後の空白を除去する。
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
