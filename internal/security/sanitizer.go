// Package security はユーザー入力のサニタイズを提供する。
//
// 表示名などのプレーンテキスト項目はタグをすべて除去し、
// ワークショップ説明文は許可リストベースのポリシーで安全なタグのみを通過させる。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はユーザー入力テキストのサニタイズ機能のインターフェース。
type Sanitizer interface {
	// PlainText はすべてのHTMLタグを除去したプレーンテキストを返す。
	// 前後の空白は取り除く。
	PlainText(s string) string

	// RichText は許可タグ（p, br, a, ul, ol, li, blockquote, pre, code, strong, em, img）のみを残す。
	// script, iframe, styleタグおよびon*イベント属性は除去される。
	// imgのsrcはhttpsのみ許可し、aタグにはtarget="_blank"とrel="noopener noreferrer"を付与する。
	RichText(s string) string
}

// textSanitizer はSanitizerの実装。bluemondayのポリシーはスレッドセーフ。
type textSanitizer struct {
	strict *bluemonday.Policy
	rich   *bluemonday.Policy
}

// NewSanitizer はSanitizerを生成する。
func NewSanitizer() Sanitizer {
	return &textSanitizer{
		strict: bluemonday.StrictPolicy(),
		rich:   newRichTextPolicy(),
	}
}

func newRichTextPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src").OnElements("img")
	p.AllowAttrs("alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return true
	})

	return p
}

// PlainText はタグを除去したプレーンテキストを返す。
// StrictPolicyがエスケープした実体参照は元の文字に戻す。
func (s *textSanitizer) PlainText(in string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(in)))
}

// RichText は許可リストに含まれるタグのみを残したHTMLを返す。
func (s *textSanitizer) RichText(in string) string {
	return s.rich.Sanitize(in)
}
