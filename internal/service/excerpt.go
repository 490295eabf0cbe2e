package service

import (
	"bytes"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	excerptEngine = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify, extension.Table),
	)
	// StrictPolicy 去掉全部标签，只保留文本
	excerptPolicy = bluemonday.StrictPolicy()
)

// Excerpt renders markdown to plain text and cuts it to at most limit runes,
// appending "…" when something was dropped. limit <= 0 keeps the full text.
func Excerpt(markdown string, limit int) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}

	var buf bytes.Buffer
	text := markdown
	if err := excerptEngine.Convert([]byte(markdown), &buf); err == nil {
		text = buf.String()
	}

	text = html.UnescapeString(excerptPolicy.Sanitize(text))
	text = strings.Join(strings.Fields(text), " ")

	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return strings.TrimRight(string(runes[:limit]), " ") + "…"
}
