package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/newsharvest/crawld/internal/crawler"
)

// minWordCount is the smallest body accepted as a real article.
const minWordCount = 200

// Subtrees stripped from every content region before traversal. Scoped to
// the selector's root, not the whole document.
const furnitureSelector = "script, style, noscript, iframe, form, header, footer, aside"

// Article extracts and validates article content from html using the given
// content-region selectors, applied in order with results concatenated.
// Image nodes contribute their src (or data-src) as literal text tokens;
// figcaption subtrees are skipped entirely; every other text node
// contributes its trimmed text, filtered to ASCII and whitespace-collapsed.
// The pipeline only accepts English-language content.
//
// Failure modes are crawler.ErrInsufficientContent (fewer than 200 words)
// and crawler.ErrNotEnglish (root lang attribute absent or not en*), checked
// in that order. Metadata extraction is best-effort and never fails.
func Article(rawHTML string, selectors []string) (crawler.Article, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return crawler.Article{}, fmt.Errorf("parse html: %w", err)
	}

	var tokens []string
	for _, selector := range selectors {
		root := doc.Find(selector)
		root.Find(furnitureSelector).Remove()
		root.Each(func(_ int, sel *goquery.Selection) {
			for _, node := range sel.Nodes {
				for child := node.FirstChild; child != nil; child = child.NextSibling {
					tokens = collectText(child, tokens)
				}
			}
		})
	}
	content := strings.Join(tokens, " ")

	if words := len(strings.Fields(content)); words < minWordCount {
		return crawler.Article{}, fmt.Errorf("%w: %d words", crawler.ErrInsufficientContent, words)
	}
	lang, _ := doc.Find("html").Attr("lang")
	if !strings.HasPrefix(lang, "en") {
		return crawler.Article{}, fmt.Errorf("%w: lang=%q", crawler.ErrNotEnglish, lang)
	}

	article := crawler.Article{
		Title:         asciiClean(doc.Find("title").First().Text()),
		Content:       content,
		Description:   asciiClean(firstMetaContent(doc, `meta[name="description"]`, `meta[property="og:description"]`)),
		Image:         firstMetaContent(doc, `meta[property="og:image"]`),
		Author:        asciiClean(firstMetaContent(doc, `meta[name="author"]`)),
		PublishedDate: publishedDate(doc),
	}
	return article, nil
}

// collectText appends the text tokens contributed by node and its subtree.
func collectText(node *html.Node, tokens []string) []string {
	switch {
	case node.Type == html.TextNode:
		if text := asciiClean(node.Data); text != "" {
			tokens = append(tokens, text)
		}
	case node.Type == html.ElementNode && node.Data == "img":
		src := nodeAttr(node, "src")
		if src == "" {
			src = nodeAttr(node, "data-src")
		}
		if src != "" {
			tokens = append(tokens, src)
		}
	case node.Type == html.ElementNode && node.Data == "figcaption":
		// Caption text must not pollute the body.
	default:
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			tokens = collectText(child, tokens)
		}
	}
	return tokens
}

// asciiClean drops non-ASCII runes and collapses runs of whitespace.
func asciiClean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func nodeAttr(node *html.Node, key string) string {
	for _, attr := range node.Attr {
		if attr.Key == key {
			return strings.TrimSpace(attr.Val)
		}
	}
	return ""
}

func firstMetaContent(doc *goquery.Document, selectors ...string) string {
	for _, selector := range selectors {
		if content, ok := doc.Find(selector).First().Attr("content"); ok {
			if trimmed := strings.TrimSpace(content); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

var dateLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123,
	time.RFC1123Z,
}

func publishedDate(doc *goquery.Document) *time.Time {
	raw := firstMetaContent(doc, `meta[property="article:published_time"]`)
	if raw == "" {
		raw, _ = doc.Find("time[datetime]").First().Attr("datetime")
		raw = strings.TrimSpace(raw)
	}
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return &ts
		}
	}
	// Unparseable dates yield no value, not an error.
	return nil
}
