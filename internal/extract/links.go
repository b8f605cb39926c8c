// Package extract turns raw HTML into discovered links and validated
// articles. It owns no I/O; callers hand it documents already fetched.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extensions whose URLs never lead to article documents. Matched
// case-insensitively against the resolved path suffix.
var ignoredExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".svg", ".ico",
	".mp4", ".webm", ".avi", ".mov", ".mkv", ".mp3", ".wav", ".ogg",
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".zip", ".rar",
	".css", ".js",
}

// Links parses every anchor in html and returns the set of same-origin,
// non-asset document URLs, canonicalized to origin+path with query and
// fragment dropped. Malformed hrefs are skipped silently. The result is
// duplicate-free; order follows document order of first appearance.
func Links(html, originURL string) ([]string, error) {
	base, err := url.Parse(originURL)
	if err != nil {
		return nil, fmt.Errorf("parse origin %q: %w", originURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("origin %q has no scheme or host", originURL)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seen := make(map[string]struct{})
	var links []string

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		if !strings.EqualFold(resolved.Scheme, base.Scheme) ||
			!strings.EqualFold(resolved.Host, base.Host) {
			return
		}
		if hasIgnoredExtension(resolved.Path) {
			return
		}
		canonical := resolved.Scheme + "://" + resolved.Host + resolved.Path
		if _, dup := seen[canonical]; dup {
			return
		}
		seen[canonical] = struct{}{}
		links = append(links, canonical)
	})

	return links, nil
}

func hasIgnoredExtension(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range ignoredExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Origin reduces a URL to its scheme://host form for same-origin checks.
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no scheme or host", rawURL)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}
