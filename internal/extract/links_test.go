package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLinksSameOriginOnly(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<a href="https://example.com/page1">one</a>
		<a href="/page2">two</a>
		<a href="https://other.com/elsewhere">offsite</a>
		<a href="https://example.com/page1#section">dup with fragment</a>
	</body></html>`

	links, err := Links(html, "https://example.com")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		"https://example.com/page1",
		"https://example.com/page2",
	}, links)
}

func TestLinksSkipsAssetExtensions(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<a href="/photo.JPG">image</a>
		<a href="/bundle.js">script</a>
		<a href="/report.pdf">document</a>
		<a href="/video.avi">video</a>
		<a href="/page">page</a>
	</body></html>`

	links, err := Links(html, "https://example.com")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/page"}, links)
}

func TestLinksSkipsMalformedHrefs(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<a href="javascript:void(0)">js</a>
		<a href="mailto:user@example.com">mail</a>
		<a href="   ">blank</a>
		<a href="%zz">bad escape</a>
	</body></html>`

	links, err := Links(html, "https://example.com")
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestLinksDropsQueryAndDeduplicates(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<a href="/story?utm_source=feed">tracked</a>
		<a href="/story">plain</a>
		<a href="/story#comments">anchored</a>
	</body></html>`

	links, err := Links(html, "https://example.com")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/story"}, links)
}

func TestLinksRejectsBadOrigin(t *testing.T) {
	t.Parallel()

	_, err := Links("<html></html>", "not a url")
	require.Error(t, err)
}

func TestOrigin(t *testing.T) {
	t.Parallel()

	origin, err := Origin("https://Example.COM/some/path?q=1")
	require.NoError(t, err)
	require.Equal(t, "https://example.com", origin)

	_, err = Origin("/relative/only")
	require.Error(t, err)
}
