package extract

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/newsharvest/crawld/internal/crawler"
)

// longBody produces n space-separated words of filler text.
func longBody(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("word%d", i)
	}
	return strings.Join(words, " ")
}

func articlePage(lang, body string) string {
	return fmt.Sprintf(`<html lang=%q><head>
		<title>Sample Story</title>
		<meta name="description" content="A short description">
		<meta property="og:image" content="https://example.com/cover.png">
		<meta name="author" content="Jane Doe">
		<meta property="article:published_time" content="2024-03-05T10:30:00Z">
	</head><body><div class="article-body">%s</div></body></html>`, lang, body)
}

func TestArticleHappyPath(t *testing.T) {
	t.Parallel()

	page := articlePage("en-US", "<p>"+longBody(250)+"</p>")
	article, err := Article(page, []string{".article-body"})
	require.NoError(t, err)

	require.Equal(t, "Sample Story", article.Title)
	require.Equal(t, "A short description", article.Description)
	require.Equal(t, "https://example.com/cover.png", article.Image)
	require.Equal(t, "Jane Doe", article.Author)
	require.NotNil(t, article.PublishedDate)
	require.Equal(t, time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC), article.PublishedDate.UTC())
	require.GreaterOrEqual(t, len(strings.Fields(article.Content)), 250)
}

func TestArticleInsufficientContent(t *testing.T) {
	t.Parallel()

	page := articlePage("en", "<p>"+longBody(50)+"</p>")
	_, err := Article(page, []string{".article-body"})
	require.ErrorIs(t, err, crawler.ErrInsufficientContent)
}

func TestArticleNotEnglish(t *testing.T) {
	t.Parallel()

	for _, lang := range []string{"", "fr", "de-DE"} {
		page := articlePage(lang, "<p>"+longBody(300)+"</p>")
		_, err := Article(page, []string{".article-body"})
		require.ErrorIs(t, err, crawler.ErrNotEnglish, "lang=%q", lang)
	}
}

func TestArticleWordCountCheckedBeforeLanguage(t *testing.T) {
	t.Parallel()

	page := articlePage("fr", "<p>"+longBody(10)+"</p>")
	_, err := Article(page, []string{".article-body"})
	require.ErrorIs(t, err, crawler.ErrInsufficientContent)
}

func TestArticleSkipsCaptions(t *testing.T) {
	t.Parallel()

	body := "<p>" + longBody(220) + `</p>
		<figure>
			<img src="https://example.com/photo.jpg">
			<figcaption>CAPTIONTEXT that must never appear</figcaption>
		</figure>`
	page := articlePage("en", body)

	article, err := Article(page, []string{".article-body"})
	require.NoError(t, err)
	require.NotContains(t, article.Content, "CAPTIONTEXT")
	require.Contains(t, article.Content, "https://example.com/photo.jpg")
}

func TestArticleImageDataSrcFallback(t *testing.T) {
	t.Parallel()

	body := "<p>" + longBody(220) + `</p><img data-src="https://example.com/lazy.png">`
	page := articlePage("en", body)

	article, err := Article(page, []string{".article-body"})
	require.NoError(t, err)
	require.Contains(t, article.Content, "https://example.com/lazy.png")
}

func TestArticleStripsNonASCIIAndFurniture(t *testing.T) {
	t.Parallel()

	body := `<header>site chrome</header>
		<script>var x = "SCRIPTTEXT";</script>
		<p>café résumé ` + longBody(210) + `</p>
		<aside>RELATEDLINKS</aside>`
	body = strings.NewReplacer(`é`, "é").Replace(body)
	page := articlePage("en", body)

	article, err := Article(page, []string{".article-body"})
	require.NoError(t, err)
	require.NotContains(t, article.Content, "SCRIPTTEXT")
	require.NotContains(t, article.Content, "RELATEDLINKS")
	require.NotContains(t, article.Content, "site chrome")
	require.Contains(t, article.Content, "caf rsum")
}

func TestArticleConcatenatesSelectorsInOrder(t *testing.T) {
	t.Parallel()

	page := fmt.Sprintf(`<html lang="en"><head><title>T</title></head><body>
		<div id="second">SECONDBLOCK %s</div>
		<div id="first">FIRSTBLOCK %s</div>
	</body></html>`, longBody(120), longBody(120))

	article, err := Article(page, []string{"#first", "#second"})
	require.NoError(t, err)
	first := strings.Index(article.Content, "FIRSTBLOCK")
	second := strings.Index(article.Content, "SECONDBLOCK")
	require.Greater(t, first, -1)
	require.Greater(t, second, -1)
	require.Less(t, first, second)
}

func TestArticleUnparseableDateYieldsNil(t *testing.T) {
	t.Parallel()

	page := fmt.Sprintf(`<html lang="en"><head><title>T</title>
		<meta property="article:published_time" content="sometime last week">
	</head><body><div id="c">%s</div></body></html>`, longBody(210))

	article, err := Article(page, []string{"#c"})
	require.NoError(t, err)
	require.Nil(t, article.PublishedDate)
}

func TestArticleTimeElementFallback(t *testing.T) {
	t.Parallel()

	page := fmt.Sprintf(`<html lang="en"><head><title>T</title></head><body>
		<time datetime="2023-11-02">Nov 2</time>
		<div id="c">%s</div></body></html>`, longBody(210))

	article, err := Article(page, []string{"#c"})
	require.NoError(t, err)
	require.NotNil(t, article.PublishedDate)
	require.Equal(t, 2023, article.PublishedDate.Year())
}
