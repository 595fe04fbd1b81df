package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkcrawler/internal/crawler"
)

const samplePage = `<!doctype html>
<html>
<head>
  <link rel="stylesheet" href="/static/site.css">
  <link rel="icon" href="/favicon.ico">
  <link rel="Alternate Stylesheet" href="alt.css">
  <script src="https://cdn.example.net/app.js"></script>
  <script>inline()</script>
</head>
<body>
  <a href="/about#team">About</a>
  <a href="/about">About again</a>
  <a href="mailto:hi@example.com">Mail</a>
  <a href="javascript:void(0)">JS</a>
  <a href="#top">Top</a>
  <a href="">Empty</a>
  <a href="https://other.org/page?b=2&a=1">Other</a>
  <img src="img/logo.png">
  <img alt="no src">
</body>
</html>`

func TestExtractFindsSupportedReferences(t *testing.T) {
	t.Parallel()

	refs := New().Extract([]byte(samplePage), "https://example.com/docs/")
	assert.Equal(t, []crawler.Reference{
		{URL: "https://example.com/static/site.css", Type: crawler.ResourceStylesheet},
		{URL: "https://example.com/docs/alt.css", Type: crawler.ResourceStylesheet},
		{URL: "https://cdn.example.net/app.js", Type: crawler.ResourceScript},
		{URL: "https://example.com/about", Type: crawler.ResourceLink},
		{URL: "https://other.org/page?a=1&b=2", Type: crawler.ResourceLink},
		{URL: "https://example.com/docs/img/logo.png", Type: crawler.ResourceImage},
	}, refs)
}

func TestExtractHonorsBaseHref(t *testing.T) {
	t.Parallel()

	page := `<html><head><base href="https://static.example.com/v2/"></head>
<body><img src="a.png"><a href="/root">r</a></body></html>`
	refs := New().Extract([]byte(page), "https://example.com/")
	require.Len(t, refs, 2)
	assert.Equal(t, "https://static.example.com/v2/a.png", refs[0].URL)
	assert.Equal(t, "https://static.example.com/root", refs[1].URL)
}

func TestExtractMalformedMarkup(t *testing.T) {
	t.Parallel()

	refs := New().Extract([]byte(`<html><body><a href="/ok">ok<div><img src="/x.png"`), "https://example.com/")
	require.NotEmpty(t, refs)
	assert.Equal(t, "https://example.com/ok", refs[0].URL)

	assert.Empty(t, New().Extract(nil, "https://example.com/"))
	assert.Empty(t, New().Extract([]byte("plain text, no tags"), "https://example.com/"))
}

// TestExtractKeepsEachTypeOfAURL reports a URL once per resource type.
func TestExtractKeepsEachTypeOfAURL(t *testing.T) {
	t.Parallel()

	page := `<html><body><img src="/gallery"><a href="/gallery">Gallery</a><a href="/gallery">Again</a></body></html>`
	refs := New().Extract([]byte(page), "https://example.com/")
	assert.Equal(t, []crawler.Reference{
		{URL: "https://example.com/gallery", Type: crawler.ResourceImage},
		{URL: "https://example.com/gallery", Type: crawler.ResourceLink},
	}, refs)
}
