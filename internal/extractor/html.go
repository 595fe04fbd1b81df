// Package extractor finds resource references in HTML documents.
package extractor

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/linkcrawler/internal/crawler"
)

// selector pairs a CSS selector with the attribute holding the reference.
type selector struct {
	query string
	attr  string
	kind  crawler.ResourceType
}

var selectors = []selector{
	{query: "a[href]", attr: "href", kind: crawler.ResourceLink},
	{query: "img[src]", attr: "src", kind: crawler.ResourceImage},
	{query: "link[href]", attr: "href", kind: crawler.ResourceStylesheet},
	{query: "script[src]", attr: "src", kind: crawler.ResourceScript},
}

// HTMLExtractor implements crawler.Extractor with goquery.
type HTMLExtractor struct{}

// New returns an HTMLExtractor.
func New() *HTMLExtractor {
	return &HTMLExtractor{}
}

// Extract returns every supported reference on the page resolved against
// pageURL (or the document's <base href>). Each (URL, type) pair appears
// once, so an image that is also linked yields both references; document
// order is preserved. Pseudo-scheme
// and fragment-only references are dropped.
func (e *HTMLExtractor) Extract(body []byte, pageURL string) []crawler.Reference {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	base := pageURL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := crawler.ResolveReference(pageURL, href); err == nil {
			base = resolved
		}
	}

	seen := make(map[string]struct{})
	var refs []crawler.Reference
	doc.Find("a[href], img[src], link[href], script[src]").Each(func(_ int, node *goquery.Selection) {
		for _, sel := range selectors {
			if !node.Is(sel.query) {
				continue
			}
			if sel.kind == crawler.ResourceStylesheet && !isStylesheet(node) {
				return
			}
			raw, _ := node.Attr(sel.attr)
			if crawler.IsSkippableHref(raw) {
				return
			}
			resolved, err := crawler.ResolveReference(base, raw)
			if err != nil || !crawler.IsSupportedScheme(resolved) {
				return
			}
			key := string(sel.kind) + " " + resolved
			if _, dup := seen[key]; dup {
				return
			}
			seen[key] = struct{}{}
			refs = append(refs, crawler.Reference{URL: resolved, Type: sel.kind})
			return
		}
	})
	return refs
}

func isStylesheet(node *goquery.Selection) bool {
	rel, _ := node.Attr("rel")
	for _, token := range strings.Fields(strings.ToLower(rel)) {
		if token == "stylesheet" {
			return true
		}
	}
	return false
}
