package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkcrawler/internal/crawler"
)

func sampleResult() crawler.CrawlResult {
	return crawler.CrawlResult{
		BaseURL: "https://example.com/",
		Broken: []crawler.ResourceRecord{
			{Seq: 2, URL: "https://example.com/broken-page", Type: crawler.ResourceLink, FoundOn: "https://example.com/", Status: 404, Broken: true},
			{Seq: 5, URL: "https://cdn.example.net/pic.jpg", Type: crawler.ResourceImage, FoundOn: "https://example.com/", Error: "context deadline exceeded", Broken: true},
			{Seq: 7, URL: "https://example.com/another-broken-page", Type: crawler.ResourceLink, FoundOn: "https://example.com/about", Status: 500, Broken: true},
		},
		Stats: crawler.Statistics{
			TotalURLsCrawled: 2,
			TotalResources:   6,
			BrokenResources:  3,
			BrokenPercentage: 50,
			ResourceTypes:    map[crawler.ResourceType]int{crawler.ResourceLink: 4, crawler.ResourceImage: 2},
			BrokenByType:     map[crawler.ResourceType]int{crawler.ResourceLink: 2, crawler.ResourceImage: 1},
			ElapsedSeconds:   1.5,
			RequestCount:     8,
			CacheHits:        2,
			Performance: crawler.Performance{
				URLsPerSecond:     1.3333,
				RequestsPerSecond: 5.3333,
				AvgFetchTime:      0.12,
				CacheHitRatio:     0.2,
			},
		},
	}
}

func TestRenderGroupsByTypeInOrder(t *testing.T) {
	t.Parallel()

	out := Render(sampleResult())
	require.True(t, strings.HasPrefix(out, "# Broken Resources Report\n"))

	linkIdx := strings.Index(out, "## Link (2)")
	imageIdx := strings.Index(out, "## Image (1)")
	statsIdx := strings.Index(out, "## Statistics")
	require.Positive(t, linkIdx)
	require.Greater(t, imageIdx, linkIdx)
	require.Greater(t, statsIdx, imageIdx)

	assert.Contains(t, out, "- https://example.com/broken-page\n  Status: 404\n  Error: none\n  Found on: https://example.com/\n")
	assert.Contains(t, out, "- https://cdn.example.net/pic.jpg\n  Status: none\n  Error: context deadline exceeded\n")
	assert.Less(t, strings.Index(out, "broken-page"), strings.Index(out, "another-broken-page"))
	assert.Contains(t, out, "- Broken resources: 3 (50.00%)")
	assert.Contains(t, out, "- Link: 4 checked, 2 broken")
	assert.Contains(t, out, "- Cache hits: 2 (20.0%)")
	assert.NotContains(t, out, "Stylesheet")
}

func TestRenderIsDeterministic(t *testing.T) {
	t.Parallel()

	result := sampleResult()
	require.Equal(t, Render(result), Render(result))
}

func TestRenderEmpty(t *testing.T) {
	t.Parallel()

	out := Render(crawler.CrawlResult{Incomplete: true})
	assert.Contains(t, out, "No broken resources found.")
	assert.Contains(t, out, "Crawl incomplete")
	assert.Contains(t, out, "- Total URLs crawled: 0")
}

func TestRenderMissingProvenance(t *testing.T) {
	t.Parallel()

	out := Render(crawler.CrawlResult{Broken: []crawler.ResourceRecord{
		{URL: "https://example.com/", Type: crawler.ResourceLink, Error: "connection refused", Broken: true},
	}})
	assert.Contains(t, out, "  Found on: none\n")
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]Format{"": FormatText, "TEXT": FormatText, "json": FormatJSON, " csv ": FormatCSV, "table": FormatTable} {
		got, err := ParseFormat(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	require.ErrorIs(t, err, ErrUnknownFormat)

	assert.Equal(t, "application/json", FormatJSON.ContentType())
	assert.Equal(t, "md", FormatText.Extension())
	assert.Equal(t, "csv", FormatCSV.Extension())
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	data, err := Bytes(FormatJSON, sampleResult())
	require.NoError(t, err)

	var decoded struct {
		BaseURL string `json:"base_url"`
		Broken  []struct {
			URL     string `json:"url"`
			Type    string `json:"type"`
			Status  int    `json:"status"`
			FoundOn string `json:"found_on"`
		} `json:"broken"`
		Stats struct {
			BrokenResources int            `json:"broken_resources"`
			BrokenByType    map[string]int `json:"broken_by_type"`
		} `json:"statistics"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Broken, 3)
	assert.Equal(t, "link", decoded.Broken[0].Type)
	assert.Equal(t, 404, decoded.Broken[0].Status)
	assert.Equal(t, 3, decoded.Stats.BrokenResources)
	assert.Equal(t, 2, decoded.Stats.BrokenByType["link"])

	empty, err := Bytes(FormatJSON, crawler.CrawlResult{})
	require.NoError(t, err)
	assert.Contains(t, string(empty), `"broken": []`)
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	data, err := Bytes(FormatCSV, sampleResult())
	require.NoError(t, err)

	var rows []*csvRow
	require.NoError(t, gocsv.UnmarshalBytes(data, &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, "https://example.com/broken-page", rows[0].URL)
	assert.Equal(t, "404", rows[0].Status)
	assert.Equal(t, "none", rows[1].Status)
	assert.Equal(t, "image", rows[1].Type)
	assert.True(t, strings.HasPrefix(string(data), "url,type,status,error,found_on"))
}

func TestWriteTable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatTable, sampleResult()))
	out := buf.String()
	assert.Contains(t, out, "Found On")
	assert.Contains(t, out, "https://example.com/another-broken-page")
	assert.Contains(t, out, "Broken %")
	assert.Less(t, strings.Index(out, "another-broken-page"), strings.Index(out, "pic.jpg"), "links are listed before images")
}

func TestWriteUnknownFormat(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, Write(&bytes.Buffer{}, Format("xml"), sampleResult()), ErrUnknownFormat)
}
