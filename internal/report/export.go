package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/rodaine/table"

	"github.com/JakeFAU/linkcrawler/internal/crawler"
)

// Format names an output encoding.
type Format string

// Supported formats.
const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
	FormatTable Format = "table"
)

// ErrUnknownFormat is returned for unsupported format names.
var ErrUnknownFormat = errors.New("unknown report format")

// ParseFormat validates a format name; empty selects text.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatCSV, FormatTable:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// ContentType returns the MIME type used when storing a report.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatText:
		return "text/markdown; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Extension returns the file extension for f, without the dot.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatCSV:
		return "csv"
	case FormatText:
		return "md"
	default:
		return "txt"
	}
}

// Write encodes result to w in the requested format.
func Write(w io.Writer, format Format, result crawler.CrawlResult) error {
	switch format {
	case FormatText, "":
		_, err := io.WriteString(w, Render(result))
		if err != nil {
			return fmt.Errorf("write text report: %w", err)
		}
		return nil
	case FormatJSON:
		return writeJSON(w, result)
	case FormatCSV:
		return writeCSV(w, result)
	case FormatTable:
		writeTable(w, result)
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Bytes renders result into memory.
func Bytes(format Format, result crawler.CrawlResult) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, format, result); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(w io.Writer, result crawler.CrawlResult) error {
	if result.Broken == nil {
		result.Broken = []crawler.ResourceRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode json report: %w", err)
	}
	return nil
}

// csvRow is one broken resource in the CSV export.
type csvRow struct {
	URL     string `csv:"url"`
	Type    string `csv:"type"`
	Status  string `csv:"status"`
	Error   string `csv:"error"`
	FoundOn string `csv:"found_on"`
}

func writeCSV(w io.Writer, result crawler.CrawlResult) error {
	rows := make([]*csvRow, 0, len(result.Broken))
	for _, rec := range result.Broken {
		rows = append(rows, &csvRow{
			URL:     rec.URL,
			Type:    string(rec.Type),
			Status:  statusText(rec),
			Error:   orNone(rec.Error),
			FoundOn: orNone(rec.FoundOn),
		})
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("encode csv report: %w", err)
	}
	return nil
}

func writeTable(w io.Writer, result crawler.CrawlResult) {
	tbl := table.New("Type", "URL", "Status", "Error", "Found On").WithWriter(w)
	grouped := result.BrokenByType()
	for _, rt := range crawler.ResourceTypes() {
		for _, rec := range grouped[rt] {
			tbl.AddRow(rt.Title(), rec.URL, statusText(rec), orNone(rec.Error), orNone(rec.FoundOn))
		}
	}
	tbl.Print()

	stats := result.Stats
	summary := table.New("Crawled", "Resources", "Broken", "Broken %", "Elapsed (s)").WithWriter(w)
	summary.AddRow(
		stats.TotalURLsCrawled,
		stats.TotalResources,
		stats.BrokenResources,
		fmt.Sprintf("%.2f", stats.BrokenPercentage),
		fmt.Sprintf("%.3f", stats.ElapsedSeconds),
	)
	_, _ = io.WriteString(w, "\n")
	summary.Print()
}
