package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gtplanner/gtplanner/pkg/protocol"
)

// Supported export formats. PDF and DOCX are declared for catalogue
// completeness but report a not-implemented failure per file.
const (
	FormatMarkdown = "md"
	FormatHTML     = "html"
	FormatText     = "txt"
	FormatPDF      = "pdf"
	FormatDOCX     = "docx"
)

// SupportedFormats lists every format a caller may request.
var SupportedFormats = []string{FormatMarkdown, FormatHTML, FormatText, FormatPDF, FormatDOCX}

// FileResult is the outcome of exporting one document into one format.
type FileResult struct {
	Format string `json:"format"`
	Path   string `json:"path,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (r FileResult) Success() bool { return r.Error == "" }

// Exporter writes documents to disk in the requested formats.
type Exporter struct {
	outputDir string
	now       func() time.Time
}

type Option func(*Exporter)

func WithOutputDir(dir string) Option {
	return func(e *Exporter) { e.outputDir = dir }
}

func withClock(now func() time.Time) Option {
	return func(e *Exporter) { e.now = now }
}

func NewExporter(opts ...Option) *Exporter {
	e := &Exporter{outputDir: "output", now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export writes one document in every requested format. Output files are
// named <basename>_<fmt>_<YYYYMMDD_HHMMSS>.<ext>; a failed format yields a
// FileResult with an error instead of aborting the rest.
func (e *Exporter) Export(doc protocol.Document, formats []string, outputDir string) ([]FileResult, error) {
	if doc.Content == "" {
		return nil, fmt.Errorf("document %s has no content", doc.Filename)
	}
	if outputDir == "" {
		outputDir = e.outputDir
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	stamp := e.now().Format("20060102_150405")
	basename := strings.TrimSuffix(doc.Filename, filepath.Ext(doc.Filename))
	if basename == "" {
		basename = "document"
	}

	results := make([]FileResult, 0, len(formats))
	for _, format := range formats {
		results = append(results, e.exportOne(doc, format, outputDir, basename, stamp))
	}
	return results, nil
}

func (e *Exporter) exportOne(doc protocol.Document, format, outputDir, basename, stamp string) FileResult {
	result := FileResult{Format: format}

	var (
		content string
		ext     string
	)
	switch format {
	case FormatMarkdown:
		content, ext = doc.Content, "md"
	case FormatHTML:
		html, err := MarkdownToHTML(basename, doc.Content)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		content, ext = html, "html"
	case FormatText:
		content, ext = MarkdownToText(doc.Content), "txt"
	case FormatPDF, FormatDOCX:
		result.Error = fmt.Sprintf("%s export is not implemented", format)
		return result
	default:
		result.Error = fmt.Sprintf("unsupported export format %q", format)
		return result
	}

	path := filepath.Join(outputDir, fmt.Sprintf("%s_%s_%s.%s", basename, format, stamp, ext))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		result.Error = fmt.Sprintf("failed to write %s: %v", path, err)
		return result
	}
	result.Path = path
	return result
}
