// Package extract provides text extraction from various document formats.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/kiku/internal/models"
)

// ExtractedText is the normalized text of one document plus what was learned while reading it.
type ExtractedText struct {
	Text   string
	Format models.Format
	// Pages is the PDF page count (or sheet count for xlsx); 0 when the format has no pages.
	Pages      int
	Paragraphs int
	// Encoding is set for plain text input (e.g. "utf-8", "windows-1252").
	Encoding string
}

// Extractor extracts plain text from document files.
type Extractor struct {
	maxBytes int64
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxBytes rejects inputs larger than n bytes. Zero means no limit.
func WithMaxBytes(n int64) Option {
	return func(e *Extractor) { e.maxBytes = n }
}

// NewExtractor returns a new Extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Supported reports whether f has an extractor.
func Supported(f models.Format) bool {
	switch f {
	case models.FormatPDF, models.FormatDOCX, models.FormatText, models.FormatMarkdown,
		models.FormatHTML, models.FormatXLSX, models.FormatRTF, models.FormatODT:
		return true
	}
	return false
}

// Extract reads the file at path and returns its normalized text.
// The format is taken from the file extension.
func (e *Extractor) Extract(path string) (*ExtractedText, error) {
	name := filepath.Base(path)
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &models.ExtractionError{Filename: name, Format: models.FormatFromFilename(name), Err: err}
	}
	return e.ExtractBytes(name, content, "")
}

// ExtractBytes extracts text from content. format may be empty, in which case it is
// derived from filename. Every failure is returned as *models.ExtractionError.
func (e *Extractor) ExtractBytes(filename string, content []byte, format models.Format) (*ExtractedText, error) {
	if format == "" {
		format = models.FormatFromFilename(filename)
	}
	fail := func(err error) (*ExtractedText, error) {
		return nil, &models.ExtractionError{Filename: filename, Format: format, Err: err}
	}

	if format == "" {
		return fail(fmt.Errorf("%w: unknown extension %q", models.ErrUnsupportedFormat, filepath.Ext(filename)))
	}
	if !Supported(format) {
		return fail(fmt.Errorf("%w: %s", models.ErrUnsupportedFormat, format))
	}
	if e.maxBytes > 0 && int64(len(content)) > e.maxBytes {
		return fail(fmt.Errorf("document is %d bytes, limit is %d", len(content), e.maxBytes))
	}
	if len(content) == 0 {
		return fail(errors.New("empty file"))
	}

	out := &ExtractedText{Format: format}
	var (
		raw string
		err error
	)
	switch format {
	case models.FormatPDF:
		raw, out.Pages, err = extractPDF(content)
	case models.FormatDOCX:
		raw, err = extractDOCX(content)
	case models.FormatXLSX:
		raw, out.Pages, err = extractExcel(content)
	case models.FormatMarkdown:
		var enc string
		raw, enc = decodeText(content)
		out.Encoding = enc
		raw, err = extractMarkdown([]byte(raw))
	case models.FormatHTML:
		raw, err = extractHTML(content)
	case models.FormatRTF, models.FormatODT:
		raw, err = extractWithCat(content)
	default:
		raw, out.Encoding = decodeText(content)
	}
	if err != nil {
		return fail(err)
	}

	out.Text = Normalize(raw)
	if out.Text == "" {
		return fail(errors.New("no text content found"))
	}
	out.Paragraphs = countParagraphs(out.Text)
	return out, nil
}

func countParagraphs(s string) int {
	n := 0
	for _, p := range strings.Split(s, "\n\n") {
		if strings.TrimSpace(p) != "" {
			n++
		}
	}
	return n
}
