// Package content extracts plain text from managed files so that the
// semantic layer can embed them. Extraction is keyed on file extension;
// unsupported extensions are rejected before any I/O happens.
package content

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog"
)

// Extractor converts a file on disk into embeddable text.
type Extractor interface {
	// Extract returns the textual content of the file at path.
	Extract(path string) (string, error)

	// Supports reports whether the extractor handles the extension.
	Supports(ext string) bool
}

// Registry dispatches extraction by lowercase file extension.
type Registry struct {
	extractors map[string]Extractor
	logger     zerolog.Logger
}

// NewRegistry builds a dispatch table for the given extensions. Known
// extensions get a concrete extractor; the returned registry rejects
// everything else.
func NewRegistry(extensions []string, logger zerolog.Logger) *Registry {
	r := &Registry{
		extractors: make(map[string]Extractor),
		logger:     logger,
	}

	plain := &PlainTextExtractor{}
	pdf := &PDFExtractor{}

	for _, ext := range extensions {
		ext = strings.ToLower(ext)
		switch {
		case plain.Supports(ext):
			r.extractors[ext] = plain
		case pdf.Supports(ext):
			r.extractors[ext] = pdf
		default:
			logger.Warn().Str("extension", ext).Msg("No extractor for configured extension")
		}
	}

	return r
}

// Supported reports whether path has an extension the registry can extract.
func (r *Registry) Supported(path string) bool {
	_, ok := r.extractors[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extract dispatches to the extractor registered for path's extension.
func (r *Registry) Extract(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	extractor, ok := r.extractors[ext]
	if !ok {
		return "", fmt.Errorf("unsupported extension %q", ext)
	}
	return extractor.Extract(path)
}

// PlainTextExtractor reads UTF-8 text files verbatim.
type PlainTextExtractor struct{}

// Supports reports whether ext is a plain-text extension.
func (e *PlainTextExtractor) Supports(ext string) bool {
	switch ext {
	case ".txt", ".md", ".markdown", ".text":
		return true
	}
	return false
}

// Extract returns the file's bytes as a string.
func (e *PlainTextExtractor) Extract(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// PDFExtractor pulls page text out of PDF documents.
type PDFExtractor struct{}

// Supports reports whether ext is a PDF extension.
func (e *PDFExtractor) Supports(ext string) bool {
	return ext == ".pdf"
}

// Extract writes per-page content to a scratch directory and
// concatenates the pages in order.
func (e *PDFExtractor) Extract(path string) (string, error) {
	outDir, err := os.MkdirTemp("", "semfs-pdf-*")
	if err != nil {
		return "", fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(path, outDir, nil, nil); err != nil {
		return "", fmt.Errorf("extract pdf %s: %w", path, err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", fmt.Errorf("read scratch dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(outDir, name))
		if err != nil {
			return "", fmt.Errorf("read page %s: %w", name, err)
		}
		sb.Write(data)
		sb.WriteByte('\n')
	}

	return sb.String(), nil
}
