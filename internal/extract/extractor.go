// Package extract turns source documents into plain text.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"wraith/internal/domain"
)

// DefaultExtensions are the file types ingested when none are configured.
var DefaultExtensions = []string{".pdf", ".txt", ".md"}

type extractFunc func(content []byte) (string, error)

var extractors = map[string]extractFunc{
	".pdf": extractPDF,
	".txt": extractPlain,
	".md":  extractPlain,
}

// Extractor dispatches on the lower-cased file extension.
type Extractor struct {
	byExt map[string]extractFunc
}

var _ domain.DocumentSource = (*Extractor)(nil)

// NewExtractor returns an Extractor limited to exts. Unknown extensions are an error.
// With no arguments DefaultExtensions are used.
func NewExtractor(exts ...string) (*Extractor, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	e := &Extractor{byExt: make(map[string]extractFunc, len(exts))}
	for _, ext := range exts {
		ext = normalizeExt(ext)
		fn, ok := extractors[ext]
		if !ok {
			return nil, fmt.Errorf("unsupported extension %q", ext)
		}
		e.byExt[ext] = fn
	}
	return e, nil
}

// Extensions returns the enabled extensions, sorted.
func (e *Extractor) Extensions() []string {
	out := make([]string, 0, len(e.byExt))
	for ext := range e.byExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

func (e *Extractor) Supports(path string) bool {
	_, ok := e.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(path))
	fn, ok := e.byExt[ext]
	if !ok {
		return "", domain.Invalidf("unsupported file type %q", ext)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return fn(content)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
