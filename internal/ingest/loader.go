// Package ingest enumerates a corpus directory and turns its files into
// documents made of ordered text pages.
package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"taxrag/internal/domain"
)

var (
	// ErrCorpusNotFound means the corpus location does not exist.
	ErrCorpusNotFound = errors.New("corpus not found")

	// ErrCorpusEmpty means the corpus holds no document of a supported type.
	ErrCorpusEmpty = errors.New("corpus empty")
)

// PageReader extracts the ordered text pages of one file.
type PageReader interface {
	ReadPages(ctx context.Context, path string) ([]string, error)
}

// DefaultExtensions are the file types loaded when none are configured.
var DefaultExtensions = []string{".pdf", ".txt", ".md"}

// Loader reads every supported file directly under a corpus directory.
type Loader struct {
	readers map[string]PageReader
	log     *slog.Logger
}

// NewLoader creates a loader for the given extensions. PDFs are read page by
// page, everything else as a single plain-text page.
func NewLoader(extensions []string, log *slog.Logger) *Loader {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	if log == nil {
		log = slog.Default()
	}
	readers := make(map[string]PageReader, len(extensions))
	for _, ext := range extensions {
		ext = normalizeExt(ext)
		if ext == ".pdf" {
			readers[ext] = PDFReader{}
		} else {
			readers[ext] = TextReader{}
		}
	}
	return &Loader{readers: readers, log: log}
}

// WithReader overrides the page reader used for ext.
func (l *Loader) WithReader(ext string, r PageReader) *Loader {
	l.readers[normalizeExt(ext)] = r
	return l
}

// Extensions returns the supported extensions in sorted order.
func (l *Loader) Extensions() []string {
	exts := make([]string, 0, len(l.readers))
	for ext := range l.readers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Supports reports whether path has a supported extension.
func (l *Loader) Supports(path string) bool {
	_, ok := l.readers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// LoadCorpus loads every supported file in dir in lexical order. Both
// ErrCorpusNotFound and ErrCorpusEmpty are wrapped with the location.
func (l *Loader) LoadCorpus(ctx context.Context, dir string) ([]domain.Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCorpusNotFound, dir)
		}
		return nil, fmt.Errorf("stat corpus %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrCorpusNotFound, dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", dir, err)
	}

	var docs []domain.Document
	for _, e := range entries {
		if e.IsDir() || !l.Supports(e.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(dir, e.Name())
		reader := l.readers[strings.ToLower(filepath.Ext(path))]
		pages, err := reader.ReadPages(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		docs = append(docs, domain.Document{ID: documentID(path), Path: path, Pages: pages})
		l.log.Debug("document loaded", "path", path, "pages", len(pages))
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no %s files in %s", ErrCorpusEmpty, strings.Join(l.Extensions(), "/"), dir)
	}
	l.log.Info("corpus loaded", "dir", dir, "documents", len(docs))
	return docs, nil
}

// ChunkCorpus splits every document and returns the chunks in document order.
func ChunkCorpus(docs []domain.Document, chunker domain.Chunker) ([]domain.Chunk, error) {
	var all []domain.Chunk
	for _, d := range docs {
		chunks, err := chunker.Chunk(d)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", d.Path, err)
		}
		all = append(all, chunks...)
	}
	return all, nil
}

// TextReader reads a whole file as a single page.
type TextReader struct{}

// ReadPages implements PageReader.
func (TextReader) ReadPages(_ context.Context, path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return []string{string(data)}, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func documentID(path string) string {
	h := sha1.Sum([]byte(path))
	return hex.EncodeToString(h[:8])
}
