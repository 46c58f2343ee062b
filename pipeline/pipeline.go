// Package pipeline exports library books to local files.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aluiziolira/bookshelf/config"
	"github.com/aluiziolira/bookshelf/models"
	"github.com/aluiziolira/bookshelf/parser"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	// ErrPipelineClosed is returned when Process is called after Close.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// OutputWriter defines the interface for export output.
type OutputWriter interface {
	Write(books []*models.Book) error
	Close() error
	Validate() error
}

// Pipeline normalises, validates and de-duplicates books by ISBN, then hands
// them to the writer in batches. A library is at most a few thousand books,
// so batches are written on the caller's goroutine.
type Pipeline struct {
	writer    OutputWriter
	batchSize int
	seen      *lru.Cache[string, struct{}]

	mu       sync.Mutex
	batch    []*models.Book
	exported int64
	rejected map[string]int
	closed   bool
	err      error
}

// NewPipeline builds a pipeline sized from cfg.
func NewPipeline(writer OutputWriter, cfg *config.Config) (*Pipeline, error) {
	seen, err := lru.New[string, struct{}](cfg.DedupeMaxSize)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Pipeline{
		writer:    writer,
		batchSize: batchSize,
		seen:      seen,
		batch:     make([]*models.Book, 0, batchSize),
		rejected:  make(map[string]int),
	}, nil
}

// Process accepts books, writing every full batch. After a write failure
// every call returns that failure.
func (p *Pipeline) Process(books []models.Book) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	if p.closed {
		return ErrPipelineClosed
	}

	for i := range books {
		book := books[i]
		if !p.accept(&book) {
			continue
		}
		p.batch = append(p.batch, &book)
		if len(p.batch) >= p.batchSize {
			if err := p.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close writes the final partial batch. It does not close the writer.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.err != nil {
		p.closed = true
		return p.err
	}
	p.closed = true
	return p.flush()
}

// Err returns the write failure, if any.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns books written so far and rejections by reason.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	rejected := make(map[string]int, len(p.rejected))
	for k, v := range p.rejected {
		rejected[k] = v
	}
	return map[string]interface{}{
		"exported_books": p.exported,
		"rejected":       rejected,
	}
}

func (p *Pipeline) accept(book *models.Book) bool {
	book.ISBN = parser.NormalizeISBN(book.ISBN)
	if err := parser.ValidateBook(book); err != nil {
		slog.Debug("skipping invalid book", slog.String("isbn", book.ISBN), slog.Any("error", err))
		p.rejected["invalid_record"]++
		return false
	}
	if dup, _ := p.seen.ContainsOrAdd(book.ISBN, struct{}{}); dup {
		p.rejected["duplicate_isbn"]++
		return false
	}
	return true
}

// flush writes the pending batch; books count as exported only once written.
func (p *Pipeline) flush() error {
	if len(p.batch) == 0 {
		return nil
	}
	if err := p.writer.Write(p.batch); err != nil {
		p.err = fmt.Errorf("write batch: %w", err)
		p.batch = p.batch[:0]
		return p.err
	}
	p.exported += int64(len(p.batch))
	p.batch = make([]*models.Book, 0, p.batchSize)
	return nil
}
