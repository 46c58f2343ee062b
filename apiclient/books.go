package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/aluiziolira/bookshelf/models"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// Books is the typed surface of the bookshelf API. It interprets the generic
// values returned by the Executor as models.
type Books struct {
	exec    *Executor
	baseURL string
}

// NewBooks binds exec to the API rooted at baseURL.
func NewBooks(exec *Executor, baseURL string) *Books {
	return &Books{exec: exec, baseURL: strings.TrimRight(baseURL, "/")}
}

// Executor exposes the underlying executor, e.g. to read its State.
func (b *Books) Executor() *Executor {
	return b.exec
}

// List returns the signed-in user's library.
func (b *Books) List(ctx context.Context) ([]models.Book, error) {
	raw, err := b.exec.Execute(ctx, b.url("/api/books"), nil)
	if err != nil {
		return nil, err
	}
	var books []models.Book
	if err := convert(raw, &books); err != nil {
		return nil, err
	}
	return books, nil
}

// Get returns a single book by id.
func (b *Books) Get(ctx context.Context, id string) (models.Book, error) {
	raw, err := b.exec.Execute(ctx, b.url("/api/books/"+url.PathEscape(id)), nil)
	if err != nil {
		return models.Book{}, err
	}
	var book models.Book
	err = convert(raw, &book)
	return book, err
}

// Preview resolves metadata and a table of contents for an ISBN without registering it.
func (b *Books) Preview(ctx context.Context, req models.BookPreviewRequest) (models.BookPreview, error) {
	raw, err := b.exec.Execute(ctx, b.url("/api/books/preview"), &RequestOptions{
		Method: http.MethodPost,
		Body:   req,
	})
	if err != nil {
		return models.BookPreview{}, err
	}
	var preview models.BookPreview
	err = convert(raw, &preview)
	return preview, err
}

// Register adds a book to the user's library.
func (b *Books) Register(ctx context.Context, req models.BookRegisterRequest) (models.Book, error) {
	if req.Toc == nil {
		req.Toc = []models.TocItem{}
	}
	raw, err := b.exec.Execute(ctx, b.url("/api/books"), &RequestOptions{
		Method: http.MethodPost,
		Body:   req,
	})
	if err != nil {
		return models.Book{}, err
	}
	var book models.Book
	err = convert(raw, &book)
	return book, err
}

// Search runs a query and returns hits plus the generated report.
// limit is clamped to 1..50; zero selects the server default of 10.
func (b *Books) Search(ctx context.Context, query string, limit int) (models.SearchResult, error) {
	switch {
	case limit <= 0:
		limit = defaultSearchLimit
	case limit > maxSearchLimit:
		limit = maxSearchLimit
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))

	raw, err := b.exec.Execute(ctx, b.url("/api/search")+"?"+q.Encode(), nil)
	if err != nil {
		return models.SearchResult{}, err
	}
	var result models.SearchResult
	err = convert(raw, &result)
	return result, err
}

// Raw issues an arbitrary request and returns the generic decoded body.
func (b *Books) Raw(ctx context.Context, method, path string, body any) (any, error) {
	return b.exec.Execute(ctx, b.url(path), &RequestOptions{Method: method, Body: body})
}

func (b *Books) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return b.baseURL + path
}

// convert reinterprets a generic JSON value as out.
func convert(raw any, out any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("re-encode response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("interpret response as %T: %w", out, err)
	}
	return nil
}
