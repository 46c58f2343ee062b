// Package parser interprets book payloads on the client side.
package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aluiziolira/bookshelf/models"
)

// NormalizeISBN removes hyphens and spaces.
func NormalizeISBN(isbn string) string {
	isbn = strings.ReplaceAll(isbn, "-", "")
	isbn = strings.ReplaceAll(isbn, " ", "")
	return strings.TrimSpace(isbn)
}

// ValidateISBN accepts 10 or 13 digits after normalization.
func ValidateISBN(isbn string) error {
	normalized := NormalizeISBN(isbn)
	if len(normalized) != 10 && len(normalized) != 13 {
		return fmt.Errorf("isbn %q must be 10 or 13 digits", isbn)
	}
	for _, r := range normalized {
		if r < '0' || r > '9' {
			return fmt.Errorf("isbn %q must contain only digits", isbn)
		}
	}
	return nil
}

// ValidateBook ensures a book carries a usable ISBN and title.
func ValidateBook(b *models.Book) error {
	if b == nil {
		return fmt.Errorf("book is nil")
	}
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("book %s missing title", b.ISBN)
	}
	return ValidateISBN(b.ISBN)
}

// ParseTocJSON decodes the serialized table of contents carried by search hits.
func ParseTocJSON(raw string) ([]models.TocItem, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var toc []models.TocItem
	if err := json.Unmarshal([]byte(raw), &toc); err != nil {
		return nil, fmt.Errorf("parse toc json: %w", err)
	}
	return toc, nil
}

// ChapterCount returns the number of level-1 entries.
func ChapterCount(toc []models.TocItem) int {
	n := 0
	for _, item := range toc {
		if item.Level == 1 {
			n++
		}
	}
	return n
}
