// Package models defines the payload shapes exchanged with the bookshelf API.
package models

// TocItem is one entry of a table of contents. Level 1 is a chapter, 2 a section, and so on.
type TocItem struct {
	Title string `json:"title"`
	Level int    `json:"level"`
}

// Book is a catalogued book as owned by the signed-in user.
type Book struct {
	ID      string    `json:"id"`
	ISBN    string    `json:"isbn"`
	Title   string    `json:"title"`
	Toc     []TocItem `json:"toc"`
	AddedAt string    `json:"added_at,omitempty"`
}

// BookPreview is the metadata the backend resolves for an ISBN before registration.
type BookPreview struct {
	ISBN  string    `json:"isbn"`
	Title string    `json:"title"`
	Toc   []TocItem `json:"toc"`
}

// BookPreviewRequest asks the backend to resolve metadata for an ISBN.
type BookPreviewRequest struct {
	ISBN  string `json:"isbn"`
	Title string `json:"title,omitempty"`
}

// BookRegisterRequest adds a book to the user's library.
type BookRegisterRequest struct {
	ISBN  string    `json:"isbn"`
	Title string    `json:"title,omitempty"`
	Toc   []TocItem `json:"toc"`
}
