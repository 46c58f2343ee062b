package models

// SearchBookResult is a lightweight hit returned by the search index.
// TocJSON carries the table of contents serialized as a JSON string.
type SearchBookResult struct {
	ID      string `json:"id"`
	ISBN    string `json:"isbn"`
	Title   string `json:"title"`
	TocJSON string `json:"toc_json,omitempty"`
}

type ChapterRef struct {
	ChapterTitle string `json:"chapter_title"`
}

// RecommendedBook explains why a book answers the query.
type RecommendedBook struct {
	ISBN             string       `json:"isbn"`
	Title            string       `json:"title"`
	Summary          string       `json:"summary"`
	RelevantChapters []ChapterRef `json:"relevant_chapters"`
}

type SearchReport struct {
	Recommendations []RecommendedBook `json:"recommendations"`
}

// SearchResult is the full envelope returned by GET /api/search.
type SearchResult struct {
	Query         string             `json:"query"`
	ResultsCount  int                `json:"results_count"`
	Report        SearchReport       `json:"report"`
	SearchResults []SearchBookResult `json:"search_results"`
}
