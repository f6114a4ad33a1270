// Package listing defines core types shared across subsystems.
package listing

import (
	"net/http"
	"time"
)

// Restaurant is one validated result record. Name, Location and Cuisine are
// always present; the remaining fields are omitted from serialized output
// when absent.
type Restaurant struct {
	Name        string    `json:"name"`
	Location    string    `json:"location"`
	Cuisine     string    `json:"cuisine"`
	Score       *float64  `json:"score,omitempty"`
	ReviewCount *int      `json:"review_count,omitempty"`
	DetailURL   string    `json:"detail_url,omitempty"`
	Metadata    *Metadata `json:"metadata,omitempty"`
}

// Metadata carries the fields collected from a restaurant's detail page.
type Metadata struct {
	Tags    []string   `json:"tags"`
	Address string     `json:"address"`
	Menu    []MenuItem `json:"menu"`
}

// MenuItem is a single dish/price pair in listed order.
type MenuItem struct {
	Dish  string  `json:"dish"`
	Price *string `json:"price,omitempty"`
}

// RawCard holds the unvalidated strings lifted from one listing card. It is
// produced by the extractor, consumed by the normalizer and then discarded.
type RawCard struct {
	Name       string
	Location   string
	Cuisine    string
	ScoreText  string
	ReviewText string
	DetailURL  string
}

// Result is the outcome of one city crawl. Records preserve page order and,
// within a page, card order. HasData is false only for the no-result sentinel
// page, in which case Records is empty.
type Result struct {
	City    string
	Records []Restaurant
	HasData bool
}

// Page is the raw response returned by a Fetcher implementation.
type Page struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Summary is the completion event published after a run.
type Summary struct {
	RunID       string    `json:"run_id"`
	City        string    `json:"city"`
	Records     int       `json:"records"`
	HasData     bool      `json:"has_data"`
	OutputURI   string    `json:"output_uri"`
	ContentHash string    `json:"content_hash"`
	FinishedAt  time.Time `json:"finished_at"`
}
