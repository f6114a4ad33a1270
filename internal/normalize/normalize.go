// Package normalize turns raw card strings into validated records.
package normalize

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/nvisser/tablehawk/internal/listing"
)

const (
	locationPrefix = "Located at"
	scoreSuffix    = "/6"
	reviewSuffix   = "reviews"
	scoreCeiling   = 6
)

// ValidationError voids a record whose required fields cannot be salvaged.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validate %s: %s", e.Field, e.Reason)
}

// Record validates one raw card. Required string fields void the record when
// empty, as does a malformed detail URL. Malformed optional numerics are
// dropped to absent, never clamped or guessed.
func Record(raw listing.RawCard) (listing.Restaurant, error) {
	var rec listing.Restaurant

	rec.Name = strings.TrimSpace(raw.Name)
	if rec.Name == "" {
		return rec, &ValidationError{Field: "name", Reason: "empty"}
	}
	rec.Location = location(raw.Location)
	if rec.Location == "" {
		return rec, &ValidationError{Field: "location", Reason: "empty"}
	}
	rec.Cuisine = strings.TrimSpace(raw.Cuisine)
	if rec.Cuisine == "" {
		return rec, &ValidationError{Field: "cuisine", Reason: "empty"}
	}

	if raw.DetailURL != "" {
		u, err := url.Parse(raw.DetailURL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return rec, &ValidationError{Field: "detail_url", Reason: fmt.Sprintf("not an absolute URL: %q", raw.DetailURL)}
		}
		rec.DetailURL = u.String()
	}

	rec.Score = score(raw.ScoreText)
	rec.ReviewCount = reviewCount(raw.ReviewText)
	return rec, nil
}

// location strips the site's presentation prefix from the location span.
func location(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, locationPrefix)
	return strings.TrimSpace(text)
}

// score parses "x/6" review scores. Anything outside [0, 6) reads as absent.
func score(text string) *float64 {
	text = strings.TrimSpace(text)
	if text == "" || !strings.HasSuffix(text, scoreSuffix) {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSuffix(text, scoreSuffix), 64)
	if err != nil || value < 0 || value >= scoreCeiling {
		return nil
	}
	return &value
}

// reviewCount parses "n reviews" spans. Anything but a non-negative count
// reads as absent.
func reviewCount(text string) *int {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	text = strings.TrimSpace(strings.TrimSuffix(text, reviewSuffix))
	value, err := strconv.Atoi(text)
	if err != nil || value < 0 {
		return nil
	}
	return &value
}
