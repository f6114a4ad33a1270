// Package sink renders crawl results into the documents written per run and
// names them the way downstream loaders expect.
package sink

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nvisser/tablehawk/internal/listing"
)

// Format selects the document rendering for a run.
type Format string

// Supported output formats.
const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// DocumentName returns the per-city document name, e.g. berlin_restaurants.json.
func DocumentName(city string, format Format) string {
	return fmt.Sprintf("%s_restaurants.%s", city, format)
}

// ContentType returns the MIME type for a format.
func ContentType(format Format) string {
	if format == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json; charset=utf-8"
}

// Encode renders the result as a pretty-printed JSON array of records. A run
// without data still encodes, as an empty array.
func Encode(result listing.Result) ([]byte, error) {
	records := result.Records
	if records == nil {
		records = []listing.Restaurant{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode reads a document produced by Encode back into records.
func Decode(data []byte) ([]listing.Restaurant, error) {
	var records []listing.Restaurant
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return records, nil
}

// EncodeTabular renders the flat CSV form used by enrichment-disabled runs.
// Absent optional fields become empty cells.
func EncodeTabular(result listing.Result) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	rows := [][]string{{"name", "location", "cuisine", "score", "review_count", "detail_url"}}
	for _, rec := range result.Records {
		rows = append(rows, []string{
			rec.Name,
			rec.Location,
			rec.Cuisine,
			formatScore(rec.Score),
			formatCount(rec.ReviewCount),
			rec.DetailURL,
		})
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("encode tabular result: %w", err)
	}
	return buf.Bytes(), nil
}

func formatScore(score *float64) string {
	if score == nil {
		return ""
	}
	return strconv.FormatFloat(*score, 'f', -1, 64)
}

func formatCount(count *int) string {
	if count == nil {
		return ""
	}
	return strconv.Itoa(*count)
}
