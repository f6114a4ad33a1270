// Package extract lifts raw cards and pagination facts out of listing pages.
package extract

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/nvisser/tablehawk/internal/listing"
	"github.com/nvisser/tablehawk/internal/markup"
)

// Cards walks every card on a listing page and returns one RawCard per card
// that carries all required elements. Cards missing a required element are
// reported in skipped and left out of the result; order follows the page.
// Detail links are resolved against base.
func Cards(doc *markup.Document, base *url.URL) (cards []listing.RawCard, skipped []error) {
	doc.EachMarker(markup.CardMarker, func(card markup.Element) {
		raw, err := oneCard(card, base)
		if err != nil {
			skipped = append(skipped, err)
			return
		}
		cards = append(cards, raw)
	})
	return cards, skipped
}

func oneCard(card markup.Element, base *url.URL) (listing.RawCard, error) {
	var raw listing.RawCard

	name, ok := card.ByMarker(markup.NameMarker)
	if !ok {
		return raw, &listing.ExtractionError{Subject: "card name"}
	}
	location, ok := card.ByMarker(markup.LocationMarker)
	if !ok {
		return raw, &listing.ExtractionError{Subject: "card location"}
	}
	cuisine, ok := card.ByMarker(markup.CuisineMarker)
	if !ok {
		return raw, &listing.ExtractionError{Subject: "card cuisine"}
	}

	raw.Name = name.Text()
	raw.Location = location.Text()
	raw.Cuisine = cuisine.Text()

	if score, ok := card.ByMarker(markup.ScoreMarker); ok {
		raw.ScoreText = score.Text()
	}

	// The review count has no marker of its own; the site renders it as the
	// last span mentioning reviews.
	for _, span := range card.Spans() {
		if text := span.Text(); strings.Contains(text, "reviews") {
			raw.ReviewText = text
		}
	}

	if anchors := card.Anchors(); len(anchors) > 0 {
		if href, ok := anchors[0].Attr("href"); ok {
			raw.DetailURL = resolve(base, href)
		}
	}

	return raw, nil
}

// resolve joins a card href with the site base. Unresolvable hrefs pass
// through raw and are rejected later during validation.
func resolve(base *url.URL, href string) string {
	if base == nil {
		return href
	}
	u, err := base.Parse(href)
	if err != nil {
		return href
	}
	return u.String()
}

// LastPage reads the result-page count from a listing page. A page without a
// pagination container is a single-page result, reported with paginated set
// to false. A container without page links, or with an unreadable count, is
// a malformed page.
func LastPage(doc *markup.Document) (pages int, paginated bool, err error) {
	box, ok := doc.ByMarker(markup.PaginationMarker)
	if !ok {
		return 1, false, nil
	}
	anchors := box.Anchors()
	if len(anchors) == 0 {
		return 0, true, &listing.ExtractionError{Subject: "pagination links"}
	}
	text := anchors[len(anchors)-1].Text()
	pages, convErr := strconv.Atoi(text)
	if convErr != nil {
		return 0, true, fmt.Errorf("parse last page %q: %w", text, convErr)
	}
	if pages < 1 {
		return 0, true, fmt.Errorf("parse last page: %d out of range", pages)
	}
	return pages, true, nil
}
