// Package enrich collects detail-page metadata for validated records.
package enrich

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nvisser/tablehawk/internal/listing"
	"github.com/nvisser/tablehawk/internal/markup"
)

const menuSuffix = "/menu"

// Enricher fetches a record's detail page and menu sub-page.
type Enricher struct {
	fetcher listing.Fetcher
	logger  *zap.Logger
}

// New builds an Enricher.
func New(fetcher listing.Fetcher, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{fetcher: fetcher, logger: logger}
}

// Enrich collects tags, address and menu for one detail URL. The detail page
// must carry the tags container and the address anchor; the menu sub-page is
// optional and an unavailable one leaves the menu empty.
func (e *Enricher) Enrich(ctx context.Context, detailURL string) (listing.Metadata, error) {
	var meta listing.Metadata

	page, err := e.fetcher.Fetch(ctx, detailURL)
	if err != nil {
		return meta, fmt.Errorf("enrich detail %s: %w", detailURL, err)
	}
	doc, err := markup.Parse(page.Body)
	if err != nil {
		return meta, fmt.Errorf("enrich detail %s: %w", detailURL, err)
	}

	meta.Tags, err = tags(doc)
	if err != nil {
		return listing.Metadata{}, fmt.Errorf("enrich detail %s: %w", detailURL, err)
	}
	meta.Address, err = address(doc)
	if err != nil {
		return listing.Metadata{}, fmt.Errorf("enrich detail %s: %w", detailURL, err)
	}

	menuURL := detailURL + menuSuffix
	menuPage, err := e.fetcher.Fetch(ctx, menuURL)
	if err != nil {
		e.logger.Debug("menu page unavailable", zap.String("url", menuURL), zap.Error(err))
		return meta, nil
	}
	menuDoc, err := markup.Parse(menuPage.Body)
	if err != nil {
		e.logger.Debug("menu page unreadable", zap.String("url", menuURL), zap.Error(err))
		return meta, nil
	}
	meta.Menu = menuItems(menuDoc)
	return meta, nil
}

// tags reads the ordered tag spans from the detail page.
func tags(doc *markup.Document) ([]string, error) {
	box, ok := doc.ByMarker(markup.TagsMarker)
	if !ok {
		return nil, &listing.ExtractionError{Subject: "restaurant tags"}
	}
	var out []string
	for _, span := range box.Spans() {
		out = append(out, span.Text())
	}
	return out, nil
}

// address joins the address anchor's spans the way the site splits street,
// number and district.
func address(doc *markup.Document) (string, error) {
	anchor, ok := doc.ByMarker(markup.AddressMarker)
	if !ok {
		return "", &listing.ExtractionError{Subject: "restaurant address"}
	}
	var parts []string
	for _, span := range anchor.Spans() {
		parts = append(parts, span.Text())
	}
	return strings.Join(parts, ","), nil
}

// menuItems walks the menu page headings in document order. A dish's price
// sits in the heading's next sibling; a dish without one keeps a nil price.
func menuItems(doc *markup.Document) []listing.MenuItem {
	var items []listing.MenuItem
	for _, heading := range doc.Elements("h5") {
		item := listing.MenuItem{Dish: heading.Text()}
		if sibling, ok := heading.Next(); ok {
			price := sibling.Text()
			item.Price = &price
		}
		items = append(items, item)
	}
	return items
}
