// Package markup wraps HTML parsing behind marker-based lookups so that
// extraction code never touches the HTML library directly.
package markup

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Marker is a stable data-qa identifier the site attaches to the elements we
// extract from. The set below is closed; adding a marker means the site
// changed and the extractor needs review.
type Marker string

const (
	CardMarker       Marker = "merchant-card-wrapper"
	NameMarker       Marker = "merchant-name"
	LocationMarker   Marker = "merchant-location"
	CuisineMarker    Marker = "merchant-card-cuisine"
	ScoreMarker      Marker = "reviews-score"
	PaginationMarker Marker = "pagination-box"
	TagsMarker       Marker = "restaurant-tags"
	AddressMarker    Marker = "merchant-address"
)

const markerAttr = "data-qa"

// markerTag pins each marker to the element type that carries it on the site.
var markerTag = map[Marker]string{
	CardMarker:       "div",
	NameMarker:       "h3",
	LocationMarker:   "span",
	CuisineMarker:    "span",
	ScoreMarker:      "div",
	PaginationMarker: "div",
	TagsMarker:       "div",
	AddressMarker:    "a",
}

func (m Marker) selector() string {
	return fmt.Sprintf("%s[%s=%q]", markerTag[m], markerAttr, string(m))
}

// Document is a parsed HTML page.
type Document struct {
	doc *goquery.Document
}

// Element is a node (or node set head) inside a Document.
type Element struct {
	sel *goquery.Selection
}

// Parse builds a Document from raw page bytes.
func Parse(body []byte) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	return &Document{doc: doc}, nil
}

// Title returns the trimmed <title> text, or "" when the page has none.
func (d *Document) Title() string {
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

// ByMarker returns the first element carrying the marker.
func (d *Document) ByMarker(m Marker) (Element, bool) {
	sel := d.doc.Find(m.selector()).First()
	return Element{sel: sel}, sel.Length() > 0
}

// EachMarker visits every element carrying the marker in document order.
func (d *Document) EachMarker(m Marker, fn func(Element)) {
	d.doc.Find(m.selector()).Each(func(_ int, sel *goquery.Selection) {
		fn(Element{sel: sel})
	})
}

// Elements returns every element of the given type in document order. Used
// for pages that carry no markers, like menu listings.
func (d *Document) Elements(tag string) []Element {
	var out []Element
	d.doc.Find(tag).Each(func(_ int, sel *goquery.Selection) {
		out = append(out, Element{sel: sel})
	})
	return out
}

// ByMarker returns the first descendant carrying the marker.
func (e Element) ByMarker(m Marker) (Element, bool) {
	sel := e.sel.Find(m.selector()).First()
	return Element{sel: sel}, sel.Length() > 0
}

// Text returns the element's concatenated text, trimmed.
func (e Element) Text() string {
	return strings.TrimSpace(e.sel.Text())
}

// Attr returns the named attribute when present.
func (e Element) Attr(name string) (string, bool) {
	return e.sel.Attr(name)
}

// Anchors returns the element's descendant links in document order.
func (e Element) Anchors() []Element {
	return e.children("a")
}

// Spans returns the element's descendant spans in document order.
func (e Element) Spans() []Element {
	return e.children("span")
}

// Next returns the element's immediate next sibling element.
func (e Element) Next() (Element, bool) {
	sel := e.sel.Next()
	return Element{sel: sel}, sel.Length() > 0
}

func (e Element) children(tag string) []Element {
	var out []Element
	e.sel.Find(tag).Each(func(_ int, sel *goquery.Selection) {
		out = append(out, Element{sel: sel})
	})
	return out
}
