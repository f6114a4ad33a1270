package extract

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvisser/tablehawk/internal/listing"
	"github.com/nvisser/tablehawk/internal/markup"
)

func parseDoc(t *testing.T, html string) *markup.Document {
	t.Helper()
	doc, err := markup.Parse([]byte(html))
	require.NoError(t, err)
	return doc
}

func siteBase(t *testing.T) *url.URL {
	t.Helper()
	base, err := url.Parse("https://www.quandoo.de")
	require.NoError(t, err)
	return base
}

func TestCardsFullCard(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `<div data-qa="merchant-card-wrapper">
		<a href="/en/place/luigi-1"><h3 data-qa="merchant-name">Luigi</h3></a>
		<span data-qa="merchant-location">Located at Mitte</span>
		<span data-qa="merchant-card-cuisine">Italian</span>
		<div data-qa="reviews-score">5.5/6</div>
		<span>ignored</span>
		<span>120 reviews</span>
	</div>`)

	cards, skipped := Cards(doc, siteBase(t))
	require.Empty(t, skipped)
	require.Len(t, cards, 1)
	require.Equal(t, listing.RawCard{
		Name:       "Luigi",
		Location:   "Located at Mitte",
		Cuisine:    "Italian",
		ScoreText:  "5.5/6",
		ReviewText: "120 reviews",
		DetailURL:  "https://www.quandoo.de/en/place/luigi-1",
	}, cards[0])
}

func TestCardsOptionalFieldsAbsent(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `<div data-qa="merchant-card-wrapper">
		<h3 data-qa="merchant-name">Ganesha</h3>
		<span data-qa="merchant-location">Kreuzberg</span>
		<span data-qa="merchant-card-cuisine">Indian</span>
	</div>`)

	cards, skipped := Cards(doc, siteBase(t))
	require.Empty(t, skipped)
	require.Len(t, cards, 1)
	require.Empty(t, cards[0].ScoreText)
	require.Empty(t, cards[0].ReviewText)
	require.Empty(t, cards[0].DetailURL)
}

func TestCardsSkipsCardMissingRequiredElement(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `
	<div data-qa="merchant-card-wrapper">
		<h3 data-qa="merchant-name">First</h3>
		<span data-qa="merchant-location">Mitte</span>
	</div>
	<div data-qa="merchant-card-wrapper">
		<h3 data-qa="merchant-name">Second</h3>
		<span data-qa="merchant-location">Neukoelln</span>
		<span data-qa="merchant-card-cuisine">Greek</span>
	</div>`)

	cards, skipped := Cards(doc, siteBase(t))
	require.Len(t, skipped, 1)

	var extractionErr *listing.ExtractionError
	require.ErrorAs(t, skipped[0], &extractionErr)
	require.Equal(t, "card cuisine", extractionErr.Subject)

	require.Len(t, cards, 1)
	require.Equal(t, "Second", cards[0].Name)
}

func TestCardsPicksLastReviewSpan(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `<div data-qa="merchant-card-wrapper">
		<h3 data-qa="merchant-name">Taverna</h3>
		<span data-qa="merchant-location">Wedding</span>
		<span data-qa="merchant-card-cuisine">Greek</span>
		<span>3 reviews this week</span>
		<span>87 reviews</span>
	</div>`)

	cards, skipped := Cards(doc, siteBase(t))
	require.Empty(t, skipped)
	require.Equal(t, "87 reviews", cards[0].ReviewText)
}

func TestLastPageNoBox(t *testing.T) {
	t.Parallel()

	pages, paginated, err := LastPage(parseDoc(t, `<div>no pagination here</div>`))
	require.NoError(t, err)
	require.False(t, paginated)
	require.Equal(t, 1, pages)
}

func TestLastPageReadsLastAnchor(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `<div data-qa="pagination-box"><a>1</a><a>2</a><a>3</a><a>14</a></div>`)
	pages, paginated, err := LastPage(doc)
	require.NoError(t, err)
	require.True(t, paginated)
	require.Equal(t, 14, pages)
}

func TestLastPageEmptyBoxIsMalformed(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `<div data-qa="pagination-box"></div>`)
	_, _, err := LastPage(doc)
	require.Error(t, err)

	var extractionErr *listing.ExtractionError
	require.ErrorAs(t, err, &extractionErr)
}

func TestLastPageUnreadableCount(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `<div data-qa="pagination-box"><a>1</a><a>next</a></div>`)
	_, _, err := LastPage(doc)
	require.Error(t, err)
}
