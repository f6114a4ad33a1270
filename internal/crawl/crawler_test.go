package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nvisser/tablehawk/internal/listing"
	"github.com/nvisser/tablehawk/internal/progress"
	"github.com/nvisser/tablehawk/internal/sink"
)

const testBaseURL = "https://site.test"

func TestCrawler_Run_SuccessFlow(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.set(pageURL("berlin", 1), listingDoc("Restaurants in Berlin", 2,
		card("Poco Loco"),
		card("Ganesha"),
	))
	fetcher.set(pageURL("berlin", 2), listingDoc("Restaurants in Berlin", 0,
		card("Trattoria Vino"),
	))
	store := newFakeStore()
	publisher := newFakePublisher()
	emitter := newFakeEmitter()

	c := New(
		fetcher,
		nil,
		nil,
		nil,
		store,
		publisher,
		&fakeHasher{hash: "abc123"},
		&fakeClock{now: time.Unix(100, 0)},
		&fakeIDs{id: "run-1"},
		emitter,
		Config{BaseURL: testBaseURL, Topic: "crawl-completed"},
		zap.NewNop(),
	)

	result, err := c.Run(context.Background(), "Berlin")
	require.NoError(t, err)
	require.True(t, result.HasData)
	require.Equal(t, "berlin", result.City)
	require.Equal(t, []string{"Poco Loco", "Ganesha", "Trattoria Vino"}, recordNames(result))

	require.Equal(t, []string{pageURL("berlin", 1), pageURL("berlin", 2)}, fetcher.urls())
	require.Equal(t, "berlin_restaurants.json", store.name)
	require.Equal(t, "application/json; charset=utf-8", store.contentType)

	decoded, err := sink.Decode(store.data)
	require.NoError(t, err)
	require.Len(t, decoded, 3)

	summary := publisher.last(t)
	require.Equal(t, "run-1", summary.RunID)
	require.Equal(t, 3, summary.Records)
	require.True(t, summary.HasData)
	require.Equal(t, "memory://berlin_restaurants.json", summary.OutputURI)
	require.Equal(t, "abc123", summary.ContentHash)

	require.Equal(t, []progress.Stage{
		progress.StageRunStart,
		progress.StageRecord,
		progress.StageRecord,
		progress.StagePageDone,
		progress.StageRecord,
		progress.StagePageDone,
		progress.StageRunDone,
	}, emitter.stages())
}

func TestCrawler_Run_NoListingsWritesEmptyDocument(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.set(pageURL("entenhausen", 1), listingDoc("Not found", 0))
	store := newFakeStore()
	publisher := newFakePublisher()
	emitter := newFakeEmitter()

	c := New(
		fetcher,
		nil,
		nil,
		nil,
		store,
		publisher,
		&fakeHasher{},
		&fakeClock{now: time.Unix(100, 0)},
		&fakeIDs{id: "run-2"},
		emitter,
		Config{BaseURL: testBaseURL, Topic: "crawl-completed"},
		zap.NewNop(),
	)

	result, err := c.Run(context.Background(), "Entenhausen")
	require.NoError(t, err)
	require.False(t, result.HasData)
	require.Empty(t, result.Records)

	require.Len(t, fetcher.urls(), 1)
	require.Equal(t, "[]\n", string(store.data))

	summary := publisher.last(t)
	require.False(t, summary.HasData)
	require.Zero(t, summary.Records)

	require.Contains(t, emitter.stages(), progress.StageNoData)
	require.NotContains(t, emitter.stages(), progress.StagePageDone)
}

func TestCrawler_Run_ResultLimitStopsFetching(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.set(pageURL("berlin", 1), listingDoc("Restaurants in Berlin", 3,
		card("One"),
		card("Two"),
	))
	fetcher.set(pageURL("berlin", 2), listingDoc("Restaurants in Berlin", 0,
		card("Three"),
		card("Four"),
	))
	fetcher.set(pageURL("berlin", 3), listingDoc("Restaurants in Berlin", 0,
		card("Five"),
	))
	store := newFakeStore()

	c := New(
		fetcher,
		nil,
		nil,
		nil,
		store,
		nil,
		&fakeHasher{},
		&fakeClock{now: time.Unix(100, 0)},
		&fakeIDs{id: "run-3"},
		nil,
		Config{BaseURL: testBaseURL, ResultLimit: 3},
		zap.NewNop(),
	)

	result, err := c.Run(context.Background(), "berlin")
	require.NoError(t, err)
	require.Equal(t, []string{"One", "Two", "Three"}, recordNames(result))
	require.NotContains(t, fetcher.urls(), pageURL("berlin", 3))
}

func TestCrawler_Run_FetchFailureAbortsRun(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.set(pageURL("berlin", 1), listingDoc("Restaurants in Berlin", 2,
		card("One"),
	))
	fetcher.fail(pageURL("berlin", 2), &listing.FetchError{
		URL:        pageURL("berlin", 2),
		StatusCode: http.StatusBadGateway,
		Err:        errors.New("bad gateway"),
	})
	store := newFakeStore()
	publisher := newFakePublisher()
	emitter := newFakeEmitter()

	c := New(
		fetcher,
		nil,
		nil,
		nil,
		store,
		publisher,
		&fakeHasher{},
		&fakeClock{now: time.Unix(100, 0)},
		&fakeIDs{id: "run-4"},
		emitter,
		Config{BaseURL: testBaseURL, Topic: "crawl-completed"},
		zap.NewNop(),
	)

	_, err := c.Run(context.Background(), "berlin")
	require.Error(t, err)

	var fetchErr *listing.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Zero(t, store.puts)
	require.Empty(t, publisher.messages)
	require.Contains(t, emitter.stages(), progress.StageRunError)
	require.NotContains(t, emitter.stages(), progress.StageRunDone)
}

func TestCrawler_Run_ConcurrentModePreservesPageOrder(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.set(pageURL("berlin", 1), listingDoc("Restaurants in Berlin", 4,
		card("P1A"),
	))
	fetcher.set(pageURL("berlin", 2), listingDoc("Restaurants in Berlin", 0,
		card("P2A"),
		card("P2B"),
	))
	fetcher.set(pageURL("berlin", 3), listingDoc("Restaurants in Berlin", 0,
		card("P3A"),
	))
	fetcher.set(pageURL("berlin", 4), listingDoc("Restaurants in Berlin", 0,
		card("P4A"),
	))

	c := New(
		fetcher,
		nil,
		nil,
		nil,
		newFakeStore(),
		nil,
		&fakeHasher{},
		&fakeClock{now: time.Unix(100, 0)},
		&fakeIDs{id: "run-5"},
		nil,
		Config{BaseURL: testBaseURL, Mode: ModeConcurrent, MaxParallelPages: 3},
		zap.NewNop(),
	)

	result, err := c.Run(context.Background(), "berlin")
	require.NoError(t, err)
	require.Equal(t, []string{"P1A", "P2A", "P2B", "P3A", "P4A"}, recordNames(result))
	require.Len(t, fetcher.urls(), 4)
}

func TestCrawler_Run_EnrichmentAttachesMetadata(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.set(pageURL("berlin", 1), listingDoc("Restaurants in Berlin", 0,
		cardWithHref("Poco Loco", "/poco-loco"),
		cardWithHref("Ganesha", "/ganesha"),
	))
	enricher := newFakeEnricher()
	enricher.metas[testBaseURL+"/poco-loco"] = listing.Metadata{
		Tags:    []string{"Tapas"},
		Address: "Hauptstr. 1, 10827 Berlin",
	}
	enricher.errs[testBaseURL+"/ganesha"] = &listing.FetchError{
		URL:        testBaseURL + "/ganesha",
		StatusCode: http.StatusNotFound,
		Err:        errors.New("not found"),
	}
	emitter := newFakeEmitter()

	c := New(
		fetcher,
		nil,
		nil,
		enricher,
		newFakeStore(),
		nil,
		&fakeHasher{},
		&fakeClock{now: time.Unix(100, 0)},
		&fakeIDs{id: "run-6"},
		emitter,
		Config{BaseURL: testBaseURL, Enrich: true},
		zap.NewNop(),
	)

	result, err := c.Run(context.Background(), "berlin")
	require.NoError(t, err)
	require.Len(t, result.Records, 2)

	require.NotNil(t, result.Records[0].Metadata)
	require.Equal(t, []string{"Tapas"}, result.Records[0].Metadata.Tags)
	require.Nil(t, result.Records[1].Metadata)

	details := emitter.byStage(progress.StageDetailDone)
	require.Len(t, details, 2)
	require.Equal(t, progress.Status2xx, details[0].StatusClass)
	require.Equal(t, progress.Status4xx, details[1].StatusClass)
	require.NotEmpty(t, details[1].Note)
}

func TestCrawler_Run_HeadlessPromotionApplied(t *testing.T) {
	t.Parallel()

	probe := newFakeFetcher()
	probe.set(pageURL("berlin", 1), []byte("<html><head><title>Restaurants in Berlin</title></head><body><div id=\"root\"></div></body></html>"))
	headless := newFakeFetcher()
	headless.set(pageURL("berlin", 1), listingDoc("Restaurants in Berlin", 0,
		card("Rendered Only"),
	))
	detector := &fakeDetector{promotions: map[string]bool{pageURL("berlin", 1): true}}

	c := New(
		probe,
		headless,
		detector,
		nil,
		newFakeStore(),
		nil,
		&fakeHasher{},
		&fakeClock{now: time.Unix(100, 0)},
		&fakeIDs{id: "run-7"},
		nil,
		Config{BaseURL: testBaseURL, HeadlessEnabled: true},
		zap.NewNop(),
	)

	result, err := c.Run(context.Background(), "berlin")
	require.NoError(t, err)
	require.Equal(t, []string{"Rendered Only"}, recordNames(result))
	require.Len(t, probe.urls(), 1)
	require.Len(t, headless.urls(), 1)
}

func TestCrawler_Run_TabularFormat(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.set(pageURL("berlin", 1), listingDoc("Restaurants in Berlin", 0,
		card("Poco Loco"),
	))
	store := newFakeStore()

	c := New(
		fetcher,
		nil,
		nil,
		nil,
		store,
		nil,
		&fakeHasher{},
		&fakeClock{now: time.Unix(100, 0)},
		&fakeIDs{id: "run-8"},
		nil,
		Config{BaseURL: testBaseURL, Format: sink.FormatCSV},
		zap.NewNop(),
	)

	_, err := c.Run(context.Background(), "berlin")
	require.NoError(t, err)
	require.Equal(t, "berlin_restaurants.csv", store.name)
	require.Equal(t, "text/csv; charset=utf-8", store.contentType)
	require.True(t, strings.HasPrefix(string(store.data), "name,location,cuisine"))
}

func TestCrawler_Run_RequiresCity(t *testing.T) {
	t.Parallel()

	c := New(
		newFakeFetcher(),
		nil,
		nil,
		nil,
		newFakeStore(),
		nil,
		&fakeHasher{},
		&fakeClock{now: time.Unix(100, 0)},
		&fakeIDs{id: "run-9"},
		nil,
		Config{BaseURL: testBaseURL},
		zap.NewNop(),
	)

	if _, err := c.Run(context.Background(), "   "); err == nil {
		t.Fatal("expected error for blank city")
	}
}

func TestListingURL(t *testing.T) {
	t.Parallel()

	base := mustParse(t, testBaseURL)
	if got := listingURL(base, "berlin", 1); got != testBaseURL+"/en/result?destination=berlin" {
		t.Fatalf("unexpected first page url: %s", got)
	}
	if got := listingURL(base, "berlin", 2); got != testBaseURL+"/en/result?destination=berlin&page=2" {
		t.Fatalf("unexpected paged url: %s", got)
	}
}

func TestLimitGate(t *testing.T) {
	t.Parallel()

	unbounded := newLimitGate(0)
	unbounded.add(1000)
	if unbounded.reached() {
		t.Fatal("unbounded gate must never trip")
	}

	gate := newLimitGate(3)
	gate.add(2)
	if gate.reached() {
		t.Fatal("gate tripped below limit")
	}
	gate.add(2)
	if !gate.reached() {
		t.Fatal("gate did not trip at limit")
	}

	records := []listing.Restaurant{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}}
	if got := gate.trim(records); len(got) != 3 {
		t.Fatalf("trim kept %d records, want 3", len(got))
	}
}

// --- fixtures ---

type cardFixture struct {
	name    string
	href    string
	score   string
	reviews string
}

func card(name string) cardFixture {
	return cardFixture{name: name, score: "5.5/6", reviews: "120 reviews"}
}

func cardWithHref(name, href string) cardFixture {
	c := card(name)
	c.href = href
	return c
}

// listingDoc renders a minimal listing page. pages > 1 adds a pagination box
// with anchors 1..pages.
func listingDoc(title string, pages int, cards ...cardFixture) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%s</title></head><body>", title)
	for _, c := range cards {
		b.WriteString(`<div data-qa="merchant-card-wrapper">`)
		if c.href != "" {
			fmt.Fprintf(&b, `<a href=%q><img src="thumb.jpg"/></a>`, c.href)
		}
		fmt.Fprintf(&b, `<h3 data-qa="merchant-name">%s</h3>`, c.name)
		b.WriteString(`<span data-qa="merchant-location">Mitte</span>`)
		b.WriteString(`<span data-qa="merchant-card-cuisine">German</span>`)
		if c.score != "" {
			fmt.Fprintf(&b, `<div data-qa="reviews-score">%s</div>`, c.score)
		}
		if c.reviews != "" {
			fmt.Fprintf(&b, `<span>%s</span>`, c.reviews)
		}
		b.WriteString(`</div>`)
	}
	if pages > 1 {
		b.WriteString(`<div data-qa="pagination-box">`)
		for i := 1; i <= pages; i++ {
			fmt.Fprintf(&b, `<a href="?page=%d">%d</a>`, i, i)
		}
		b.WriteString(`</div>`)
	}
	b.WriteString("</body></html>")
	return []byte(b.String())
}

func pageURL(city string, page int) string {
	if page <= 1 {
		return testBaseURL + "/en/result?destination=" + city
	}
	return fmt.Sprintf("%s/en/result?destination=%s&page=%d", testBaseURL, city, page)
}

func recordNames(result listing.Result) []string {
	names := make([]string, 0, len(result.Records))
	for _, rec := range result.Records {
		names = append(names, rec.Name)
	}
	return names
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return u
}

// --- fakes ---

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string][]byte
	errors    map[string]error
	calls     []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string][]byte),
		errors:    make(map[string]error),
	}
}

func (f *fakeFetcher) set(url string, body []byte) {
	f.responses[url] = body
}

func (f *fakeFetcher) fail(url string, err error) {
	f.errors[url] = err
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (listing.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err, ok := f.errors[url]; ok {
		return listing.Page{}, err
	}
	body, ok := f.responses[url]
	if !ok {
		return listing.Page{}, &listing.FetchError{URL: url, Err: errors.New("no response configured")}
	}
	return listing.Page{
		URL:        url,
		StatusCode: http.StatusOK,
		Body:       body,
		Duration:   5 * time.Millisecond,
	}, nil
}

func (f *fakeFetcher) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeDetector struct {
	promotions map[string]bool
}

func (d *fakeDetector) ShouldPromote(page listing.Page) bool {
	return d.promotions[page.URL]
}

type fakeEnricher struct {
	mu    sync.Mutex
	metas map[string]listing.Metadata
	errs  map[string]error
	calls []string
}

func newFakeEnricher() *fakeEnricher {
	return &fakeEnricher{
		metas: make(map[string]listing.Metadata),
		errs:  make(map[string]error),
	}
}

func (e *fakeEnricher) Enrich(_ context.Context, detailURL string) (listing.Metadata, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, detailURL)
	if err, ok := e.errs[detailURL]; ok {
		return listing.Metadata{}, err
	}
	return e.metas[detailURL], nil
}

type fakeStore struct {
	mu          sync.Mutex
	name        string
	contentType string
	data        []byte
	puts        int
}

func newFakeStore() *fakeStore {
	return &fakeStore{}
}

func (s *fakeStore) PutDocument(_ context.Context, name, contentType string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
	s.contentType = contentType
	s.data = append([]byte(nil), data...)
	s.puts++
	return "memory://" + name, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []listing.Summary
	err      error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{}
}

func (p *fakePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if summary, ok := payload.(listing.Summary); ok {
		p.messages = append(p.messages, summary)
	}
	return "msgid", nil
}

func (p *fakePublisher) last(t *testing.T) listing.Summary {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.messages) == 0 {
		t.Fatal("no summary published")
	}
	return p.messages[len(p.messages)-1]
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{}
}

func (e *fakeEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *fakeEmitter) stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	stages := make([]progress.Stage, 0, len(e.events))
	for _, evt := range e.events {
		stages = append(stages, evt.Stage)
	}
	return stages
}

func (e *fakeEmitter) byStage(stage progress.Stage) []progress.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []progress.Event
	for _, evt := range e.events {
		if evt.Stage == stage {
			out = append(out, evt)
		}
	}
	return out
}

type fakeHasher struct {
	hash string
	err  error
}

func (h *fakeHasher) Hash(data []byte) (string, error) {
	if h.err != nil {
		return "", h.err
	}
	if h.hash != "" {
		return h.hash, nil
	}
	return fmt.Sprintf("%d", len(data)), nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type fakeIDs struct {
	id  string
	err error
}

func (g *fakeIDs) NewID() (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.id, nil
}
