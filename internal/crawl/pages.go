package crawl

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nvisser/tablehawk/internal/extract"
	"github.com/nvisser/tablehawk/internal/listing"
	"github.com/nvisser/tablehawk/internal/markup"
	"github.com/nvisser/tablehawk/internal/normalize"
	"github.com/nvisser/tablehawk/internal/progress"
)

// crawlCity walks the listing pages for one city and assembles the result.
// The first page decides everything that follows: a not-found title ends the
// run with an empty result, otherwise its pagination box bounds the loop.
func (c *Crawler) crawlCity(ctx context.Context, run *runState, base *url.URL) (listing.Result, error) {
	result := listing.Result{City: run.city}

	firstURL := listingURL(base, run.city, 1)
	page, doc, err := c.fetchListingDoc(ctx, firstURL)
	if err != nil {
		return result, fmt.Errorf("fetch page 1: %w", err)
	}

	if c.cfg.NotFoundTitle != "" && doc.Title() == c.cfg.NotFoundTitle {
		c.logger.Info("no listings for city", zap.String("city", run.city))
		c.emit(progress.Event{
			RunID: run.eventID,
			Stage: progress.StageNoData,
			City:  run.city,
			URL:   firstURL,
		})
		return result, nil
	}
	result.HasData = true

	records := c.collectPage(run, 1, page, doc, base)

	pages, paginated, err := extract.LastPage(doc)
	if err != nil {
		return result, fmt.Errorf("resolve pagination: %w", err)
	}
	if paginated {
		c.logger.Debug("pagination resolved",
			zap.String("city", run.city),
			zap.Int("pages", pages),
		)
	}

	rest, err := c.remainingPages(ctx, run, base, pages)
	if err != nil {
		return result, err
	}
	records = append(records, rest...)
	result.Records = run.gate.trim(records)

	if err := c.enrichRecords(ctx, run, result.Records); err != nil {
		return result, err
	}
	return result, nil
}

// fetchListingDoc fetches one listing page, promoting to the headless fetcher
// when the probe response looks client-rendered, and parses the body.
func (c *Crawler) fetchListingDoc(ctx context.Context, pageURL string) (listing.Page, *markup.Document, error) {
	page, err := c.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return listing.Page{}, nil, err
	}
	page = c.maybePromote(ctx, pageURL, page)

	doc, err := markup.Parse(page.Body)
	if err != nil {
		// An unreadable body is a fetch failure as far as the run is concerned.
		return listing.Page{}, nil, &listing.FetchError{URL: page.URL, StatusCode: page.StatusCode, Err: err}
	}
	return page, doc, nil
}

// maybePromote re-fetches through the headless browser when the detector
// flags the probe response. A failed promotion keeps the probe page.
func (c *Crawler) maybePromote(ctx context.Context, pageURL string, probe listing.Page) listing.Page {
	if !c.cfg.HeadlessEnabled || c.detector == nil || c.headless == nil {
		return probe
	}
	if !c.detector.ShouldPromote(probe) {
		return probe
	}
	c.logger.Debug("promoting to headless fetch", zap.String("url", pageURL))
	rendered, err := c.headless.Fetch(ctx, pageURL)
	if err != nil {
		c.logger.Warn("headless promotion failed, keeping probe response",
			zap.String("url", pageURL),
			zap.Error(err),
		)
		return probe
	}
	return rendered
}

// collectPage extracts and normalizes the cards on one fetched page and
// registers the surviving records with the run's limit gate. Cards missing a
// required field and records that fail validation are dropped, not fatal.
func (c *Crawler) collectPage(run *runState, pageIndex int, page listing.Page, doc *markup.Document, base *url.URL) []listing.Restaurant {
	cards, skipped := extract.Cards(doc, base)
	for _, err := range skipped {
		c.logger.Warn("card skipped",
			zap.String("city", run.city),
			zap.Int("page", pageIndex),
			zap.Error(err),
		)
	}

	records := make([]listing.Restaurant, 0, len(cards))
	for _, card := range cards {
		rec, err := normalize.Record(card)
		if err != nil {
			c.logger.Warn("record voided",
				zap.String("city", run.city),
				zap.Int("page", pageIndex),
				zap.String("name", card.Name),
				zap.Error(err),
			)
			continue
		}
		records = append(records, rec)
		c.emit(progress.Event{
			RunID:   run.eventID,
			Stage:   progress.StageRecord,
			City:    run.city,
			URL:     rec.DetailURL,
			Page:    pageIndex,
			Records: 1,
			Note:    rec.Name,
		})
	}
	run.gate.add(len(records))

	note := ""
	if dropped := len(cards) + len(skipped) - len(records); dropped > 0 {
		note = fmt.Sprintf("%d cards dropped", dropped)
	}
	c.emit(progress.Event{
		RunID:       run.eventID,
		Stage:       progress.StagePageDone,
		City:        run.city,
		URL:         page.URL,
		Page:        pageIndex,
		Bytes:       int64(len(page.Body)),
		Records:     int64(len(records)),
		StatusClass: progress.ClassifyStatus(page.StatusCode),
		Dur:         page.Duration,
		Note:        note,
	})
	return records
}

// remainingPages visits pages 2..last in the configured mode. Both modes stop
// issuing new fetches once the limit gate trips; pages already in flight in
// concurrent mode finish and the join trims the overshoot.
func (c *Crawler) remainingPages(ctx context.Context, run *runState, base *url.URL, pages int) ([]listing.Restaurant, error) {
	if pages <= 1 {
		return nil, nil
	}
	if c.cfg.Mode == ModeConcurrent {
		return c.pagesConcurrent(ctx, run, base, pages)
	}
	return c.pagesSequential(ctx, run, base, pages)
}

func (c *Crawler) pagesSequential(ctx context.Context, run *runState, base *url.URL, pages int) ([]listing.Restaurant, error) {
	var all []listing.Restaurant
	for pageIndex := 2; pageIndex <= pages; pageIndex++ {
		if run.gate.reached() {
			break
		}
		if c.pacer != nil {
			if err := c.pacer.Wait(ctx); err != nil {
				return nil, fmt.Errorf("page delay: %w", err)
			}
		}
		page, doc, err := c.fetchListingDoc(ctx, listingURL(base, run.city, pageIndex))
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", pageIndex, err)
		}
		all = append(all, c.collectPage(run, pageIndex, page, doc, base)...)
	}
	return all, nil
}

func (c *Crawler) pagesConcurrent(ctx context.Context, run *runState, base *url.URL, pages int) ([]listing.Restaurant, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxParallelPages)

	// Launches happen in page order, so checking the gate here guarantees the
	// fetched pages form a contiguous prefix and the join stays ordered.
	byPage := make([][]listing.Restaurant, pages+1)
	for pageIndex := 2; pageIndex <= pages; pageIndex++ {
		if run.gate.reached() {
			break
		}
		g.Go(func() error {
			page, doc, err := c.fetchListingDoc(gctx, listingURL(base, run.city, pageIndex))
			if err != nil {
				return fmt.Errorf("fetch page %d: %w", pageIndex, err)
			}
			byPage[pageIndex] = c.collectPage(run, pageIndex, page, doc, base)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []listing.Restaurant
	for pageIndex := 2; pageIndex <= pages; pageIndex++ {
		all = append(all, byPage[pageIndex]...)
	}
	return all, nil
}

// enrichRecords visits each record's detail page and attaches metadata. A
// failed enrichment keeps the record without metadata; only context
// cancellation aborts the loop.
func (c *Crawler) enrichRecords(ctx context.Context, run *runState, records []listing.Restaurant) error {
	if !c.cfg.Enrich || c.enricher == nil {
		return nil
	}
	for i := range records {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("enrich records: %w", err)
		}
		if records[i].DetailURL == "" {
			continue
		}

		evt := progress.Event{
			RunID:       run.eventID,
			Stage:       progress.StageDetailDone,
			City:        run.city,
			URL:         records[i].DetailURL,
			StatusClass: progress.Status2xx,
		}
		meta, err := c.enricher.Enrich(ctx, records[i].DetailURL)
		if err != nil {
			evt.StatusClass = classifyFetchErr(err)
			evt.Note = err.Error()
			c.logger.Warn("enrichment failed, keeping record without metadata",
				zap.String("city", run.city),
				zap.String("name", records[i].Name),
				zap.String("url", records[i].DetailURL),
				zap.Error(err),
			)
		} else {
			records[i].Metadata = &meta
		}
		c.emit(evt)
	}
	return nil
}
