// Package crawl implements the per-city crawl pipeline.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nvisser/tablehawk/internal/listing"
	"github.com/nvisser/tablehawk/internal/progress"
	"github.com/nvisser/tablehawk/internal/sink"
)

// Mode selects how listing pages after the first are visited.
type Mode string

// Supported crawl modes.
const (
	ModeSequential Mode = "sequential"
	ModeConcurrent Mode = "concurrent"
)

// Defaults for the crawl target. The config layer applies them as well; they
// live here so a zero-value Config still crawls the real site.
const (
	DefaultBaseURL       = "https://www.quandoo.de"
	DefaultNotFoundTitle = "Not found"
)

const defaultMaxParallelPages = 4

// Config controls Crawler behavior.
type Config struct {
	BaseURL          string
	NotFoundTitle    string
	Mode             Mode
	PageDelay        time.Duration
	MaxParallelPages int
	ResultLimit      int
	Enrich           bool
	Format           sink.Format
	Topic            string
	HeadlessEnabled  bool
}

// Crawler runs the fetch/extract/normalize/enrich pipeline for one city at a
// time and writes one result document per run.
type Crawler struct {
	fetcher   listing.Fetcher
	headless  listing.Fetcher
	detector  listing.Detector
	enricher  listing.Enricher
	store     listing.DocumentStore
	publisher listing.Publisher
	hasher    listing.Hasher
	clock     listing.Clock
	ids       listing.IDGenerator
	progress  progress.Emitter
	pacer     *rate.Limiter
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Crawler.
func New(
	fetcher listing.Fetcher,
	headless listing.Fetcher,
	detector listing.Detector,
	enricher listing.Enricher,
	store listing.DocumentStore,
	publisher listing.Publisher,
	hasher listing.Hasher,
	clock listing.Clock,
	ids listing.IDGenerator,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.NotFoundTitle == "" {
		cfg.NotFoundTitle = DefaultNotFoundTitle
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeSequential
	}
	if cfg.MaxParallelPages <= 0 {
		cfg.MaxParallelPages = defaultMaxParallelPages
	}
	if cfg.Format == "" {
		cfg.Format = sink.FormatJSON
	}

	var pacer *rate.Limiter
	if cfg.PageDelay > 0 {
		pacer = rate.NewLimiter(rate.Every(cfg.PageDelay), 1)
		// Burn the initial token so the first inter-page wait spans a full delay.
		pacer.Allow()
	}

	return &Crawler{
		fetcher:   fetcher,
		headless:  headless,
		detector:  detector,
		enricher:  enricher,
		store:     store,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		ids:       ids,
		progress:  emitter,
		pacer:     pacer,
		cfg:       cfg,
		logger:    logger,
	}
}

// runState carries the identifiers and counters shared by one run's stages.
type runState struct {
	id      string
	eventID [16]byte
	city    string
	started time.Time
	gate    *limitGate
}

// Run executes one city crawl end to end: listing pages, optional detail
// enrichment, document write, completion event. A fetch failure on any
// listing page aborts the run with no output document.
func (c *Crawler) Run(ctx context.Context, city string) (listing.Result, error) {
	city = strings.ToLower(strings.TrimSpace(city))
	if city == "" {
		return listing.Result{}, fmt.Errorf("city is required")
	}
	if c.fetcher == nil {
		return listing.Result{}, fmt.Errorf("no fetcher configured")
	}
	if c.store == nil {
		return listing.Result{}, fmt.Errorf("no document store configured")
	}
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return listing.Result{}, fmt.Errorf("parse base url: %w", err)
	}
	runID, err := c.ids.NewID()
	if err != nil {
		return listing.Result{}, fmt.Errorf("new run id: %w", err)
	}

	run := &runState{
		id:      runID,
		eventID: eventRunID(runID),
		city:    city,
		started: c.clock.Now(),
		gate:    newLimitGate(c.cfg.ResultLimit),
	}
	c.logger.Info("crawl starting",
		zap.String("run_id", run.id),
		zap.String("city", city),
		zap.String("mode", string(c.cfg.Mode)),
		zap.Int("result_limit", c.cfg.ResultLimit),
		zap.Bool("enrich", c.cfg.Enrich),
	)
	c.emit(progress.Event{RunID: run.eventID, Stage: progress.StageRunStart, City: city})

	result, err := c.crawlCity(ctx, run, base)
	if err != nil {
		c.failRun(run, err)
		return listing.Result{}, err
	}

	uri, digest, err := c.persistResult(ctx, result)
	if err != nil {
		c.failRun(run, err)
		return listing.Result{}, err
	}
	c.publishSummary(ctx, run, result, uri, digest)

	elapsed := c.clock.Now().Sub(run.started)
	c.emit(progress.Event{
		RunID:   run.eventID,
		Stage:   progress.StageRunDone,
		City:    city,
		Records: int64(len(result.Records)),
		Dur:     elapsed,
	})
	c.logger.Info("crawl finished",
		zap.String("run_id", run.id),
		zap.String("city", city),
		zap.Int("records", len(result.Records)),
		zap.Bool("has_data", result.HasData),
		zap.String("output_uri", uri),
		zap.Duration("elapsed", elapsed),
	)
	return result, nil
}

func (c *Crawler) failRun(run *runState, err error) {
	elapsed := c.clock.Now().Sub(run.started)
	c.emit(progress.Event{
		RunID: run.eventID,
		Stage: progress.StageRunError,
		City:  run.city,
		Note:  err.Error(),
		Dur:   elapsed,
	})
	c.logger.Error("crawl failed",
		zap.String("run_id", run.id),
		zap.String("city", run.city),
		zap.Duration("elapsed", elapsed),
		zap.Error(err),
	)
}

// persistResult encodes the result in the configured format and writes it to
// the document store, returning the URI and content digest.
func (c *Crawler) persistResult(ctx context.Context, result listing.Result) (string, string, error) {
	var (
		data []byte
		err  error
	)
	if c.cfg.Format == sink.FormatCSV {
		data, err = sink.EncodeTabular(result)
	} else {
		data, err = sink.Encode(result)
	}
	if err != nil {
		return "", "", err
	}

	digest := ""
	if c.hasher != nil {
		if digest, err = c.hasher.Hash(data); err != nil {
			return "", "", fmt.Errorf("hash document: %w", err)
		}
	}

	name := sink.DocumentName(result.City, c.cfg.Format)
	uri, err := c.store.PutDocument(ctx, name, sink.ContentType(c.cfg.Format), data)
	if err != nil {
		return "", "", fmt.Errorf("store document: %w", err)
	}
	return uri, digest, nil
}

// publishSummary emits the run-completion event. The document is already
// written at this point, so a publish failure only logs a warning.
func (c *Crawler) publishSummary(ctx context.Context, run *runState, result listing.Result, uri, digest string) {
	if c.cfg.Topic == "" || c.publisher == nil {
		return
	}
	summary := listing.Summary{
		RunID:       run.id,
		City:        result.City,
		Records:     len(result.Records),
		HasData:     result.HasData,
		OutputURI:   uri,
		ContentHash: digest,
		FinishedAt:  c.clock.Now(),
	}
	if _, err := c.publisher.Publish(ctx, c.cfg.Topic, summary); err != nil {
		c.logger.Warn("completion publish failed",
			zap.String("run_id", run.id),
			zap.String("topic", c.cfg.Topic),
			zap.Error(err),
		)
		return
	}
	c.logger.Debug("completion published",
		zap.String("run_id", run.id),
		zap.String("topic", c.cfg.Topic),
	)
}

func (c *Crawler) emit(evt progress.Event) {
	if c.progress == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = c.clock.Now()
	}
	c.progress.Emit(evt)
}

// eventRunID derives the binary event ID from a run ID, falling back to a
// derived UUID for generators that do not hand out UUID strings.
func eventRunID(runID string) [16]byte {
	if parsed, err := uuid.Parse(runID); err == nil {
		return progress.UUIDToBytes(parsed)
	}
	return progress.UUIDToBytes(uuid.NewSHA1(uuid.NameSpaceURL, []byte(runID)))
}

func classifyFetchErr(err error) progress.StatusClass {
	var fetchErr *listing.FetchError
	if errors.As(err, &fetchErr) && fetchErr.StatusCode != 0 {
		return progress.ClassifyStatus(fetchErr.StatusCode)
	}
	return progress.StatusOther
}
