// Package fetch implements the page fetcher on top of gocolly.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/nvisser/tablehawk/internal/listing"
)

const defaultTimeout = 10 * time.Second

var errEmptyBody = errors.New("empty response body")

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	Timeout       time.Duration
	RespectRobots bool
}

// Client implements listing.Fetcher using the Colly collector.
type Client struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Client with a pooled transport shared across requests.
func New(cfg Config) *Client {
	c := colly.NewCollector(colly.Async(false))
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Client{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET. Transport failures, non-success statuses
// and empty bodies all surface as *listing.FetchError; there are no retries.
func (c *Client) Fetch(ctx context.Context, url string) (listing.Page, error) {
	start := time.Now()

	var probe probeState
	collector := c.buildCollector(start, &probe)

	if err := c.runCollector(ctx, collector, url); err != nil {
		// OnError sees the response status; Visit's return value does not.
		if probe.err != nil {
			return listing.Page{}, &listing.FetchError{URL: url, StatusCode: probe.errStatus, Err: probe.err}
		}
		return listing.Page{}, err
	}
	if probe.err != nil {
		return listing.Page{}, &listing.FetchError{URL: url, StatusCode: probe.errStatus, Err: probe.err}
	}
	if len(probe.page.Body) == 0 {
		return listing.Page{}, &listing.FetchError{URL: url, StatusCode: probe.page.StatusCode, Err: errEmptyBody}
	}
	return probe.page, nil
}

type probeState struct {
	page      listing.Page
	err       error
	errStatus int
}

func (c *Client) buildCollector(start time.Time, probe *probeState) *colly.Collector {
	collector := c.baseCollector.Clone()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !c.cfg.RespectRobots

	timeout := c.cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(c.transport)

	c.configureCollectorHooks(collector, start, probe)
	return collector
}

func (c *Client) configureCollectorHooks(hooks collectorHooks, start time.Time, probe *probeState) {
	hooks.OnResponse(func(r *colly.Response) {
		probe.page = listing.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		probe.err = err
		if r != nil {
			probe.errStatus = r.StatusCode
		}
	})
}

func (c *Client) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return &listing.FetchError{URL: url, Err: err}
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
