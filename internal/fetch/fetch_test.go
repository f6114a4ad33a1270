package fetch

import (
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
)

func TestBuildCollector(t *testing.T) {
	t.Parallel()

	c := New(Config{UserAgent: "tablehawk-test", Timeout: time.Second})
	var probe probeState

	collector := c.buildCollector(time.Unix(0, 0), &probe)
	if collector.UserAgent != "tablehawk-test" {
		t.Fatalf("expected user agent override, got %q", collector.UserAgent)
	}
	if !collector.IgnoreRobotsTxt {
		t.Fatal("expected robots txt to be ignored by default")
	}
}

func TestBuildCollectorRespectsRobots(t *testing.T) {
	t.Parallel()

	c := New(Config{RespectRobots: true})
	var probe probeState

	collector := c.buildCollector(time.Unix(0, 0), &probe)
	if collector.IgnoreRobotsTxt {
		t.Fatal("expected robots txt to be respected when configured")
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	var probe probeState

	hooks := &stubHooks{}
	c.configureCollectorHooks(hooks, time.Now(), &probe)
	if hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("<html></html>"),
		Headers:    &http.Header{"Content-Type": {"text/html"}},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://www.quandoo.de/en/result?destination=berlin"),
		},
	})
	if probe.page.StatusCode != http.StatusOK || string(probe.page.Body) != "<html></html>" {
		t.Fatalf("unexpected page: %+v", probe.page)
	}
	if probe.page.URL != "https://www.quandoo.de/en/result?destination=berlin" {
		t.Fatalf("unexpected page URL: %q", probe.page.URL)
	}
	if probe.page.UsedHeadless {
		t.Fatal("plain fetches must not be marked headless")
	}

	hooks.onError(&colly.Response{StatusCode: http.StatusNotFound}, errors.New("boom"))
	if probe.err == nil || probe.err.Error() != "boom" {
		t.Fatalf("expected error captured, got %v", probe.err)
	}
	if probe.errStatus != http.StatusNotFound {
		t.Fatalf("expected status captured, got %d", probe.errStatus)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
