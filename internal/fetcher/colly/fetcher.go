// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/taped/internal/crawler"
	"github.com/JakeFAU/taped/internal/metrics"
)

// DefaultTimeout bounds a single request when Config.Timeout is zero.
const DefaultTimeout = 15 * time.Second

// Limiter delays requests to respect upstream politeness.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// Concurrency caps in-flight requests across every caller of the fetcher.
	Concurrency int
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	slots         *semaphore.Weighted
	limiter       Limiter
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithLimiter installs a politeness limiter consulted before every request.
func WithLimiter(l Limiter) Option {
	return func(f *Fetcher) {
		f.limiter = l
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) {
		f.transport = rt
	}
}

// New builds a Fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = crawler.DefaultConcurrency
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	// The catalog is rebuilt periodically from the same URLs.
	c.AllowURLRevisit = true

	f := &Fetcher{
		cfg:           cfg,
		transport:     newHTTPTransport(),
		baseCollector: c,
		slots:         semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
	for _, opt := range opts {
		opt(f)
	}
	// Clones share the base collector's HTTP backend, so it is configured once.
	c.WithTransport(f.transport)
	c.SetRequestTimeout(cfg.Timeout)
	return f
}

// Fetch executes a single HTTP GET using Colly. Non-2xx responses are errors.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := ctx.Err(); err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, err)
	}
	if err := f.slots.Acquire(ctx, 1); err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("acquire fetch slot: %w", err)
	}
	// From here the slot belongs to runCollector, which frees it when the
	// visit itself ends.
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, request.URL); err != nil {
			f.slots.Release(1)
			return crawler.FetchResponse{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		metrics.ObserveFetch(string(request.Kind), "error", 0)
		return crawler.FetchResponse{}, err
	}
	metrics.ObserveFetch(string(request.Kind), "ok", len(result.Body))
	return result, nil
}

func (f *Fetcher) buildCollector(
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots

	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

// runCollector visits url and releases the caller's fetch slot once the
// visit returns. A canceled caller returns early but the abandoned request
// keeps its slot until the transport gives up on it.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		defer f.slots.Release(1)
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(request crawler.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
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
