package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/taped/internal/catalog"
	"github.com/JakeFAU/taped/internal/extract"
	"github.com/JakeFAU/taped/internal/metrics"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultFeedPath    = "/feeds/posts/default"
	DefaultPageSize    = 25
	DefaultConcurrency = 5
)

// Config holds the settings for a catalog build.
type Config struct {
	BaseURL     string
	FeedPath    string
	PageSize    int
	Concurrency int
}

// Pipeline runs the category and feed crawls and merges them into a catalog.
type Pipeline struct {
	cfg       Config
	fetcher   Fetcher
	paginator *Paginator
	logger    *zap.Logger
}

// NewPipeline validates cfg and builds a Pipeline.
func NewPipeline(cfg Config, fetcher Fetcher, logger *zap.Logger) (*Pipeline, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	if cfg.FeedPath == "" {
		cfg.FeedPath = DefaultFeedPath
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("crawler")
	return &Pipeline{
		cfg:       cfg,
		fetcher:   fetcher,
		paginator: NewPaginator(fetcher, cfg.BaseURL+cfg.FeedPath, cfg.PageSize, cfg.Concurrency, logger),
		logger:    logger,
	}, nil
}

// Build crawls the upstream and returns a fully classified catalog. Any
// page-level failure aborts the attempt.
func (p *Pipeline) Build(ctx context.Context) (catalog.Catalog, error) {
	start := time.Now()
	var (
		subcategories []catalog.Subcategory
		cassettes     []catalog.Cassette
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		subcategories, err = p.Subcategories(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		cassettes, err = p.Cassettes(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		metrics.ObserveBuild(time.Since(start), err)
		return nil, err
	}

	out := make(catalog.Catalog, len(cassettes))
	for _, c := range cassettes {
		out[c.UUID] = c
	}
	catalog.ClassifyAll(out, subcategories)

	metrics.ObserveBuild(time.Since(start), nil)
	p.logger.Info("catalog built",
		zap.Int("cassettes", len(out)),
		zap.Int("subcategories", len(subcategories)),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

// Subcategories fetches the front page and every category page, returning
// the subcategories in category order.
func (p *Pipeline) Subcategories(ctx context.Context) ([]catalog.Subcategory, error) {
	front, err := p.fetcher.Fetch(ctx, FetchRequest{URL: p.cfg.BaseURL, Kind: PageKindFront})
	if err != nil {
		return nil, fmt.Errorf("fetch front page: %w", err)
	}
	categories, err := extract.Categories(front.Body)
	if err != nil {
		return nil, fmt.Errorf("extract categories: %w", err)
	}
	p.logger.Debug("categories extracted", zap.Int("count", len(categories)))

	perCategory := make([][]catalog.Subcategory, len(categories))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, category := range categories {
		g.Go(func() error {
			resp, err := p.fetcher.Fetch(gctx, FetchRequest{URL: category.URL, Kind: PageKindCategory})
			if err != nil {
				return fmt.Errorf("fetch category %q: %w", category.Name, err)
			}
			subs, err := extract.Subcategories(resp.Body)
			if err != nil {
				return fmt.Errorf("extract subcategories of %q: %w", category.Name, err)
			}
			perCategory[i] = subs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make([]catalog.Subcategory, 0)
	for _, subs := range perCategory {
		merged = append(merged, subs...)
	}
	return merged, nil
}

// Cassettes walks the feed and extracts every cassette entry in feed order.
// Entries that are not cassettes or lack required structure are skipped.
func (p *Pipeline) Cassettes(ctx context.Context) ([]catalog.Cassette, error) {
	pages, err := p.paginator.Pages(ctx)
	if err != nil {
		return nil, err
	}

	cassettes := make([]catalog.Cassette, 0)
	for _, page := range pages {
		for i, entry := range page.Entries {
			c, err := extract.Cassette(entry)
			if err != nil {
				p.skipEntry(page.StartIndex+i, entry, err)
				continue
			}
			cassettes = append(cassettes, c)
		}
	}
	return cassettes, nil
}

func (p *Pipeline) skipEntry(position int, entry extract.Entry, err error) {
	if errors.Is(err, extract.ErrNotCassette) {
		metrics.ObserveSkippedEntry("not_cassette")
		return
	}
	reason := "malformed"
	if errors.Is(err, extract.ErrCanonicalLinkMissing) {
		reason = "missing_link"
	}
	metrics.ObserveSkippedEntry(reason)
	p.logger.Warn("skipping feed entry",
		zap.Int("position", position),
		zap.String("title", entry.Title.T),
		zap.Error(err),
	)
}
