package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/taped/internal/extract"
)

// Paginator walks the post feed in a window of concurrent page requests.
//
// The first page is fetched alone. When it reports a total result count,
// scheduling stops at the first start index past that total; if that page
// still has entries the count was stale and scheduling continues unbounded.
// No page is scheduled once any page comes back empty, but pages already in
// flight are consumed.
//
// Without a total the first window is a full width of pages, so a feed with
// two non-empty pages is still asked for start indexes up to 1+width*size,
// plus at most one refill per non-empty page that completes before the first
// empty one. Blogger always sends openSearch$totalResults; the unbounded mode
// is the fallback for feeds that omit it.
type Paginator struct {
	fetcher  Fetcher
	feedURL  string
	pageSize int
	width    int
	logger   *zap.Logger
}

// NewPaginator builds a Paginator for the feed at feedURL.
func NewPaginator(fetcher Fetcher, feedURL string, pageSize, width int, logger *zap.Logger) *Paginator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if width <= 0 {
		width = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Paginator{
		fetcher:  fetcher,
		feedURL:  feedURL,
		pageSize: pageSize,
		width:    width,
		logger:   logger,
	}
}

type pageResult struct {
	page FeedPage
	err  error
}

// Pages returns every non-empty feed page ordered by start index.
func (p *Paginator) Pages(ctx context.Context) ([]FeedPage, error) {
	first, err := p.fetchPage(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(first.Entries) == 0 {
		return nil, nil
	}
	pages := []FeedPage{first}

	// limit is the highest start index that may be scheduled; zero means unbounded.
	limit := 0
	if first.HasTotal {
		limit = 1 + ceilDiv(first.Total, p.pageSize)*p.pageSize
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan pageResult)
	next := 1 + p.pageSize
	inflight := 0
	exhausted := false
	var firstErr error

	for {
		for !exhausted && inflight < p.width && (limit == 0 || next <= limit) {
			start := next
			next += p.pageSize
			inflight++
			go func() {
				page, err := p.fetchPage(ctx, start)
				results <- pageResult{page: page, err: err}
			}()
		}
		if inflight == 0 {
			if exhausted {
				break
			}
			p.logger.Warn("feed total was stale, continuing until an empty page",
				zap.Int("total", first.Total),
				zap.Int("next_start_index", next),
			)
			limit = 0
			continue
		}

		res := <-results
		inflight--
		switch {
		case res.err != nil:
			if firstErr == nil {
				firstErr = res.err
				cancel()
			}
			exhausted = true
		case len(res.page.Entries) == 0:
			exhausted = true
		default:
			pages = append(pages, res.page)
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].StartIndex < pages[j].StartIndex })
	return pages, nil
}

func (p *Paginator) fetchPage(ctx context.Context, startIndex int) (FeedPage, error) {
	pageURL, err := p.pageURL(startIndex)
	if err != nil {
		return FeedPage{}, err
	}
	resp, err := p.fetcher.Fetch(ctx, FetchRequest{URL: pageURL, Kind: PageKindFeed})
	if err != nil {
		return FeedPage{}, fmt.Errorf("fetch feed page %d: %w", startIndex, err)
	}
	doc, err := extract.DecodePage(resp.Body)
	if err != nil {
		return FeedPage{}, fmt.Errorf("decode feed page %d: %w", startIndex, err)
	}
	total, hasTotal := doc.Feed.Total()
	p.logger.Debug("feed page decoded",
		zap.Int("start_index", startIndex),
		zap.Int("entries", len(doc.Feed.Entry)),
	)
	return FeedPage{
		StartIndex: startIndex,
		Entries:    doc.Feed.Entry,
		Total:      total,
		HasTotal:   hasTotal,
	}, nil
}

func (p *Paginator) pageURL(startIndex int) (string, error) {
	u, err := url.Parse(p.feedURL)
	if err != nil {
		return "", fmt.Errorf("parse feed url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.New("feed url must be absolute")
	}
	q := u.Query()
	q.Set("alt", "json")
	q.Set("start-index", strconv.Itoa(startIndex))
	q.Set("max-results", strconv.Itoa(p.pageSize))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
