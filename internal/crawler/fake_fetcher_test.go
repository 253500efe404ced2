package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/taped/internal/extract"
)

// fakeFetcher serves canned bodies. Feed requests are keyed by start index.
type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string][]byte
	feed     map[int][]byte
	errs     map[int]error
	pageErrs map[string]error
	// before runs ahead of a feed response; tests use it to reorder completion.
	before   func(ctx context.Context, startIndex int) error
	requests []FetchRequest
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:    make(map[string][]byte),
		feed:     make(map[int][]byte),
		errs:     make(map[int]error),
		pageErrs: make(map[string]error),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if req.Kind != PageKindFeed {
		if err := f.pageErrs[req.URL]; err != nil {
			return FetchResponse{}, err
		}
		body, ok := f.pages[req.URL]
		if !ok {
			return FetchResponse{}, fmt.Errorf("unexpected url %s", req.URL)
		}
		return FetchResponse{URL: req.URL, StatusCode: 200, Body: body}, nil
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		return FetchResponse{}, err
	}
	start, err := strconv.Atoi(u.Query().Get("start-index"))
	if err != nil {
		return FetchResponse{}, errors.New("missing start-index")
	}
	if f.before != nil {
		if err := f.before(ctx, start); err != nil {
			return FetchResponse{}, err
		}
	}
	if err := f.errs[start]; err != nil {
		return FetchResponse{}, err
	}
	body, ok := f.feed[start]
	if !ok {
		body = []byte(`{"feed":{}}`)
	}
	return FetchResponse{URL: req.URL, StatusCode: 200, Body: body}, nil
}

func (f *fakeFetcher) feedRequests() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var starts []int
	for _, req := range f.requests {
		if req.Kind != PageKindFeed {
			continue
		}
		u, _ := url.Parse(req.URL)
		n, _ := strconv.Atoi(u.Query().Get("start-index"))
		starts = append(starts, n)
	}
	return starts
}

func feedBody(t *testing.T, total int, entries []extract.Entry) []byte {
	t.Helper()
	doc := extract.Document{Version: "1.0", Encoding: "UTF-8"}
	if total >= 0 {
		doc.Feed.TotalResults = &extract.Text{T: strconv.Itoa(total)}
	}
	doc.Feed.Entry = entries
	body, err := json.Marshal(doc)
	require.NoError(t, err)
	return body
}

func plainEntries(n int, prefix string) []extract.Entry {
	entries := make([]extract.Entry, n)
	for i := range entries {
		entries[i] = extract.Entry{Title: extract.Text{T: fmt.Sprintf("%s-%d", prefix, i)}}
	}
	return entries
}

func cassetteEntry(title, postURL string, labels ...string) extract.Entry {
	categories := make([]extract.Category, 0, len(labels))
	for _, l := range labels {
		categories = append(categories, extract.Category{Term: l})
	}
	return extract.Entry{
		Title:     extract.Text{T: title},
		Published: extract.Text{T: "2019-01-10T10:00:00.000+02:00"},
		Content:   extract.Text{T: `<iframe src="https://www.youtube.com/embed/videoseries?list=PL` + title + `"></iframe>`},
		Category:  categories,
		Link: []extract.Link{
			{Rel: "replies", Href: "r"},
			{Rel: "edit", Href: "e"},
			{Rel: "alternate", Href: postURL},
		},
	}
}
