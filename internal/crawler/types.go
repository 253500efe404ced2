package crawler

import (
	"net/http"
	"time"

	"github.com/JakeFAU/taped/internal/extract"
)

// PageKind labels the upstream page shape a request targets.
type PageKind string

// Upstream page kinds.
const (
	PageKindFront    PageKind = "front"
	PageKindCategory PageKind = "category"
	PageKindFeed     PageKind = "feed"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Kind    PageKind
	Headers http.Header
}

// FetchResponse is the body and metadata of a successful fetch.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// FeedPage is one decoded page of the post feed.
type FeedPage struct {
	StartIndex int
	Entries    []extract.Entry
	Total      int
	HasTotal   bool
}
