package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrFeedCorrupt marks a feed page that does not decode into Document.
var ErrFeedCorrupt = errors.New("feed page is corrupt")

// Text is the Blogger JSON wrapper for scalar values ({"$t": "..."}).
type Text struct {
	T string `json:"$t"`
}

// Document is the subset of the Blogger JSON feed the crawl consumes.
type Document struct {
	Version  string `json:"version"`
	Encoding string `json:"encoding"`
	Feed     Feed   `json:"feed"`
}

// Feed carries the paging metadata and the posts of one page.
type Feed struct {
	ID           Text    `json:"id"`
	Updated      Text    `json:"updated"`
	Title        Text    `json:"title"`
	TotalResults *Text   `json:"openSearch$totalResults,omitempty"`
	StartIndex   *Text   `json:"openSearch$startIndex,omitempty"`
	ItemsPerPage *Text   `json:"openSearch$itemsPerPage,omitempty"`
	Entry        []Entry `json:"entry"`
}

// Entry is one blog post.
type Entry struct {
	ID        Text       `json:"id"`
	Published Text       `json:"published"`
	Updated   Text       `json:"updated"`
	Category  []Category `json:"category"`
	Title     Text       `json:"title"`
	Content   Text       `json:"content"`
	Link      []Link     `json:"link"`
}

// Category is a post label.
type Category struct {
	Scheme string `json:"scheme,omitempty"`
	Term   string `json:"term"`
}

// Link is a declared relation of a post. The third one is the post permalink.
type Link struct {
	Rel   string `json:"rel"`
	Type  string `json:"type,omitempty"`
	Href  string `json:"href"`
	Title string `json:"title,omitempty"`
}

// Total reports the feed's openSearch$totalResults when present and numeric.
func (f Feed) Total() (int, bool) {
	if f.TotalResults == nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(f.TotalResults.T))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

var doubledDelimiter = []byte(",,")

// DecodePage decodes one feed page. When the body is not valid JSON and
// contains a doubled delimiter, the delimiters are collapsed and decoding is
// retried once.
func DecodePage(body []byte) (*Document, error) {
	doc, err := decodeDocument(body)
	if err == nil {
		return doc, nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) || !bytes.Contains(body, doubledDelimiter) {
		return nil, fmt.Errorf("%w: %w", ErrFeedCorrupt, err)
	}
	repaired := bytes.ReplaceAll(body, doubledDelimiter, []byte(","))
	doc, err = decodeDocument(repaired)
	if err != nil {
		return nil, fmt.Errorf("%w: after delimiter repair: %w", ErrFeedCorrupt, err)
	}
	return doc, nil
}

func decodeDocument(body []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
