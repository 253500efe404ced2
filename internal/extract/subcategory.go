package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/taped/internal/catalog"
)

const (
	subcategorySelector = "div.post-body h1.favourite-posts-title a"
	labelMarker         = "/label/"
)

// ErrMissingHref is returned when a subcategory anchor has no href.
var ErrMissingHref = errors.New("subcategory anchor has no href")

// Subcategories extracts the subcategory links of one category page in
// document order. Label searches become Label kinds carrying the decoded
// label; any other link is a single cassette post.
func Subcategories(body []byte) ([]catalog.Subcategory, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse category page: %w", err)
	}

	subcategories := make([]catalog.Subcategory, 0)
	var firstErr error
	doc.Find(subcategorySelector).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		sub, err := subcategoryFrom(a)
		if err != nil {
			firstErr = err
			return false
		}
		subcategories = append(subcategories, sub)
		return true
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return subcategories, nil
}

func subcategoryFrom(a *goquery.Selection) (catalog.Subcategory, error) {
	name := firstText(a)
	href, ok := a.Attr("href")
	if !ok {
		return catalog.Subcategory{}, fmt.Errorf("%w: %q", ErrMissingHref, name)
	}
	if !strings.Contains(href, labelMarker) {
		return catalog.Subcategory{Name: name, Kind: catalog.CassetteKind(href)}, nil
	}
	raw := href[strings.LastIndex(href, "/")+1:]
	label, err := url.PathUnescape(raw)
	if err != nil {
		return catalog.Subcategory{}, fmt.Errorf("decode label %q: %w", raw, err)
	}
	if !utf8.ValidString(label) {
		return catalog.Subcategory{}, fmt.Errorf("decode label %q: invalid utf-8", raw)
	}
	return catalog.Subcategory{Name: name, Kind: catalog.Label(label)}, nil
}
