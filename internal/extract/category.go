package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/JakeFAU/taped/internal/catalog"
)

// ErrNavigationMissing is returned when the front page has no category menu.
var ErrNavigationMissing = errors.New("navigation menu not found")

const (
	navigationSelector = "ul#nav2"
	categorySelector   = "ul#nav2 li a"
	pageMarker         = "/p/"
)

// Categories extracts the top level categories from the site front page.
//
// Only menu anchors pointing at blog pages are kept. A URL that appears more
// than once keeps the name of its first occurrence.
func Categories(body []byte) ([]catalog.Category, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse front page: %w", err)
	}
	if doc.Find(navigationSelector).Length() == 0 {
		return nil, ErrNavigationMissing
	}

	categories := make([]catalog.Category, 0)
	seen := make(map[string]struct{})
	doc.Find(categorySelector).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || !strings.Contains(href, pageMarker) {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		categories = append(categories, catalog.Category{
			Name: NormalizeName(firstText(a)),
			URL:  href,
		})
	})
	return categories, nil
}

// NormalizeName trims the menu text, drops leading underscore markers, and
// capitalizes the first letter only. Letters are lowercased one by one; the
// only σ rewritten to ς is the last character of the whole name.
func NormalizeName(raw string) string {
	name := strings.TrimLeft(strings.TrimSpace(raw), "_")
	if name == "" {
		return ""
	}
	// Casers are stateful and not safe to share across goroutines.
	upper := cases.Upper(language.Und)
	lower := cases.Lower(language.Und, cases.HandleFinalSigma(false))
	first, size := utf8.DecodeRuneInString(name)
	normalized := upper.String(string(first)) + lower.String(name[size:])
	if strings.HasSuffix(normalized, "σ") {
		normalized = strings.TrimSuffix(normalized, "σ") + "ς"
	}
	return normalized
}

// firstText returns the first descendant text node of the selection, trimmed.
func firstText(s *goquery.Selection) string {
	for _, n := range s.Nodes {
		if text, ok := firstTextNode(n); ok {
			return strings.TrimSpace(text)
		}
	}
	return ""
}

func firstTextNode(n *html.Node) (string, bool) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			return c.Data, true
		}
		if text, ok := firstTextNode(c); ok {
			return text, true
		}
	}
	return "", false
}
