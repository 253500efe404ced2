package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/taped/internal/catalog"
)

var (
	// ErrNotCassette marks an entry without an embedded playlist. Such entries
	// are regular posts and are skipped silently.
	ErrNotCassette = errors.New("entry has no playlist embed")
	// ErrCanonicalLinkMissing marks an entry with fewer than three links.
	ErrCanonicalLinkMissing = errors.New("entry has no canonical link")
)

const (
	playlistHost   = "youtube.com"
	playlistMarker = "list"
	canonicalLink  = 2
)

// Cassette converts a feed entry into a cassette record. Subcategories are
// left empty; classification happens once the whole catalog is known.
func Cassette(entry Entry) (catalog.Cassette, error) {
	content, err := goquery.NewDocumentFromReader(strings.NewReader(entry.Content.T))
	if err != nil {
		return catalog.Cassette{}, fmt.Errorf("parse entry content: %w", err)
	}

	ytURL, ok := content.Find("iframe").First().Attr("src")
	if !ok || !strings.Contains(ytURL, playlistHost) || !strings.Contains(ytURL, playlistMarker) {
		return catalog.Cassette{}, ErrNotCassette
	}

	if len(entry.Link) <= canonicalLink {
		return catalog.Cassette{}, fmt.Errorf("%w: %d links", ErrCanonicalLinkMissing, len(entry.Link))
	}
	url := entry.Link[canonicalLink].Href

	name := strings.TrimSpace(entry.Title.T)
	safeName := catalog.SafeName(name)
	path, err := catalog.PathFor(url, safeName)
	if err != nil {
		return catalog.Cassette{}, fmt.Errorf("derive path: %w", err)
	}

	labels := make([]string, 0, len(entry.Category))
	for _, c := range entry.Category {
		labels = append(labels, c.Term)
	}

	var image *string
	if src, ok := content.Find("img").First().Attr("src"); ok {
		image = &src
	}

	return catalog.Cassette{
		UUID:          catalog.IdentityFor(url),
		Name:          name,
		SafeName:      safeName,
		Path:          path,
		URL:           url,
		YTURL:         ytURL,
		ImageURL:      image,
		Labels:        labels,
		Subcategories: []catalog.Subcategory{},
		CreatedAt:     entry.Published.T,
	}, nil
}
