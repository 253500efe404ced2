package extract_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/taped/internal/catalog"
	"github.com/JakeFAU/taped/internal/extract"
)

const cassetteURL = "https://www.kasetophono.com/2019/01/nero.html"

func cassetteEntry() extract.Entry {
	return extract.Entry{
		Title:     extract.Text{T: "  Νερό / Water "},
		Published: extract.Text{T: "2019-01-10T10:00:00.000+02:00"},
		Content: extract.Text{T: `<div><img src="https://img.example/cover.jpg"><img src="https://img.example/other.jpg">` +
			`<iframe src="https://www.youtube.com/embed/videoseries?list=PL123" width="560"></iframe></div>`},
		Category: []extract.Category{{Term: "Balkan"}, {Term: "Jazz"}, {Term: "Balkan"}},
		Link: []extract.Link{
			{Rel: "replies", Href: "https://www.kasetophono.com/feeds/1/comments"},
			{Rel: "edit", Href: "https://www.blogger.com/feeds/1"},
			{Rel: "alternate", Type: "text/html", Href: cassetteURL},
		},
	}
}

func TestCassette(t *testing.T) {
	t.Parallel()

	got, err := extract.Cassette(cassetteEntry())
	require.NoError(t, err)

	require.NotNil(t, got.ImageURL)
	assert.Equal(t, "https://img.example/cover.jpg", *got.ImageURL)
	assert.Equal(t, catalog.IdentityFor(cassetteURL), got.UUID)
	assert.Equal(t, "Νερό / Water", got.Name)
	assert.Equal(t, "Νερό - Water", got.SafeName)
	assert.Equal(t, "cassettes/2019/01/Νερό - Water", got.Path)
	assert.Equal(t, cassetteURL, got.URL)
	assert.Equal(t, "https://www.youtube.com/embed/videoseries?list=PL123", got.YTURL)
	assert.Equal(t, []string{"Balkan", "Jazz", "Balkan"}, got.Labels)
	assert.Empty(t, got.Subcategories)
	assert.Equal(t, "2019-01-10T10:00:00.000+02:00", got.CreatedAt)
}

func TestCassetteIsDeterministic(t *testing.T) {
	t.Parallel()

	first, err := extract.Cassette(cassetteEntry())
	require.NoError(t, err)
	second, err := extract.Cassette(cassetteEntry())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCassetteWithoutImage(t *testing.T) {
	t.Parallel()

	entry := cassetteEntry()
	entry.Content.T = `<iframe src="https://www.youtube.com/embed/videoseries?list=PL1"></iframe>`
	got, err := extract.Cassette(entry)
	require.NoError(t, err)
	assert.Nil(t, got.ImageURL)
}

func TestCassetteSkipsNonPlaylists(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "no iframe", content: `<p>just text</p>`},
		{name: "single video", content: `<iframe src="https://www.youtube.com/embed/abc"></iframe>`},
		{name: "other host", content: `<iframe src="https://player.vimeo.com/video?list=1"></iframe>`},
		{name: "only first iframe counts", content: `<iframe src="https://example.com/x"></iframe><iframe src="https://www.youtube.com/embed/videoseries?list=PL1"></iframe>`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			entry := cassetteEntry()
			entry.Content.T = tc.content
			_, err := extract.Cassette(entry)
			require.ErrorIs(t, err, extract.ErrNotCassette)
		})
	}
}

func TestCassetteRequiresCanonicalLink(t *testing.T) {
	t.Parallel()

	entry := cassetteEntry()
	entry.Link = entry.Link[:2]
	_, err := extract.Cassette(entry)
	require.ErrorIs(t, err, extract.ErrCanonicalLinkMissing)
}

func TestCassetteRequiresDatedURL(t *testing.T) {
	t.Parallel()

	entry := cassetteEntry()
	entry.Link[2].Href = "nero.html"
	_, err := extract.Cassette(entry)
	require.ErrorIs(t, err, catalog.ErrShortURL)
}
