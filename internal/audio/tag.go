package audio

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bogem/id3v2"
)

// ErrUnsupportedFormat is returned when tagging a file that cannot carry
// ID3v2 frames.
var ErrUnsupportedFormat = errors.New("only mp3 files can be tagged")

// Tags is the metadata written into a track.
type Tags struct {
	Title string
	// Album is the cassette name.
	Album string
	Track int
	Total int
	// Cover is an optional JPEG front cover.
	Cover []byte
}

// Tag writes t into the mp3 at path.
func Tag(path string, t Tags) error {
	if !strings.EqualFold(filepath.Ext(path), ".mp3") {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("id3 open %s: %w", path, err)
	}
	defer tag.Close()

	tag.SetVersion(3)
	tag.SetDefaultEncoding(id3v2.EncodingUTF16)
	if t.Title != "" {
		tag.SetTitle(t.Title)
	}
	if t.Album != "" {
		tag.SetAlbum(t.Album)
	}
	if t.Track > 0 {
		track := strconv.Itoa(t.Track)
		if t.Total > 0 {
			track += "/" + strconv.Itoa(t.Total)
		}
		tag.AddTextFrame(tag.CommonID("Track number/Position in set"), tag.DefaultEncoding(), track)
	}
	if len(t.Cover) > 0 {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    "image/jpeg",
			PictureType: id3v2.PTFrontCover,
			Description: "Front cover",
			Picture:     t.Cover,
		})
	}
	if err := tag.Save(); err != nil {
		return fmt.Errorf("id3 save %s: %w", path, err)
	}
	return nil
}
