// Package catalog defines the cassette catalog records shared across subsystems.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	iduuid "github.com/JakeFAU/taped/internal/id/uuid"
)

// Category is a top level menu entry of the site. Identity is URL.
type Category struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// KindType discriminates the two subcategory variants.
type KindType int

// Subcategory kinds.
const (
	KindLabel KindType = iota + 1
	KindCassette
)

// SubcategoryKind is either a label search (Label) or a single cassette post
// (Cassette). Value holds the label string or the cassette URL respectively.
type SubcategoryKind struct {
	Type  KindType
	Value string
}

// Label returns a label-typed kind.
func Label(label string) SubcategoryKind {
	return SubcategoryKind{Type: KindLabel, Value: label}
}

// CassetteKind returns a cassette-typed kind matching a canonical URL.
func CassetteKind(url string) SubcategoryKind {
	return SubcategoryKind{Type: KindCassette, Value: url}
}

// String implements fmt.Stringer.
func (k SubcategoryKind) String() string {
	switch k.Type {
	case KindLabel:
		return "Label(" + k.Value + ")"
	case KindCassette:
		return "Cassette(" + k.Value + ")"
	default:
		return "Unknown(" + k.Value + ")"
	}
}

// MarshalJSON encodes the kind externally tagged: {"Label":"x"} or {"Cassette":"url"}.
func (k SubcategoryKind) MarshalJSON() ([]byte, error) {
	switch k.Type {
	case KindLabel:
		return json.Marshal(map[string]string{"Label": k.Value})
	case KindCassette:
		return json.Marshal(map[string]string{"Cassette": k.Value})
	default:
		return nil, fmt.Errorf("marshal subcategory kind: unknown type %d", k.Type)
	}
}

// UnmarshalJSON decodes the externally tagged form.
func (k *SubcategoryKind) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal subcategory kind: %w", err)
	}
	if len(raw) != 1 {
		return errors.New("unmarshal subcategory kind: expected exactly one variant")
	}
	for tag, value := range raw {
		switch tag {
		case "Label":
			*k = Label(value)
		case "Cassette":
			*k = CassetteKind(value)
		default:
			return fmt.Errorf("unmarshal subcategory kind: unknown variant %q", tag)
		}
	}
	return nil
}

// Subcategory is a second level grouping that resolves to a label filter or a
// single cassette.
type Subcategory struct {
	Name string          `json:"name"`
	Kind SubcategoryKind `json:"kind"`
}

// Cassette is one playable playlist post.
type Cassette struct {
	UUID          uuid.UUID     `json:"uuid"`
	Name          string        `json:"name"`
	SafeName      string        `json:"safe_name"`
	Path          string        `json:"path"`
	URL           string        `json:"url"`
	YTURL         string        `json:"yt_url"`
	ImageURL      *string       `json:"image_url"`
	Labels        []string      `json:"labels"`
	Subcategories []Subcategory `json:"subcategories"`
	CreatedAt     string        `json:"created_at"`
}

// Catalog maps cassette identity to record.
type Catalog map[uuid.UUID]Cassette

// ErrShortURL is returned when a URL lacks the year/month segments a path needs.
var ErrShortURL = errors.New("url has too few path segments")

// IdentityFor derives the stable identity of a canonical URL.
func IdentityFor(url string) uuid.UUID {
	return iduuid.FromURL(url)
}

// SafeName replaces path separators so the name can be used as a file name.
func SafeName(name string) string {
	return strings.ReplaceAll(name, "/", "-")
}

// PathFor builds cassettes/<year>/<month>/<safe_name> from a URL shaped like
// https://host/2019/01/slug.html.
func PathFor(url, safeName string) (string, error) {
	segments := strings.Split(url, "/")
	if len(segments) < 3 {
		return "", fmt.Errorf("%w: %q", ErrShortURL, url)
	}
	year := segments[len(segments)-3]
	month := segments[len(segments)-2]
	return strings.Join([]string{"cassettes", year, month, safeName}, "/"), nil
}

// Clone returns a shallow copy of the catalog map.
func (c Catalog) Clone() Catalog {
	out := make(Catalog, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
