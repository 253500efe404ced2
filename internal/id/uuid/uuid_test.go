// Package uuid includes tests for the name-based identity helpers.
package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

// TestFromURLDeterministic ensures the same URL always yields the same ID.
func TestFromURLDeterministic(t *testing.T) {
	t.Parallel()

	const url = "https://www.kasetophono.com/2019/01/nero.html"
	first := FromURL(url)
	second := FromURL(url)
	if first != second {
		t.Fatalf("expected stable ID, got %s and %s", first, second)
	}
	if first.Version() != 5 {
		t.Fatalf("expected version 5, got %d", first.Version())
	}
	if want := goUUID.NewSHA1(goUUID.NameSpaceURL, []byte(url)); first != want {
		t.Fatalf("expected %s, got %s", want, first)
	}
}

// TestFromURLDistinct checks different URLs map to different IDs.
func TestFromURLDistinct(t *testing.T) {
	t.Parallel()

	a := FromURL("https://www.kasetophono.com/2019/01/nero.html")
	b := FromURL("https://www.kasetophono.com/2019/01/nero2.html")
	if a == b {
		t.Fatalf("expected distinct IDs, both were %s", a)
	}
}
