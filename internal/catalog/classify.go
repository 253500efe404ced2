package catalog

import "slices"

// Classify returns the subcategories matching the cassette: a Label matches
// when the cassette carries that exact label, a Cassette kind when its URL
// equals the cassette URL byte for byte.
func Classify(c Cassette, subcategories []Subcategory) []Subcategory {
	matched := make([]Subcategory, 0)
	for _, sc := range subcategories {
		switch sc.Kind.Type {
		case KindLabel:
			if slices.Contains(c.Labels, sc.Kind.Value) {
				matched = append(matched, sc)
			}
		case KindCassette:
			if c.URL == sc.Kind.Value {
				matched = append(matched, sc)
			}
		}
	}
	return matched
}

// ClassifyAll fills Subcategories on every cassette of the catalog in place.
func ClassifyAll(c Catalog, subcategories []Subcategory) {
	for id, cassette := range c {
		cassette.Subcategories = Classify(cassette, subcategories)
		c[id] = cassette
	}
}
