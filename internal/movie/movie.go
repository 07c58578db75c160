// Package movie defines the identifiers shared by every backend call made
// for one movie.
package movie

import (
	"fmt"
	"net/url"
	"strings"
)

const unknownYear = "Unknown"

// Key identifies the backend preparation state for a movie, e.g.
// "Inception (2010)". A session computes it once and never changes it.
type Key string

// NewKey builds a Key from a title and a release year. An empty year is
// rendered as "Unknown".
func NewKey(title, year string) Key {
	year = strings.TrimSpace(year)
	if year == "" {
		year = unknownYear
	}
	return Key(fmt.Sprintf("%s (%s)", strings.TrimSpace(title), year))
}

// YearFromDate extracts the year from a YYYY-MM-DD release date.
func YearFromDate(date string) string {
	date = strings.TrimSpace(date)
	if date == "" {
		return ""
	}
	year, _, _ := strings.Cut(date, "-")
	return year
}

func (k Key) String() string { return string(k) }

// PathSegment returns the key escaped for use as a single URL path segment.
func (k Key) PathSegment() string {
	return url.PathEscape(string(k))
}

// Valid reports whether the key carries a non-empty title.
func (k Key) Valid() bool {
	title, _, _ := strings.Cut(string(k), " (")
	return strings.TrimSpace(title) != ""
}

// Ref is what the streaming endpoints need to locate a movie: the catalog
// id plus the Key used as the title.
type Ref struct {
	TMDBID string
	Key    Key
}
