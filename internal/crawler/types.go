package crawler

import (
	"net/http"
	"time"
)

// CollectionKind selects which index API family a collection is walked with.
type CollectionKind string

// Supported collection kinds.
const (
	// KindPrimary walks groups -> subgroups -> ship lists.
	KindPrimary CollectionKind = "primary"
	// KindSecondary walks ranges -> paged listings.
	KindSecondary CollectionKind = "secondary"
)

// Collection describes one registry crawled from the site. Collections are
// never mixed: each has its own index API, sink table and id namespace.
type Collection struct {
	Name          string         `mapstructure:"name"`
	Kind          CollectionKind `mapstructure:"kind"`
	Enabled       bool           `mapstructure:"enabled"`
	APIPath       string         `mapstructure:"api_path"`
	Table         string         `mapstructure:"table"`
	ExcludeTitles []string       `mapstructure:"exclude_titles"`
}

// IndexGroup is a top-level discovery bucket returned by the groups list call.
type IndexGroup struct {
	Key string
}

// IndexSubgroup refines a group into a character range.
type IndexSubgroup struct {
	GroupKey   string
	RangeStart string
	RangeEnd   string
	IsEmpty    bool
}

// Range renders the subgroup in the "<start>-<end>" form used by the ship list call.
func (s IndexSubgroup) Range() string {
	return s.RangeStart + "-" + s.RangeEnd
}

// LetterRange is a paged slice of the secondary collection's listing.
type LetterRange struct {
	Offset  int
	Limit   int
	IsEmpty bool
}

// EntityStub is a discovered reference to a detail page.
type EntityStub struct {
	Path     string `json:"path"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
}

// EntityRecord is the persisted unit produced for every resolved stub.
type EntityRecord struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Body     string `json:"history"`
}

// Page is the result returned by a Fetcher implementation.
type Page struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// OK reports whether the page was served with a 2xx status.
func (p Page) OK() bool {
	return p.StatusCode >= 200 && p.StatusCode < 300
}
