package sitemap

import (
	"errors"
	"iter"
	"time"
)

const (
	// Window is how far back a post may be published to stay in the sitemap
	Window = 48 * time.Hour

	// DefaultLimit caps the number of entries in one sitemap
	DefaultLimit = 1000

	DefaultLanguage = "en"

	// DateLayout is used for publication dates and lastmod values
	DateLayout = "2006-01-02T15:04:05-07:00"

	SitemapNamespace = "http://www.sitemaps.org/schemas/sitemap/0.9"
	NewsNamespace    = "http://www.google.com/schemas/sitemap-news/0.9"
)

// ErrRepository wraps every content repository failure during selection
var ErrRepository = errors.New("content repository error")

// Item is a post snapshot as selected for one build
type Item struct {
	ID           int64
	URL          string
	Title        string
	PublishedAt  time.Time
	PostType     string
	StockTickers string
	Terms        map[string][]int64
}

// Sequence yields selected items once. Ranging over it again re-runs the
// query. A repository failure is yielded as the last element.
type Sequence = iter.Seq2[Item, error]

// SiteInfo is the host site identity used for the publication block
type SiteInfo struct {
	Name   string
	Locale string
}

// Publication is the news:publication block
type Publication struct {
	Name     string `xml:"news:name"`
	Language string `xml:"news:language"`
}

// SkipFunc returns true to leave item out of the sitemap
type SkipFunc func(item Item) bool

// ExtraFunc returns raw XML appended after the computed entries
type ExtraFunc func() string

// Clock returns the build time
type Clock func() time.Time
