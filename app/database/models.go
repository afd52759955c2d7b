package database

import (
	"time"
)

const (
	StatusPublish = "publish"

	ObjectTypePost     = "post"
	ObjectTypeRevision = "revision"

	MetaSuppressed   = "_news_robots_index"
	MetaStockTickers = "_news_stock_tickers"
)

// Post is a content row as read for the sitemap
type Post struct {
	ID           int64
	PostType     string
	Permalink    string
	Title        string
	PublishedAt  time.Time
	StockTickers string
	Terms        map[string][]int64 // term IDs per taxonomy
}

// PostInput describes a content save coming from the host or an ingest source
type PostInput struct {
	ID            int64  // zero inserts a new row (or upserts by GUID)
	GUID          string // optional dedup key for ingested content
	ObjectType    string // post, revision, attachment
	PostType      string
	Status        string
	Permalink     string
	Title         string
	PublishedAt   time.Time
	RobotsNoindex bool
	Suppressed    bool
	StockTickers  string
	Terms         map[string][]int64
}

// EligibleQuery is the filter for FindEligible. ExcludedTerms maps a post
// type to the term IDs that exclude posts of that type.
type EligibleQuery struct {
	PostTypes     []string
	ExcludedTerms map[string][]int64
	Since         time.Time
	Limit         int
}
