package feed

import (
	"time"
)

type Metadata struct {
	Title    string
	Link     string
	Language string
}

// Item is an upstream feed entry normalized for storage as a post
type Item struct {
	GUID         string
	Title        string
	Link         string
	PublishedAt  *time.Time // nil when the feed carries no usable date
	Categories   []string
	StockTickers string
}
