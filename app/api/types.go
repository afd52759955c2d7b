package api

import (
	"context"
	"encoding/xml"
	"time"

	"github.com/lysyi3m/news-comb/app/cache"
	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/events"
	"github.com/lysyi3m/news-comb/app/sitemap"
)

type SitemapCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Entry(ctx context.Context, key string) (*cache.Entry, error)
	InvalidateAll(ctx context.Context, reason string) error
}

type IndexSource interface {
	IndexEntries(ctx context.Context, loc string) ([]sitemap.IndexEntry, error)
}

type PostSaver interface {
	SavePost(ctx context.Context, post database.PostInput) (int64, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev events.SaveEvent)
}

type ExclusionChecker interface {
	IsExcluded(ctx context.Context, postID int64, postType string) (bool, error)
}

type SettingsReloader interface {
	Reload() (bool, error)
}

// Options carries the site-level values the handlers render with
type Options struct {
	BaseUrl        string
	Basename       string
	StylesheetFile string
	SiteID         string
	Version        string
}

type Handler struct {
	cache      SitemapCache
	index      IndexSource
	posts      PostSaver
	bus        Publisher
	settings   SettingsReloader
	exclusions ExclusionChecker
	opts       Options
	now        func() time.Time
}

// PostRequest is the payload of POST /api/posts
type PostRequest struct {
	ID            int64              `json:"id"`
	GUID          string             `json:"guid"`
	PostType      string             `json:"post_type" binding:"required"`
	Status        string             `json:"status"`
	Permalink     string             `json:"permalink" binding:"required"`
	Title         string             `json:"title"`
	PublishedAt   time.Time          `json:"published_at" binding:"required"`
	IsRevision    bool               `json:"is_revision"`
	RobotsNoindex bool               `json:"robots_noindex"`
	Suppressed    bool               `json:"suppressed"`
	StockTickers  string             `json:"stock_tickers"`
	Terms         map[string][]int64 `json:"terms"`
}

type sitemapIndex struct {
	XMLName  xml.Name             `xml:"sitemapindex"`
	Xmlns    string               `xml:"xmlns,attr"`
	Sitemaps []sitemap.IndexEntry `xml:"sitemap"`
}
