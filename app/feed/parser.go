package feed

import (
	"bytes"
	"cmp"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
	}
}

func (p *Parser) Run(data []byte) (*Metadata, []Item, error) {
	feed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	metadata := &Metadata{
		Title:    feed.Title,
		Link:     feed.Link,
		Language: feed.Language,
	}

	items := make([]Item, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil || item.Link == "" {
			continue
		}
		items = append(items, p.normalizeItem(item))
	}

	return metadata, items, nil
}

func (p *Parser) normalizeItem(item *gofeed.Item) Item {
	normalized := Item{
		GUID:         cmp.Or(item.GUID, item.Link),
		Title:        strings.TrimSpace(item.Title),
		Link:         item.Link,
		StockTickers: stockTickers(item.Extensions),
	}

	// Atom entries without a published date still carry an updated one
	switch {
	case item.PublishedParsed != nil:
		t := item.PublishedParsed.UTC()
		normalized.PublishedAt = &t
	case item.UpdatedParsed != nil:
		t := item.UpdatedParsed.UTC()
		normalized.PublishedAt = &t
	}

	for _, category := range item.Categories {
		if category = strings.TrimSpace(category); category != "" {
			normalized.Categories = append(normalized.Categories, category)
		}
	}

	return normalized
}

// stockTickers reads <news:news><news:stock_tickers> from upstream news sitemaps-style feeds
func stockTickers(extensions ext.Extensions) string {
	for _, news := range extensions["news"]["news"] {
		for _, tickers := range news.Children["stock_tickers"] {
			if v := strings.TrimSpace(tickers.Value); v != "" {
				return v
			}
		}
	}
	for _, tickers := range extensions["news"]["stock_tickers"] {
		if v := strings.TrimSpace(tickers.Value); v != "" {
			return v
		}
	}
	return ""
}
