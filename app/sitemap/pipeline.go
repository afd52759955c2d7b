package sitemap

import (
	"context"
	"encoding/xml"
	"fmt"
	"time"
)

const (
	DefaultBasename  = "news"
	fallbackBasename = "comb-news"
)

// LastModSource returns the newest publish time of any published post
type LastModSource interface {
	LastPublishedAt(ctx context.Context) (*time.Time, error)
}

// IndexEntry is the <sitemap> element contributed to the sitemap index
type IndexEntry struct {
	XMLName xml.Name `xml:"sitemap"`
	Loc     string   `xml:"loc"`
	LastMod string   `xml:"lastmod,omitempty"`
}

// Pipeline runs selection and rendering for one sitemap
type Pipeline struct {
	selector *Selector
	builder  *Builder
	lastMod  LastModSource
}

func NewPipeline(selector *Selector, builder *Builder, lastMod LastModSource) *Pipeline {
	return &Pipeline{
		selector: selector,
		builder:  builder,
		lastMod:  lastMod,
	}
}

// Build selects eligible items and renders the sitemap body
func (p *Pipeline) Build(ctx context.Context) ([]byte, error) {
	return p.builder.Build(p.selector.Select(ctx, DefaultLimit))
}

func (p *Pipeline) Exists(ctx context.Context) (bool, error) {
	return p.selector.Exists(ctx)
}

// IndexEntries returns the entries this sitemap contributes to the index:
// none when nothing is eligible, otherwise exactly one
func (p *Pipeline) IndexEntries(ctx context.Context, loc string) ([]IndexEntry, error) {
	exists, err := p.selector.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	entry := IndexEntry{Loc: loc}

	last, err := p.lastMod.LastPublishedAt(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}
	if last != nil {
		entry.LastMod = FormatDate(*last)
	}

	return []IndexEntry{entry}, nil
}

// Basename picks the sitemap basename. A configured name wins; otherwise
// "news" is used unless a post type of that name would collide with it.
func Basename(configured string, newsTypeExists bool) string {
	switch {
	case configured != "":
		return configured
	case newsTypeExists:
		return fallbackBasename
	default:
		return DefaultBasename
	}
}
