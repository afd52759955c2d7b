package sitemap

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/lysyi3m/news-comb/app/settings"
)

type cdata struct {
	Value string `xml:",cdata"`
}

type newsBlock struct {
	Publication     Publication `xml:"news:publication"`
	PublicationDate string      `xml:"news:publication_date"`
	Title           cdata       `xml:"news:title"`
	StockTickers    *cdata      `xml:"news:stock_tickers,omitempty"`
}

// URLEntry is one <url> element of the news sitemap
type URLEntry struct {
	XMLName xml.Name  `xml:"url"`
	Loc     string    `xml:"loc"`
	News    newsBlock `xml:"news:news"`
}

type SettingsSource interface {
	Snapshot() settings.Settings
}

// Builder renders selected items as a news sitemap document
type Builder struct {
	settings SettingsSource
	site     SiteInfo
	debug    bool

	mu    sync.RWMutex
	skip  []SkipFunc
	extra []ExtraFunc
}

func NewBuilder(settings SettingsSource, site SiteInfo, debug bool) *Builder {
	return &Builder{
		settings: settings,
		site:     site,
		debug:    debug,
	}
}

// AddSkip registers a predicate consulted for every item, in order
func (b *Builder) AddSkip(fn SkipFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.skip = append(b.skip, fn)
}

// AddExtra registers a supplier of raw entries written after the computed ones
func (b *Builder) AddExtra(fn ExtraFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.extra = append(b.extra, fn)
}

// PublicationTag returns the publisher block. The site name stands in for an
// unset publisher name.
func (b *Builder) PublicationTag(s settings.Settings) Publication {
	name := s.Name
	if name == "" {
		name = b.site.Name
	}

	language := DefaultLanguage
	if len(b.site.Locale) >= 2 {
		language = b.site.Locale[:2]
	}

	return Publication{Name: name, Language: language}
}

// Entry builds the <url> element for item, or returns false when a skip
// predicate rejects it
func (b *Builder) Entry(item Item, pub Publication) (*URLEntry, bool) {
	b.mu.RLock()
	skip := b.skip
	b.mu.RUnlock()

	for _, fn := range skip {
		if fn(item) {
			return nil, false
		}
	}

	entry := &URLEntry{
		Loc: item.URL,
		News: newsBlock{
			Publication:     pub,
			PublicationDate: FormatDate(item.PublishedAt),
			Title:           cdata{Value: xmlText(item.Title)},
		},
	}
	if tickers := xmlText(item.StockTickers); tickers != "" {
		entry.News.StockTickers = &cdata{Value: tickers}
	}

	return entry, true
}

// Build renders the sitemap body for items. The document is only returned
// when the whole sequence was consumed without error.
func (b *Builder) Build(items Sequence) ([]byte, error) {
	start := time.Now()
	pub := b.PublicationTag(b.settings.Snapshot())

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "\t")

	urlset := xml.StartElement{
		Name: xml.Name{Local: "urlset"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns"}, Value: SitemapNamespace},
			{Name: xml.Name{Local: "xmlns:news"}, Value: NewsNamespace},
		},
	}
	if err := enc.EncodeToken(urlset); err != nil {
		return nil, fmt.Errorf("failed to write urlset: %w", err)
	}

	for item, err := range items {
		if err != nil {
			return nil, err
		}
		entry, ok := b.Entry(item, pub)
		if !ok {
			continue
		}
		if err := enc.Encode(entry); err != nil {
			return nil, fmt.Errorf("failed to encode entry %d: %w", item.ID, err)
		}
	}

	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush entries: %w", err)
	}

	b.mu.RLock()
	extra := b.extra
	b.mu.RUnlock()

	for _, fn := range extra {
		if raw := fn(); raw != "" {
			buf.WriteString("\n")
			buf.WriteString(raw)
		}
	}

	if err := enc.EncodeToken(urlset.End()); err != nil {
		return nil, fmt.Errorf("failed to close urlset: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush sitemap: %w", err)
	}
	buf.WriteString("\n")

	if b.debug {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		fmt.Fprintf(&buf, "<!-- %.4fs / %.2f MB -->\n",
			time.Since(start).Seconds(), float64(mem.HeapInuse)/1024/1024)
	}

	return buf.Bytes(), nil
}

var diagnosticsTrailer = regexp.MustCompile(`<!-- [0-9.]+s / [0-9.]+ MB -->\n?$`)

// StripDiagnostics removes the debug trailer if present
func StripDiagnostics(body []byte) []byte {
	return diagnosticsTrailer.ReplaceAll(body, nil)
}

// xmlText makes s safe for a CDATA section. The encoder writes CDATA
// unchecked, so invalid UTF-8 and runes outside the XML 1.0 Char range are
// dropped here.
func xmlText(s string) string {
	s = strings.ToValidUTF8(s, "")
	return strings.Map(func(r rune) rune {
		if isXMLChar(r) {
			return r
		}
		return -1
	}, s)
}

func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= 0x10FFFF)
}

// FormatDate renders t in the site timezone
func FormatDate(t time.Time) string {
	return t.In(time.Local).Format(DateLayout)
}
