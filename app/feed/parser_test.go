package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRSS2(t *testing.T) {
	rssData := `<?xml version="1.0"?>
<rss version="2.0" xmlns:news="http://www.google.com/schemas/sitemap-news/0.9">
  <channel>
    <title>Wire</title>
    <link>https://wire.example.com</link>
    <language>en-us</language>
    <item>
      <title> Markets open higher </title>
      <link>https://wire.example.com/markets</link>
      <guid>item-1</guid>
      <pubDate>Mon, 03 Jul 2023 10:00:00 GMT</pubDate>
      <category>Business</category>
      <category> </category>
      <news:stock_tickers>NASDAQ:AMAT, BOM:500325</news:stock_tickers>
    </item>
    <item>
      <title>Undated</title>
      <link>https://wire.example.com/undated</link>
    </item>
    <item>
      <title>No link</title>
    </item>
  </channel>
</rss>`

	metadata, items, err := NewParser().Run([]byte(rssData))
	require.NoError(t, err)

	assert.Equal(t, "Wire", metadata.Title)
	assert.Equal(t, "en-us", metadata.Language)
	require.Len(t, items, 2)

	first := items[0]
	assert.Equal(t, "item-1", first.GUID)
	assert.Equal(t, "Markets open higher", first.Title)
	assert.Equal(t, []string{"Business"}, first.Categories)
	assert.Equal(t, "NASDAQ:AMAT, BOM:500325", first.StockTickers)
	require.NotNil(t, first.PublishedAt)
	assert.True(t, first.PublishedAt.Equal(time.Date(2023, 7, 3, 10, 0, 0, 0, time.UTC)))

	second := items[1]
	assert.Equal(t, "https://wire.example.com/undated", second.GUID)
	assert.Nil(t, second.PublishedAt)
	assert.Empty(t, second.StockTickers)
}

func TestParseAtomUsesUpdatedDate(t *testing.T) {
	atomData := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Wire</title>
  <entry>
    <id>urn:uuid:1</id>
    <title>Election night</title>
    <link href="https://atom.example.com/election"/>
    <updated>2023-07-03T12:30:00Z</updated>
  </entry>
</feed>`

	_, items, err := NewParser().Run([]byte(atomData))
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, "urn:uuid:1", items[0].GUID)
	require.NotNil(t, items[0].PublishedAt)
	assert.True(t, items[0].PublishedAt.Equal(time.Date(2023, 7, 3, 12, 30, 0, 0, time.UTC)))
}

func TestParseInvalid(t *testing.T) {
	_, _, err := NewParser().Run([]byte("not a feed"))
	assert.Error(t, err)
}
