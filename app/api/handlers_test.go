package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/news-comb/app/cache"
	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/events"
	"github.com/lysyi3m/news-comb/app/policy"
	"github.com/lysyi3m/news-comb/app/settings"
	"github.com/lysyi3m/news-comb/app/sitemap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "secret"

type testServer struct {
	engine      *gin.Engine
	coordinator *cache.Coordinator
	repo        *database.PostRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	db, err := database.NewConnection(filepath.Join(dir, "news.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, _, err = database.RunMigrations(db)
	require.NoError(t, err)

	settingsFile := filepath.Join(dir, "news.yml")
	require.NoError(t, os.WriteFile(settingsFile, []byte("news_sitemap_name: Example Times\n"), 0o644))
	stylesheet := filepath.Join(dir, "news-sitemap.xsl")
	require.NoError(t, os.WriteFile(stylesheet, []byte("<xsl:stylesheet/>"), 0o644))

	store := settings.NewStore(settingsFile)
	require.NoError(t, store.Load())

	repo := database.NewPostRepository(db)
	resolver := policy.NewResolver(store, repo, repo)
	selector := sitemap.NewSelector(repo, resolver)
	builder := sitemap.NewBuilder(store, sitemap.SiteInfo{Name: "Example Site", Locale: "en_US"}, false)
	pipeline := sitemap.NewPipeline(selector, builder, repo)

	coordinator := cache.NewCoordinator(cache.NewMemoryStore(), resolver, "site-1")
	coordinator.Register("news", pipeline.Build)

	bus := events.NewBus()
	bus.Subscribe(coordinator.HandleSave)
	store.Subscribe(func(settings.Settings) { coordinator.HandleSettingsChange(context.Background()) })

	handler := NewHandler(coordinator, pipeline, repo, bus, store, resolver, Options{
		BaseUrl:        "https://example.com/",
		Basename:       "news",
		StylesheetFile: stylesheet,
		SiteID:         "site-1",
		Version:        "test",
	})

	return &testServer{
		engine:      NewServer(handler, testKey),
		coordinator: coordinator,
		repo:        repo,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if strings.HasPrefix(path, "/api/") {
		req.Header.Set("X-API-Key", testKey)
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) state(t *testing.T) cache.State {
	t.Helper()
	state, err := s.coordinator.State(context.Background(), "news")
	require.NoError(t, err)
	return state
}

func TestGetSitemap(t *testing.T) {
	s := newTestServer(t)
	_, err := s.repo.SavePost(context.Background(), database.PostInput{
		ID: 1, PostType: "post", Permalink: "https://example.com/a", Title: "Budget passes", PublishedAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	w := s.do(t, http.MethodGet, "/news-sitemap.xml", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Equal(t, "text/xml; charset=UTF-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "noindex, follow", w.Header().Get("X-Robots-Tag"))
	assert.True(t, strings.HasPrefix(body, `<?xml version="1.0" encoding="UTF-8"?>`+"\n"+
		`<?xml-stylesheet type="text/xsl" href="https://example.com/news-sitemap.xsl"?>`+"\n<urlset"))
	assert.Contains(t, body, "<news:name>Example Times</news:name>")
	assert.Contains(t, body, "<news:title><![CDATA[Budget passes]]></news:title>")

	entry, err := s.coordinator.Entry(context.Background(), "news")
	require.NoError(t, err)
	assert.NotContains(t, string(entry.Body), "xml-stylesheet")
}

func TestGetSitemapIndex(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/sitemap_index.xml", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "<sitemap>")

	w = s.do(t, http.MethodPost, "/api/posts", PostRequest{
		ID: 7, PostType: "post", Permalink: "https://example.com/b", Title: "Breaking", PublishedAt: time.Now().Add(-time.Minute),
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/sitemap_index.xml", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Equal(t, 1, strings.Count(body, "<sitemap>"))
	assert.Contains(t, body, "<loc>https://example.com/news-sitemap.xml</loc>")
	assert.Contains(t, body, "<lastmod>")
}

func TestSavePostInvalidatesSitemap(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/news-sitemap.xml", nil).Code)
	require.Equal(t, cache.StateValid, s.state(t))

	w := s.do(t, http.MethodPost, "/api/posts", PostRequest{
		ID: 3, PostType: "post", Permalink: "https://example.com/c", PublishedAt: time.Now(), IsRevision: true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, cache.StateValid, s.state(t))

	w = s.do(t, http.MethodPost, "/api/posts", PostRequest{
		ID: 4, PostType: "page", Permalink: "https://example.com/about", PublishedAt: time.Now(),
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, cache.StateValid, s.state(t))

	w = s.do(t, http.MethodPost, "/api/posts", PostRequest{
		ID: 3, PostType: "post", Permalink: "https://example.com/c", PublishedAt: time.Now(),
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, cache.StateInvalid, s.state(t))

	w = s.do(t, http.MethodGet, "/news-sitemap.xml", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "https://example.com/c")
	assert.Equal(t, 1, strings.Count(w.Body.String(), "<url>"))
}

func TestSavePostReportsExclusion(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/posts", PostRequest{
		ID: 11, PostType: "post", Permalink: "https://example.com/hidden", PublishedAt: time.Now(), Suppressed: true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"excluded":true`)

	w = s.do(t, http.MethodPost, "/api/posts", PostRequest{
		ID: 12, PostType: "post", Permalink: "https://example.com/shown", PublishedAt: time.Now(),
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"excluded":false`)

	w = s.do(t, http.MethodPost, "/api/posts", PostRequest{
		ID: 12, PostType: "post", Permalink: "https://example.com/shown", PublishedAt: time.Now(), IsRevision: true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), `"excluded"`)
}

func TestSavePostValidation(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/posts", map[string]any{"title": "missing fields"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStylesheet(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/news-sitemap.xsl", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "<xsl:stylesheet/>", w.Body.String())
	assert.Equal(t, "text/xml", w.Header().Get("Content-Type"))
	assert.Equal(t, "noindex, follow", w.Header().Get("X-Robots-Tag"))
	assert.Equal(t, "public", w.Header().Get("Pragma"))
	assert.Equal(t, "maxage=31536000", w.Header().Get("Cache-Control"))

	expires, err := time.Parse(http.TimeFormat, w.Header().Get("Expires"))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(365*24*time.Hour), expires, time.Minute)
}

func TestAdminEndpoints(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/news-sitemap.xml", nil).Code)

	w := s.do(t, http.MethodGet, "/api/sitemap/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "valid", status["state"])
	assert.Equal(t, "/news-sitemap.xml", status["path"])

	w = s.do(t, http.MethodPost, "/api/sitemap/invalidate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, cache.StateInvalid, s.state(t))

	w = s.do(t, http.MethodPost, "/api/settings/reload", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"changed":false`)
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sitemap/status", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/sitemap/status", nil)
	req.Header.Set("Authorization", "Bearer "+testKey)
	w = httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/sitemap/status", nil)
	req.Header.Set("X-API-Key", "wrong")
	w = httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sitemap":"empty"`)
	assert.Contains(t, w.Body.String(), `"version":"test"`)
}
