package api

import (
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/news-comb/app/cache"
	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/events"
	"github.com/lysyi3m/news-comb/app/sitemap"
	"github.com/samber/lo"
)

const (
	xmlHeader       = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"
	xmlContentType  = "text/xml; charset=UTF-8"
	stylesheetCache = 365 * 24 * time.Hour
)

func NewHandler(sitemaps SitemapCache, index IndexSource, posts PostSaver, bus Publisher,
	settings SettingsReloader, exclusions ExclusionChecker, opts Options) *Handler {
	opts.BaseUrl = strings.TrimRight(opts.BaseUrl, "/")

	return &Handler{
		cache:      sitemaps,
		index:      index,
		posts:      posts,
		bus:        bus,
		settings:   settings,
		exclusions: exclusions,
		opts:       opts,
		now:        time.Now,
	}
}

func (h *Handler) sitemapPath() string {
	return "/" + h.opts.Basename + "-sitemap.xml"
}

func (h *Handler) stylesheetPath() string {
	return "/" + h.opts.Basename + "-sitemap.xsl"
}

// GetSitemap serves the cached news sitemap. The stylesheet instruction is
// attached here and never stored with the artifact.
func (h *Handler) GetSitemap(c *gin.Context) {
	body, err := h.cache.Get(c.Request.Context(), h.opts.Basename)
	if err != nil {
		slog.Error("Sitemap build error", "feed", h.opts.Basename, "error", err)
		c.Status(lo.Ternary(buildFailed(err), http.StatusServiceUnavailable, http.StatusInternalServerError))
		return
	}

	var out strings.Builder
	out.Grow(len(body) + 200)
	out.WriteString(xmlHeader)
	fmt.Fprintf(&out, `<?xml-stylesheet type="text/xsl" href="%s%s"?>`+"\n", h.opts.BaseUrl, h.stylesheetPath())
	out.Write(body)

	c.Header("X-Robots-Tag", "noindex, follow")
	c.Data(http.StatusOK, xmlContentType, []byte(out.String()))
}

// GetSitemapIndex lists the news sitemap when it has at least one entry
func (h *Handler) GetSitemapIndex(c *gin.Context) {
	entries, err := h.index.IndexEntries(c.Request.Context(), h.opts.BaseUrl+h.sitemapPath())
	if err != nil {
		slog.Error("Database error", "operation", "index_entries", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	doc, err := xml.MarshalIndent(sitemapIndex{
		Xmlns:    sitemap.SitemapNamespace,
		Sitemaps: entries,
	}, "", "\t")
	if err != nil {
		slog.Error("Sitemap index generation error", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("X-Robots-Tag", "noindex, follow")
	c.Data(http.StatusOK, xmlContentType, append([]byte(xmlHeader), doc...))
}

// GetStylesheet writes the XSL asset with long-lived cache headers and ends
// the request
func (h *Handler) GetStylesheet(c *gin.Context) {
	data, err := os.ReadFile(h.opts.StylesheetFile)
	if err != nil {
		slog.Error("Stylesheet read error", "path", h.opts.StylesheetFile, "error", err)
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	c.Header("X-Robots-Tag", "noindex, follow")
	c.Header("Pragma", "public")
	c.Header("Cache-Control", fmt.Sprintf("maxage=%d", int(stylesheetCache.Seconds())))
	c.Header("Expires", h.now().Add(stylesheetCache).UTC().Format("Mon, 02 Jan 2006 15:04:05")+" GMT")
	c.Data(http.StatusOK, "text/xml", data)
	c.Abort()
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": h.now().In(time.Local).Format(time.RFC3339),
		"version":   h.opts.Version,
	}

	if entry, err := h.cache.Entry(c.Request.Context(), h.opts.Basename); err == nil {
		health["sitemap"] = string(entry.State())
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) APISavePost(c *gin.Context) {
	var req PostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid post payload", "details": err.Error()})
		return
	}

	input := database.PostInput{
		ID:            req.ID,
		GUID:          req.GUID,
		ObjectType:    database.ObjectTypePost,
		PostType:      req.PostType,
		Status:        lo.Ternary(req.Status == "", database.StatusPublish, req.Status),
		Permalink:     req.Permalink,
		Title:         req.Title,
		PublishedAt:   req.PublishedAt,
		RobotsNoindex: req.RobotsNoindex,
		Suppressed:    req.Suppressed,
		StockTickers:  req.StockTickers,
		Terms:         req.Terms,
	}

	// a revision is stored as its own row so the live post stays untouched
	if req.IsRevision {
		input.ID = 0
		input.GUID = ""
		input.ObjectType = database.ObjectTypeRevision
	}

	id, err := h.posts.SavePost(c.Request.Context(), input)
	if err != nil {
		slog.Error("Database error", "operation", "save_post", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	h.bus.Publish(c.Request.Context(), events.SaveEvent{
		PostID:     id,
		PostType:   req.PostType,
		IsRevision: req.IsRevision,
		SiteID:     h.opts.SiteID,
	})

	resp := gin.H{
		"success":     true,
		"id":          id,
		"is_revision": req.IsRevision,
	}
	if !req.IsRevision {
		excluded, err := h.exclusions.IsExcluded(c.Request.Context(), id, req.PostType)
		if err != nil {
			slog.Warn("Failed to check post exclusion", "post_id", id, "error", err)
		} else {
			resp["excluded"] = excluded
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) APIReloadSettings(c *gin.Context) {
	changed, err := h.settings.Reload()
	if err != nil {
		slog.Error("Error reloading settings", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to reload settings",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"changed": changed,
	})
}

func (h *Handler) APIInvalidateSitemap(c *gin.Context) {
	if err := h.cache.InvalidateAll(c.Request.Context(), "api"); err != nil {
		slog.Error("Error invalidating sitemap", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to invalidate sitemap"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) APISitemapStatus(c *gin.Context) {
	entry, err := h.cache.Entry(c.Request.Context(), h.opts.Basename)
	if err != nil {
		slog.Error("Cache error", "operation", "sitemap_status", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cache error"})
		return
	}

	status := gin.H{
		"feed":  h.opts.Basename,
		"path":  h.sitemapPath(),
		"state": string(entry.State()),
	}
	if entry != nil {
		status["built_at"] = entry.BuiltAt.In(time.Local).Format(time.RFC3339)
		status["bytes"] = len(entry.Body)
		status["generation"] = entry.Generation
	}

	c.JSON(http.StatusOK, status)
}

// buildFailed reports whether err came from a failed sitemap build
func buildFailed(err error) bool {
	return errors.Is(err, cache.ErrBuild) || errors.Is(err, sitemap.ErrRepository)
}
