package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/news-comb/app/api"
	"github.com/lysyi3m/news-comb/app/cache"
	"github.com/lysyi3m/news-comb/app/cfg"
	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/events"
	"github.com/lysyi3m/news-comb/app/feed"
	"github.com/lysyi3m/news-comb/app/policy"
	"github.com/lysyi3m/news-comb/app/settings"
	"github.com/lysyi3m/news-comb/app/sitemap"
	"github.com/lysyi3m/news-comb/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}

	setupLogging(appCfg.Debug)

	slog.Info("Starting News Comb server", "version", appCfg.Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("Connected to database", "path", appCfg.DBPath)

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database migrations applied", "version", version, "dirty", dirty)

	settingsStore := settings.NewStore(appCfg.SettingsFile)
	if err := settingsStore.Load(); err != nil {
		slog.Error("Failed to load news settings", "file", appCfg.SettingsFile, "error", err)
		os.Exit(1)
	}
	if err := settingsStore.Watch(ctx); err != nil {
		slog.Warn("Settings file watching disabled", "file", appCfg.SettingsFile, "error", err)
	}

	posts := database.NewPostRepository(db)
	registry := database.NewRegistryRepository(db)
	resolver := policy.NewResolver(settingsStore, posts, posts)

	newsTypeExists, err := posts.PostTypeExists(ctx, "news")
	if err != nil {
		slog.Error("Failed to inspect post types", "error", err)
		os.Exit(1)
	}
	basename := sitemap.Basename(appCfg.SitemapBasename, newsTypeExists)

	selector := sitemap.NewSelector(posts, resolver)
	builder := sitemap.NewBuilder(settingsStore, sitemap.SiteInfo{Name: appCfg.SiteName, Locale: appCfg.Locale}, appCfg.Debug)
	pipeline := sitemap.NewPipeline(selector, builder, posts)

	store, closeStore := newCacheStore(ctx, appCfg)
	defer closeStore()

	coordinator := cache.NewCoordinator(store, resolver, appCfg.SiteID)
	coordinator.Register(basename, pipeline.Build)

	bus := events.NewBus()
	bus.Subscribe(coordinator.HandleSave)

	scheduler := tasks.NewScheduler(appCfg.WorkerCount, tasks.DefaultQueueSize)
	scheduler.ScheduleIfAbsent("invalidate_sitemap", appCfg.InvalidationInterval(), func() tasks.TaskInterface {
		return tasks.NewInvalidateSitemapTask(coordinator)
	})

	ingest := &sourceScheduler{
		scheduler: scheduler,
		settings:  settingsStore,
		parser:    feed.NewParser(),
		posts:     posts,
		terms:     registry,
		bus:       bus,
		userAgent: appCfg.UserAgent,
		siteID:    appCfg.SiteID,
	}
	ingest.schedule(settingsStore.Snapshot())

	settingsStore.Subscribe(func(s settings.Settings) {
		coordinator.HandleSettingsChange(ctx)
		ingest.schedule(s)
	})

	slog.Info("Starting background scheduler", "workers", appCfg.WorkerCount, "interval", appCfg.InvalidationInterval().String())
	scheduler.Start()
	defer scheduler.Stop()

	if appCfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	apiHandler := api.NewHandler(coordinator, pipeline, posts, bus, settingsStore, resolver, api.Options{
		BaseUrl:        appCfg.BaseUrl,
		Basename:       basename,
		StylesheetFile: appCfg.StylesheetFile,
		SiteID:         appCfg.SiteID,
		Version:        appCfg.Version,
	})
	server := api.NewServer(apiHandler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port,
			"sitemap", fmt.Sprintf("%s/%s-sitemap.xml", appCfg.BaseUrl, basename))

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down server gracefully")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// newCacheStore returns the Redis store when an address is configured and the
// in-process store otherwise
func newCacheStore(ctx context.Context, appCfg *cfg.Cfg) (cache.Store, func()) {
	if appCfg.RedisAddr == "" {
		slog.Info("Using in-memory sitemap cache")
		return cache.NewMemoryStore(), func() {}
	}

	client, err := cache.NewRedisClient(ctx, appCfg.RedisAddr)
	if err != nil {
		slog.Warn("Redis unavailable, falling back to in-memory sitemap cache", "addr", appCfg.RedisAddr, "error", err)
		return cache.NewMemoryStore(), func() {}
	}

	slog.Info("Using Redis sitemap cache", "addr", appCfg.RedisAddr)
	return cache.NewRedisStore(client, "newscomb:"+appCfg.SiteID), func() {
		if err := client.Close(); err != nil {
			slog.Warn("Failed to close Redis client", "error", err)
		}
	}
}

// sourceScheduler registers one recurring ingest task per configured source.
// Tasks resolve their source from the current settings on every run, so a
// source removed from the file stops being fetched.
type sourceScheduler struct {
	scheduler tasks.TaskSchedulerInterface
	settings  *settings.Store
	parser    *feed.Parser
	posts     tasks.PostStore
	terms     tasks.TermStore
	bus       tasks.Publisher
	userAgent string
	siteID    string
}

func (s *sourceScheduler) schedule(current settings.Settings) {
	for _, source := range current.Sources {
		name := source.Name
		newTask := func() tasks.TaskInterface {
			return s.newTask(s.lookup(name))
		}

		if !s.scheduler.ScheduleIfAbsent("ingest_feed:"+name, time.Duration(source.RefreshInterval)*time.Second, newTask) {
			continue
		}

		if err := s.scheduler.EnqueueTask(newTask()); err != nil {
			slog.Warn("Failed to enqueue initial ingest", "source", name, "error", err)
		}
	}
}

func (s *sourceScheduler) lookup(name string) settings.Source {
	for _, source := range s.settings.Snapshot().Sources {
		if source.Name == name {
			return source
		}
	}
	disabled := false
	return settings.Source{Name: name, Enabled: &disabled}
}

func (s *sourceScheduler) newTask(source settings.Source) tasks.TaskInterface {
	client := &http.Client{Timeout: time.Duration(source.Timeout) * time.Second}
	return tasks.NewIngestFeedTask(source, client, s.parser, s.posts, s.terms, s.bus, s.userAgent, s.siteID)
}
