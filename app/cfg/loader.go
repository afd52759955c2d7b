package cfg

import (
	"cmp"
	"fmt"
	"log/slog"
	"time"

	"github.com/jessevdk/go-flags"
	"golang.org/x/text/language"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DBPath    string `long:"db-path" env:"DB_PATH" default:"./data/news.db" description:"SQLite database file"`
	RedisAddr string `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address for a shared sitemap cache (optional)"`

	// Site configuration
	SiteID          string `long:"site-id" env:"SITE_ID" default:"1" description:"Site identifier used to scope cache invalidation"`
	SiteName        string `long:"site-name" env:"SITE_NAME" required:"true" description:"Site name, used when no publisher name is configured"`
	Locale          string `long:"locale" env:"SITE_LOCALE" default:"en_US" description:"Site locale (e.g., en_US, nl_NL)"`
	SitemapBasename string `long:"sitemap-basename" env:"SITEMAP_BASENAME" description:"Sitemap basename (default news, or comb-news when a news post type exists)"`
	SettingsFile    string `long:"settings-file" env:"SETTINGS_FILE" default:"./config/news.yml" description:"News sitemap settings file"`
	StylesheetFile  string `long:"stylesheet-file" env:"STYLESHEET_FILE" default:"./assets/news-sitemap.xsl" description:"XSL stylesheet served next to the sitemap"`

	// Application configuration
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl           string `long:"base-url" env:"BASE_URL" required:"true" description:"Public base URL for the service (e.g., https://news.example.com)"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"2" description:"Number of background workers"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"3600" description:"Sitemap cache invalidation interval in seconds"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"News Comb/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for publication dates (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging and sitemap build diagnostics"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	return load(nil)
}

func load(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:            raw.DBPath,
		RedisAddr:         raw.RedisAddr,
		SiteID:            raw.SiteID,
		SiteName:          raw.SiteName,
		Locale:            raw.Locale,
		SitemapBasename:   raw.SitemapBasename,
		SettingsFile:      raw.SettingsFile,
		StylesheetFile:    raw.StylesheetFile,
		Port:              raw.Port,
		BaseUrl:           raw.BaseUrl,
		WorkerCount:       raw.WorkerCount,
		SchedulerInterval: raw.SchedulerInterval,
		APIAccessKey:      raw.APIAccessKey,
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		slog.Warn("Invalid timezone, using system default", "timezone", cfg.Timezone, "error", err)
	}

	if err := checkLocale(cfg.Locale); err != nil {
		slog.Warn("Unrecognized site locale", "locale", cfg.Locale, "error", err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

// InvalidationInterval returns the periodic cache invalidation interval
func (c *Cfg) InvalidationInterval() time.Duration {
	if c.SchedulerInterval <= 0 {
		return time.Hour
	}
	return time.Duration(c.SchedulerInterval) * time.Second
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			slog.Debug("Timezone configured", "timezone", timezone)
		}
	}
	return nil
}

// checkLocale only validates. The sitemap language is always the first two
// characters of the locale.
func checkLocale(locale string) error {
	if len(locale) < 2 {
		return fmt.Errorf("locale shorter than 2 characters")
	}
	_, err := language.Parse(locale)
	return err
}
