package cfg

type Cfg struct {
	// Storage configuration
	DBPath    string
	RedisAddr string

	// Site configuration
	SiteID          string
	SiteName        string
	Locale          string
	SitemapBasename string
	SettingsFile    string
	StylesheetFile  string

	// Application configuration
	Port              string
	BaseUrl           string
	WorkerCount       int
	SchedulerInterval int
	APIAccessKey      string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
