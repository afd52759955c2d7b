package settings

// Settings is the news sitemap configuration as stored by the host
type Settings struct {
	Name             string            `yaml:"news_sitemap_name"`
	Version          string            `yaml:"news_version"`
	IncludePostTypes map[string]string `yaml:"news_sitemap_include_post_types"`
	ExcludeTerms     map[string]string `yaml:"news_sitemap_exclude_terms"`
	Sources          []Source          `yaml:"sources"`
}

// Source is an upstream RSS/Atom feed ingested as published posts
type Source struct {
	Name            string `yaml:"name"`
	URL             string `yaml:"url"`
	PostType        string `yaml:"post_type"`
	RefreshInterval int    `yaml:"refresh_interval"` // seconds
	Timeout         int    `yaml:"timeout"`          // seconds
	Enabled         *bool  `yaml:"enabled"`
}

func (s Source) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// On is the only stored value that switches a checkbox setting on
const On = "on"
