package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/thomaskoefod/trendframe/pkg/models"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Timezone    string            `yaml:"timezone"`
	Sources     []SourceConfig    `yaml:"sources"`
	Curation    CurationConfig    `yaml:"curation"`
	Ingestion   IngestionConfig   `yaml:"ingestion"`
	Translation TranslationConfig `yaml:"translation"`
	Ollama      OllamaConfig      `yaml:"ollama"`
	DeepL       DeepLConfig       `yaml:"deepl"`
	Raindrop    RaindropConfig    `yaml:"raindrop"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Jobs        JobsConfig        `yaml:"jobs"`
	Server      ServerConfig      `yaml:"server"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SourceConfig adds or overrides a source in the seeded catalogue, keyed by URL.
type SourceConfig struct {
	Type     models.SourceType `yaml:"type"`
	Name     string            `yaml:"name"`
	URL      string            `yaml:"url"`
	Category string            `yaml:"category"`
	Weight   float64           `yaml:"weight"`
	Enabled  *bool             `yaml:"enabled"`
}

type CurationConfig struct {
	FeedMinItems               int     `yaml:"feed_min_items"`
	FeedTargetItemsPerCategory int     `yaml:"feed_target_items_per_category"`
	FeedMaxItemsPerCategory    int     `yaml:"feed_max_items_per_category"`
	FeedMaxItemsTotal          int     `yaml:"feed_max_items_total"`
	LookbackHours              int     `yaml:"lookback_hours"`
	TitleSimilarityThreshold   float64 `yaml:"title_similarity_threshold"`
	TitleHistoryWindow         int     `yaml:"title_history_window"`
}

type IngestionConfig struct {
	FetchConcurrency   int    `yaml:"fetch_concurrency"`
	AbortOnSourceError bool   `yaml:"abort_on_source_error"`
	RequestTimeout     string `yaml:"request_timeout"`
	HNSearchURL        string `yaml:"hn_search_url"`
	HNLimit            int    `yaml:"hn_limit"`
	RSSLimit           int    `yaml:"rss_limit"`
}

type TranslationConfig struct {
	// Provider is one of "ollama", "deepl" or "none".
	Provider      string  `yaml:"provider"`
	Timeout       string  `yaml:"timeout"`
	Retries       int     `yaml:"retries"`
	RatePerSecond float64 `yaml:"rate_per_second"`
}

type OllamaConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

type DeepLConfig struct {
	APIURL string `yaml:"api_url"`
	APIKey string `yaml:"api_key"`
}

type RaindropConfig struct {
	APIToken string `yaml:"api_token"`
}

type ScheduleConfig struct {
	Disabled bool   `yaml:"disabled"`
	Ingest   string `yaml:"ingest"`
	AM       string `yaml:"am"`
	PM       string `yaml:"pm"`
}

type JobsConfig struct {
	StaleAfter string `yaml:"stale_after"`
}

type ServerConfig struct {
	Addr       string `yaml:"addr"`
	AdminToken string `yaml:"admin_token"`
}

// Lookback is the feed assembly recency window.
func (c *CurationConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackHours) * time.Hour
}

// GetRequestTimeout parses the per-request fetch timeout
func (i *IngestionConfig) GetRequestTimeout() (time.Duration, error) {
	return time.ParseDuration(i.RequestTimeout)
}

// GetTimeout parses the per-attempt translation timeout
func (t *TranslationConfig) GetTimeout() (time.Duration, error) {
	return time.ParseDuration(t.Timeout)
}

// GetStaleAfter parses the age after which a running job counts as abandoned
func (j *JobsConfig) GetStaleAfter() (time.Duration, error) {
	return time.ParseDuration(j.StaleAfter)
}

// Location loads the application time zone
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load reads configuration from file. A missing file is not an error: every
// setting has a default. Secrets may come from the environment or a .env file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg.applyEnv()
	cfg.setDefaults()

	// Expand home directory in database path
	cfg.Database.Path = expandPath(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TRENDFRAME_ADMIN_TOKEN"); v != "" {
		c.Server.AdminToken = v
	}
	if v := os.Getenv("DEEPL_API_KEY"); v != "" {
		c.DeepL.APIKey = v
	}
	if v := os.Getenv("RAINDROP_API_TOKEN"); v != "" {
		c.Raindrop.APIToken = v
	}
	if v := os.Getenv("TRENDFRAME_DB_PATH"); v != "" {
		c.Database.Path = v
	}
}

func (c *Config) setDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "~/.local/share/trendframe/trendframe.db"
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Seoul"
	}

	cur := &c.Curation
	if cur.FeedMinItems == 0 {
		cur.FeedMinItems = 3
	}
	if cur.FeedTargetItemsPerCategory == 0 {
		cur.FeedTargetItemsPerCategory = 3
	}
	if cur.FeedMaxItemsPerCategory == 0 {
		cur.FeedMaxItemsPerCategory = 5
	}
	if cur.FeedMaxItemsTotal == 0 {
		cur.FeedMaxItemsTotal = 30
	}
	if cur.LookbackHours == 0 {
		cur.LookbackHours = 48
	}
	if cur.TitleSimilarityThreshold == 0 {
		cur.TitleSimilarityThreshold = 0.85
	}
	if cur.TitleHistoryWindow == 0 {
		cur.TitleHistoryWindow = 500
	}

	ing := &c.Ingestion
	if ing.FetchConcurrency == 0 {
		ing.FetchConcurrency = 4
	}
	if ing.RequestTimeout == "" {
		ing.RequestTimeout = "10s"
	}
	if ing.HNSearchURL == "" {
		ing.HNSearchURL = "https://hn.algolia.com/api/v1/search_by_date?tags=story&numericFilters=points>20"
	}
	if ing.HNLimit == 0 {
		ing.HNLimit = 80
	}
	if ing.RSSLimit == 0 {
		ing.RSSLimit = 50
	}

	tr := &c.Translation
	if tr.Provider == "" {
		tr.Provider = "none"
		if c.DeepL.APIKey != "" {
			tr.Provider = "deepl"
		}
	}
	if tr.Timeout == "" {
		tr.Timeout = "5s"
	}
	if tr.RatePerSecond == 0 {
		tr.RatePerSecond = 5
	}

	if c.Ollama.Host == "" {
		c.Ollama.Host = "http://localhost:11434"
	}
	if c.Ollama.Model == "" {
		c.Ollama.Model = "llama3.1"
	}
	if c.DeepL.APIURL == "" {
		c.DeepL.APIURL = "https://api-free.deepl.com/v2/translate"
	}

	if c.Schedule.Ingest == "" {
		c.Schedule.Ingest = "@every 30m"
	}
	if c.Schedule.AM == "" {
		c.Schedule.AM = "30 7 * * *"
	}
	if c.Schedule.PM == "" {
		c.Schedule.PM = "30 21 * * *"
	}

	if c.Jobs.StaleAfter == "" {
		c.Jobs.StaleAfter = "60m"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	cur := c.Curation
	if cur.FeedMinItems < 0 || cur.FeedTargetItemsPerCategory < 0 || cur.FeedMaxItemsPerCategory < 0 || cur.FeedMaxItemsTotal < 0 {
		errs = append(errs, errors.New("curation item counts must not be negative"))
	}
	if cur.LookbackHours < 0 {
		errs = append(errs, errors.New("curation.lookback_hours must not be negative"))
	}
	if cur.TitleSimilarityThreshold <= 0 || cur.TitleSimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("curation.title_similarity_threshold %v must be in (0, 1]", cur.TitleSimilarityThreshold))
	}

	switch c.Translation.Provider {
	case "none", "ollama", "deepl":
	default:
		errs = append(errs, fmt.Errorf("translation.provider %q must be none, ollama or deepl", c.Translation.Provider))
	}

	for name, d := range map[string]string{
		"ingestion.request_timeout": c.Ingestion.RequestTimeout,
		"translation.timeout":       c.Translation.Timeout,
		"jobs.stale_after":          c.Jobs.StaleAfter,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"schedule.ingest": c.Schedule.Ingest,
		"schedule.am":     c.Schedule.AM,
		"schedule.pm":     c.Schedule.PM,
	} {
		if _, err := parser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	for i, s := range c.Sources {
		if s.URL == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: url is required", i))
		}
		if s.Type != models.SourceRSS && s.Type != models.SourceHN {
			errs = append(errs, fmt.Errorf("sources[%d]: type %q must be rss or hn", i, s.Type))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Save writes configuration to file
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// DefaultConfigPath returns the default configuration file path
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "trendframe", "config.yaml")
}
