package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Source kinds.
const (
	KindCrawler = "crawler"
	KindAPI     = "api"
	KindManual  = "manual"
)

// Config holds the ingest configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Export   ExportConfig   `mapstructure:"export"`
	Sources  []SourceConfig `mapstructure:"sources"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig configures the Postgres pool.
type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	MaxConns       int32  `mapstructure:"max_conns"`
	MinConns       int32  `mapstructure:"min_conns"`
	CourtCacheSize int    `mapstructure:"court_cache_size"`
}

// PipelineConfig holds run-level settings shared by every source.
type PipelineConfig struct {
	MaxPages         int           `mapstructure:"max_pages"`
	PageDelay        time.Duration `mapstructure:"page_delay"`
	LeaseTTL         time.Duration `mapstructure:"lease_ttl"`
	LeaseBackend     string        `mapstructure:"lease_backend"` // postgres or memory
	SnapshotDir      string        `mapstructure:"snapshot_dir"`
	SnapshotOnEmpty  bool          `mapstructure:"snapshot_on_empty"`
	MinAddressLength int           `mapstructure:"min_address_length"`
}

// MetricsConfig configures the ops endpoint served during runs.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ExportConfig configures record exports.
type ExportConfig struct {
	Format string `mapstructure:"format"` // csv, jsonl or both
	Output string `mapstructure:"output"`
}

// SourceConfig describes one ingestion source. Which fields apply depends on Kind.
type SourceConfig struct {
	Name string `mapstructure:"name"`
	Kind string `mapstructure:"kind"`

	// crawler and api
	BaseURL         string            `mapstructure:"base_url"`
	Method          string            `mapstructure:"method"`
	Params          map[string]string `mapstructure:"params"`
	PageParam       string            `mapstructure:"page_param"`
	PageSizeParam   string            `mapstructure:"page_size_param"`
	PageSize        int               `mapstructure:"page_size"`
	FirstPage       int               `mapstructure:"first_page"`
	DateFromParam   string            `mapstructure:"date_from_param"`
	DateToParam     string            `mapstructure:"date_to_param"`
	DateFormat      string            `mapstructure:"date_format"`
	WindowDays      int               `mapstructure:"window_days"`
	Charset         string            `mapstructure:"charset"`
	UserAgent       string            `mapstructure:"user_agent"`
	Timeout         time.Duration     `mapstructure:"timeout"`
	MaxAttempts     int               `mapstructure:"max_attempts"`
	RetryBackoff    time.Duration     `mapstructure:"retry_backoff"`
	RetryBackoffMax time.Duration     `mapstructure:"retry_backoff_max"`

	// crawler
	Selectors     []string `mapstructure:"selectors"`
	NextSelector  string   `mapstructure:"next_selector"`
	EmptySelector string   `mapstructure:"empty_selector"`

	// api
	Format          string   `mapstructure:"format"` // json or xml
	CredentialEnv   string   `mapstructure:"credential_env"`
	CredentialParam string   `mapstructure:"credential_param"`
	TotalPath       string   `mapstructure:"total_path"`
	ItemPaths       []string `mapstructure:"item_paths"`
	RateLimit       float64  `mapstructure:"rate_limit"`
	RateBurst       int      `mapstructure:"rate_burst"`

	// manual
	Text      string `mapstructure:"text"`
	File      string `mapstructure:"file"`
	Delimiter string `mapstructure:"delimiter"`
	Sentinel  string `mapstructure:"sentinel"`

	// extraction and run overrides
	Columns   map[string]int `mapstructure:"columns"`
	MaxPages  int            `mapstructure:"max_pages"`
	PageDelay time.Duration  `mapstructure:"page_delay"`
}

// DefaultSources returns the built-in source definitions.
func DefaultSources() []SourceConfig {
	return []SourceConfig{
		{
			Name:          "courtauction",
			Kind:          KindCrawler,
			BaseURL:       "https://www.courtauction.go.kr/RetrieveRealEstMulDetailList.laf",
			Method:        "POST",
			PageParam:     "targetRow",
			PageSizeParam: "pageSpec",
			PageSize:      20,
			FirstPage:     1,
			DateFromParam: "termStartDt",
			DateToParam:   "termEndDt",
			DateFormat:    "2006.01.02",
			WindowDays:    14,
			Charset:       "euc-kr",
			Selectors:     []string{"table.Ltbl_list tbody tr", "#contents table tbody tr", "div.tbl_list tr"},
			NextSelector:  "div.page2 a.next, a[title='다음']",
			EmptySelector: "div.no_data, td.no_data",
		},
		{
			Name:            "publicdata",
			Kind:            KindAPI,
			BaseURL:         "https://apis.data.go.kr/1360000/AuctionInfoService/getAuctionList",
			Method:          "GET",
			Format:          "json",
			PageParam:       "pageNo",
			PageSizeParam:   "numOfRows",
			PageSize:        100,
			FirstPage:       1,
			DateFromParam:   "bidBgnDt",
			DateToParam:     "bidEndDt",
			DateFormat:      "20060102",
			WindowDays:      30,
			Params:          map[string]string{"_type": "json"},
			CredentialEnv:   "AUCTION_API_KEY",
			CredentialParam: "serviceKey",
			TotalPath:       "response.body.totalCount",
			RateLimit:       5,
			RateBurst:       1,
		},
		{
			Name:      "manual",
			Kind:      KindManual,
			File:      "data/manual_input.txt",
			Delimiter: "|",
			Sentinel:  "미입력",
		},
	}
}

// DefaultConfig returns defaults suitable for a local run.
func DefaultConfig() *Config {
	cfg := &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			URL:            "postgres://localhost:5432/auctions?sslmode=disable",
			MaxConns:       10,
			MinConns:       2,
			CourtCacheSize: 256,
		},
		Pipeline: PipelineConfig{
			MaxPages:         50,
			PageDelay:        time.Second,
			LeaseTTL:         30 * time.Minute,
			LeaseBackend:     "postgres",
			SnapshotDir:      "output/snapshots",
			SnapshotOnEmpty:  true,
			MinAddressLength: 10,
		},
		Metrics: MetricsConfig{Enabled: true, Addr: ":9090"},
		Export:  ExportConfig{Format: "csv", Output: "output/properties.csv"},
		Sources: DefaultSources(),
	}
	cfg.applySourceDefaults()
	return cfg
}

// Load reads .env, an optional config file and INGEST_* environment
// variables on top of DefaultConfig. An empty path searches for ingest.yaml
// in the working directory.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		zap.L().Debug("config: no .env loaded", zap.Error(err))
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ingest")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.applySourceDefaults()
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("database.max_conns", d.Database.MaxConns)
	v.SetDefault("database.min_conns", d.Database.MinConns)
	v.SetDefault("database.court_cache_size", d.Database.CourtCacheSize)
	v.SetDefault("pipeline.max_pages", d.Pipeline.MaxPages)
	v.SetDefault("pipeline.page_delay", d.Pipeline.PageDelay)
	v.SetDefault("pipeline.lease_ttl", d.Pipeline.LeaseTTL)
	v.SetDefault("pipeline.lease_backend", d.Pipeline.LeaseBackend)
	v.SetDefault("pipeline.snapshot_dir", d.Pipeline.SnapshotDir)
	v.SetDefault("pipeline.snapshot_on_empty", d.Pipeline.SnapshotOnEmpty)
	v.SetDefault("pipeline.min_address_length", d.Pipeline.MinAddressLength)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("export.format", d.Export.Format)
	v.SetDefault("export.output", d.Export.Output)
	v.SetDefault("sources", DefaultSources())
}

// applySourceDefaults fills per-source zero values from the kind defaults.
func (c *Config) applySourceDefaults() {
	for i := range c.Sources {
		s := &c.Sources[i]
		s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
		s.Method = strings.ToUpper(strings.TrimSpace(s.Method))
		if s.Method == "" {
			s.Method = "GET"
		}
		if s.Timeout == 0 {
			s.Timeout = 30 * time.Second
		}
		if s.MaxAttempts == 0 {
			s.MaxAttempts = 3
		}
		if s.RetryBackoff == 0 {
			s.RetryBackoff = 500 * time.Millisecond
		}
		if s.RetryBackoffMax == 0 {
			s.RetryBackoffMax = 10 * time.Second
		}
		if s.PageSize == 0 {
			s.PageSize = 20
		}
		if s.DateFormat == "" {
			s.DateFormat = "2006-01-02"
		}
		if s.WindowDays == 0 {
			s.WindowDays = 30
		}
		if s.UserAgent == "" {
			s.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
		}
		if s.Kind == KindAPI && s.Format == "" {
			s.Format = "json"
		}
		if s.Kind == KindManual {
			if s.Delimiter == "" {
				s.Delimiter = "|"
			}
			if s.Sentinel == "" {
				s.Sentinel = "미입력"
			}
		}
		if s.MaxPages == 0 {
			s.MaxPages = c.Pipeline.MaxPages
		}
		if s.PageDelay == 0 {
			s.PageDelay = c.Pipeline.PageDelay
		}
	}
}

// Source returns the source with the given name.
func (c *Config) Source(name string) (SourceConfig, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// SourceNames lists the configured source names in order.
func (c *Config) SourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		names = append(names, s.Name)
	}
	return names
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return eris.Wrap(err, "config: log level")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return eris.New("config: log format must be json or console")
	}
	if c.Database.URL == "" {
		return eris.New("config: database url cannot be empty")
	}
	if c.Database.MaxConns <= 0 {
		return eris.New("config: database max conns must be positive")
	}
	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		return eris.Errorf("config: database min conns must be between 0 and %d", c.Database.MaxConns)
	}
	if c.Pipeline.MaxPages <= 0 {
		return eris.New("config: max pages must be positive")
	}
	if c.Pipeline.PageDelay < 0 {
		return eris.New("config: page delay cannot be negative")
	}
	if c.Pipeline.LeaseTTL <= 0 {
		return eris.New("config: lease ttl must be positive")
	}
	if c.Pipeline.LeaseBackend != "postgres" && c.Pipeline.LeaseBackend != "memory" {
		return eris.New("config: lease backend must be postgres or memory")
	}
	if c.Pipeline.MinAddressLength <= 0 {
		return eris.New("config: min address length must be positive")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return eris.New("config: metrics addr cannot be empty when metrics are enabled")
	}
	if c.Export.Format != "csv" && c.Export.Format != "jsonl" && c.Export.Format != "both" {
		return eris.New("config: export format must be csv, jsonl, or both")
	}
	if len(c.Sources) == 0 {
		return eris.New("config: at least one source is required")
	}

	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if seen[s.Name] {
			return eris.Errorf("config: duplicate source %q", s.Name)
		}
		seen[s.Name] = true
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks a single source definition.
func (s SourceConfig) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return eris.New("config: source name cannot be empty")
	}
	switch s.Kind {
	case KindCrawler, KindAPI:
		if s.BaseURL == "" {
			return eris.Errorf("config: source %q: base url cannot be empty", s.Name)
		}
		parsed, err := url.Parse(s.BaseURL)
		if err != nil {
			return eris.Wrapf(err, "config: source %q: invalid base url", s.Name)
		}
		if parsed.Host == "" {
			return eris.Errorf("config: source %q: base url must include a host", s.Name)
		}
		if s.Method != "GET" && s.Method != "POST" {
			return eris.Errorf("config: source %q: method must be GET or POST", s.Name)
		}
		if s.Timeout <= 0 {
			return eris.Errorf("config: source %q: timeout must be positive", s.Name)
		}
		if s.MaxAttempts <= 0 {
			return eris.Errorf("config: source %q: max attempts must be positive", s.Name)
		}
		if s.RetryBackoff < 0 || s.RetryBackoffMax < 0 {
			return eris.Errorf("config: source %q: retry backoff cannot be negative", s.Name)
		}
		if s.RetryBackoffMax > 0 && s.RetryBackoff > s.RetryBackoffMax {
			return eris.Errorf("config: source %q: retry backoff (%s) cannot exceed retry backoff max (%s)", s.Name, s.RetryBackoff, s.RetryBackoffMax)
		}
		if s.PageSize <= 0 {
			return eris.Errorf("config: source %q: page size must be positive", s.Name)
		}
	case KindManual:
		if s.Text == "" && s.File == "" {
			return eris.Errorf("config: source %q: manual source needs text or file", s.Name)
		}
		if s.Delimiter == "" {
			return eris.Errorf("config: source %q: delimiter cannot be empty", s.Name)
		}
	default:
		return eris.Errorf("config: source %q: kind must be crawler, api, or manual", s.Name)
	}
	if s.Kind == KindCrawler && len(s.Selectors) == 0 {
		return eris.Errorf("config: source %q: crawler needs at least one selector", s.Name)
	}
	if s.Kind == KindAPI {
		if s.Format != "json" && s.Format != "xml" {
			return eris.Errorf("config: source %q: format must be json or xml", s.Name)
		}
		if s.RateLimit < 0 {
			return eris.Errorf("config: source %q: rate limit cannot be negative", s.Name)
		}
	}
	if s.MaxPages < 0 {
		return eris.Errorf("config: source %q: max pages cannot be negative", s.Name)
	}
	if s.PageDelay < 0 {
		return eris.Errorf("config: source %q: page delay cannot be negative", s.Name)
	}
	for field, idx := range s.Columns {
		if idx < 0 {
			return eris.Errorf("config: source %q: column %q cannot be negative", s.Name, field)
		}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
