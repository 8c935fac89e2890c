package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Patterns PatternsConfig `yaml:"patterns" mapstructure:"patterns"`
	NLP      NLPConfig      `yaml:"nlp" mapstructure:"nlp"`
	Apply    ApplyConfig    `yaml:"apply" mapstructure:"apply"`
	Report   ReportConfig   `yaml:"report" mapstructure:"report"`
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
}

// PatternsConfig locates the rule catalogue
type PatternsConfig struct {
	Path  string `yaml:"path" mapstructure:"path"`
	Watch bool   `yaml:"watch" mapstructure:"watch"`
}

// NLPConfig configures the external entity recogniser client.
// An empty endpoint disables NLP detection entirely.
type NLPConfig struct {
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint"`
	TimeoutMS   int     `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // requests/sec, 0 = unlimited
	Cache       struct {
		Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
		RedisURL string        `yaml:"redis_url" mapstructure:"redis_url"`
		TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
	} `yaml:"cache" mapstructure:"cache"`
}

// Timeout returns the per-call NLP timeout as a duration
func (c NLPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Enabled reports whether NLP detection is configured
func (c NLPConfig) Enabled() bool {
	return c.Endpoint != ""
}

// ApplyConfig controls how replacements are written into the document
type ApplyConfig struct {
	HighlightReplacements bool `yaml:"highlight_replacements" mapstructure:"highlight_replacements"`
}

// ReportConfig controls report artefact generation
type ReportConfig struct {
	GenerateExcelReport bool   `yaml:"generate_excel_report" mapstructure:"generate_excel_report"`
	GenerateJSONLedger  bool   `yaml:"generate_json_ledger" mapstructure:"generate_json_ledger"`
	Dir                 string `yaml:"dir" mapstructure:"dir"`
}

// RegistryConfig configures the optional surrogate bindings database.
// An empty database URL disables persistence.
type RegistryConfig struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
		Path     string `yaml:"path" mapstructure:"path"`
		MaxSize  int    `yaml:"max_size" mapstructure:"max_size"`
		MaxAge   int    `yaml:"max_age" mapstructure:"max_age"`
		Compress bool   `yaml:"compress" mapstructure:"compress"`
	} `yaml:"file" mapstructure:"file"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Patterns: PatternsConfig{
			Path:  "configs/patterns.csv",
			Watch: false,
		},
		NLP: NLPConfig{
			Endpoint:    "",
			TimeoutMS:   30000,
			Concurrency: 4,
			RateLimit:   0,
		},
		Apply: ApplyConfig{
			HighlightReplacements: true,
		},
		Report: ReportConfig{
			GenerateExcelReport: true,
			GenerateJSONLedger:  true,
			Dir:                 "",
		},
		Registry: RegistryConfig{
			DatabaseURL:     "",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}

	cfg.NLP.Cache.Enabled = false
	cfg.NLP.Cache.RedisURL = "redis://localhost:6379/0"
	cfg.NLP.Cache.TTL = 24 * time.Hour

	cfg.Logging.File.Enabled = false
	cfg.Logging.File.Path = "logs/docmask.log"
	cfg.Logging.File.MaxSize = 100 // MB
	cfg.Logging.File.MaxAge = 30   // days
	cfg.Logging.File.Compress = true

	return cfg
}
