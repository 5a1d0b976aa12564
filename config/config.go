package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the place agent service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Location  LocationConfig  `mapstructure:"location"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig configures the decision oracle backend.
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// BudgetConfig defines the per-session ceilings. Values are frozen at
// session start; the loop never re-reads them mid-run.
type BudgetConfig struct {
	MaxCalls    int           `mapstructure:"max_calls"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxEntities int           `mapstructure:"max_entities"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

func (b BudgetConfig) Validate() error {
	if b.MaxCalls < 1 {
		return fmt.Errorf("budget.max_calls must be >= 1")
	}
	if b.Timeout <= 0 {
		return fmt.Errorf("budget.timeout must be > 0")
	}
	if b.MaxEntities < 1 {
		return fmt.Errorf("budget.max_entities must be >= 1")
	}
	return nil
}

// ToolsConfig configures the concrete capabilities.
type ToolsConfig struct {
	Naver    NaverConfig   `mapstructure:"naver"`
	Fetch    FetchConfig   `mapstructure:"fetch"`
	Retries  RetriesConfig `mapstructure:"retries"`
	Geocoder GeoConfig     `mapstructure:"geocoder"`
}

// NaverConfig holds Naver OpenAPI credentials for local/blog search.
type NaverConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	LocalURL     string `mapstructure:"local_url"`
	BlogURL      string `mapstructure:"blog_url"`
	MaxResults   int    `mapstructure:"max_results"`
}

// FetchConfig controls content fetching and extraction.
type FetchConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxChars  int           `mapstructure:"max_chars"`
	UserAgent string        `mapstructure:"user_agent"`
}

// RetriesConfig sets per-capability attempt caps (max_retry, >= 0;
// 0 means a single attempt).
type RetriesConfig struct {
	PlaceSearch          int `mapstructure:"place_search"`
	LinkCollection       int `mapstructure:"link_collection"`
	ContentCollection    int `mapstructure:"content_collection"`
	CoordinateResolution int `mapstructure:"coordinate_resolution"`
	BatchAnalysis        int `mapstructure:"batch_analysis"`
}

// GeoConfig configures the external geocoding backend.
type GeoConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// LocationConfig controls the location resolver.
type LocationConfig struct {
	FuzzyThreshold float64       `mapstructure:"fuzzy_threshold"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

func (l LocationConfig) Validate() error {
	if l.FuzzyThreshold < 0 || l.FuzzyThreshold > 1 {
		return fmt.Errorf("location.fuzzy_threshold must be within [0,1]")
	}
	return nil
}

// StorageConfig contains database configurations.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig is the location record store backend.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig is the capability result cache backend. Optional: when the
// address is empty an in-process cache is used instead.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TelemetryConfig contains metrics settings.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Validate checks cross-cutting invariants that must hold before serving.
func (c *Config) Validate() error {
	if err := c.Budget.Validate(); err != nil {
		return err
	}
	if err := c.Location.Validate(); err != nil {
		return err
	}
	return nil
}

// LoadConfig loads config from file, with PLACEAGENT_* env overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")

	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":10080")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("budget.max_calls", 20)
	v.SetDefault("budget.timeout", 10*time.Minute)
	v.SetDefault("budget.max_entities", 30)
	v.SetDefault("budget.call_timeout", 30*time.Second)
	v.SetDefault("tools.naver.local_url", "https://openapi.naver.com/v1/search/local.json")
	v.SetDefault("tools.naver.blog_url", "https://openapi.naver.com/v1/search/blog.json")
	v.SetDefault("tools.naver.max_results", 5)
	v.SetDefault("tools.fetch.timeout", 15*time.Second)
	v.SetDefault("tools.fetch.max_chars", 12000)
	v.SetDefault("tools.fetch.user_agent", "placeagent/1.0")
	v.SetDefault("tools.retries.place_search", 2)
	v.SetDefault("tools.retries.link_collection", 1)
	v.SetDefault("tools.retries.content_collection", 2)
	v.SetDefault("tools.retries.coordinate_resolution", 2)
	v.SetDefault("tools.retries.batch_analysis", 2)
	v.SetDefault("tools.geocoder.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("tools.geocoder.user_agent", "placeagent/1.0")
	v.SetDefault("tools.geocoder.timeout", 10*time.Second)
	v.SetDefault("location.fuzzy_threshold", 0.9)
	v.SetDefault("location.cache_ttl", 15*time.Minute)
	v.SetDefault("telemetry.enabled", true)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("PLACEAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; env/defaults still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
