package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Config holds the whole application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	APIs      APIConfig       `yaml:"apis"`
	Retry     RetryConfig     `yaml:"retry"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Reference ReferenceConfig `yaml:"reference"`
	Sync      SyncConfig      `yaml:"sync"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

// DatabaseConfig selects the store: Postgres when URL is set, else SQLite when
// SQLitePath is set, else in-memory
type DatabaseConfig struct {
	URL        string `yaml:"url"`
	SQLitePath string `yaml:"sqlite_path"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type APIConfig struct {
	AdemeURL     string        `yaml:"ademe_url"`
	EnedisURL    string        `yaml:"enedis_url"`
	GeoSearchURL string        `yaml:"geo_search_url"`
	CommuneURL   string        `yaml:"commune_url"`
	ElevationURL string        `yaml:"elevation_url"`
	MLServiceURL string        `yaml:"ml_service_url"`
	Timeout      time.Duration `yaml:"timeout"`
}

type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	BaseDelay     time.Duration `yaml:"base_delay"`
}

type FetchConfig struct {
	PageSize int `yaml:"page_size"`
}

// ReferenceConfig points at the reference tables. An empty ClimateZonesPath
// uses the embedded table
type ReferenceConfig struct {
	ClimateZonesPath string `yaml:"climate_zones_path"`
	CommunesPath     string `yaml:"communes_path"`
}

// SyncConfig drives the scheduled ADEME sync. An empty Cron disables it
type SyncConfig struct {
	Cron        string   `yaml:"cron"`
	Departments []string `yaml:"departments"`
	New         bool     `yaml:"new"`
	Limit       int      `yaml:"limit"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development"},
		Redis:  RedisConfig{TTL: 24 * time.Hour},
		APIs: APIConfig{
			AdemeURL:     "https://data.ademe.fr/data-fair/api/v1/datasets",
			EnedisURL:    "https://data.enedis.fr/api/explore/v2.1/catalog/datasets/consommation-annuelle-residentielle-par-adresse",
			GeoSearchURL: "https://api-adresse.data.gouv.fr/search/",
			CommuneURL:   "https://geo.api.gouv.fr/communes",
			ElevationURL: "https://api.elevationapi.com/api/Elevation",
			MLServiceURL: "http://localhost:8000",
			Timeout:      15 * time.Second,
		},
		Retry:     RetryConfig{MaxAttempts: 3, BackoffFactor: 2, BaseDelay: time.Second},
		Fetch:     FetchConfig{PageSize: 2500},
		Reference: ReferenceConfig{CommunesPath: "data/communes_altitude.csv"},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// DPE_CONFIG, then the environment (.env included)
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using system environment")
	}

	cfg := Default()
	if path := os.Getenv("DPE_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	// fields absent from the file keep their current value
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("GO_ENV", c.Server.Env)

	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.SQLitePath = getEnv("SQLITE_PATH", c.Database.SQLitePath)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = cast.ToInt(getEnv("REDIS_DB", cast.ToString(c.Redis.DB)))
	c.Redis.TTL = getDuration("REDIS_TTL", c.Redis.TTL)

	c.APIs.AdemeURL = getEnv("ADEME_API_URL", c.APIs.AdemeURL)
	c.APIs.EnedisURL = getEnv("ENEDIS_API_URL", c.APIs.EnedisURL)
	c.APIs.GeoSearchURL = getEnv("GEO_SEARCH_URL", c.APIs.GeoSearchURL)
	c.APIs.CommuneURL = getEnv("GEO_COMMUNE_URL", c.APIs.CommuneURL)
	c.APIs.ElevationURL = getEnv("ELEVATION_API_URL", c.APIs.ElevationURL)
	c.APIs.MLServiceURL = getEnv("ML_SERVICE_URL", c.APIs.MLServiceURL)
	c.APIs.Timeout = getDuration("HTTP_TIMEOUT", c.APIs.Timeout)

	c.Retry.MaxAttempts = cast.ToInt(getEnv("RETRY_MAX_ATTEMPTS", cast.ToString(c.Retry.MaxAttempts)))
	c.Retry.BackoffFactor = cast.ToFloat64(getEnv("RETRY_BACKOFF_FACTOR", cast.ToString(c.Retry.BackoffFactor)))
	c.Retry.BaseDelay = getDuration("RETRY_BASE_DELAY", c.Retry.BaseDelay)

	c.Fetch.PageSize = cast.ToInt(getEnv("FETCH_PAGE_SIZE", cast.ToString(c.Fetch.PageSize)))

	c.Reference.ClimateZonesPath = getEnv("CLIMATE_ZONES_PATH", c.Reference.ClimateZonesPath)
	c.Reference.CommunesPath = getEnv("COMMUNES_ALTITUDE_PATH", c.Reference.CommunesPath)

	c.Sync.Cron = getEnv("SYNC_CRON", c.Sync.Cron)
	if deps := os.Getenv("SYNC_DEPARTMENTS"); deps != "" {
		c.Sync.Departments = splitList(deps)
	}
	c.Sync.New = cast.ToBool(getEnv("SYNC_NEW", cast.ToString(c.Sync.New)))
	c.Sync.Limit = cast.ToInt(getEnv("SYNC_LIMIT", cast.ToString(c.Sync.Limit)))

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
}

// Validate rejects values the services cannot run with
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BackoffFactor <= 0 {
		return fmt.Errorf("config: retry backoff_factor must be positive, got %v", c.Retry.BackoffFactor)
	}
	if c.Fetch.PageSize < 1 {
		return fmt.Errorf("config: fetch page_size must be positive, got %d", c.Fetch.PageSize)
	}
	if c.APIs.Timeout <= 0 {
		return fmt.Errorf("config: apis timeout must be positive, got %s", c.APIs.Timeout)
	}
	if c.Sync.Cron != "" && len(c.Sync.Departments) == 0 {
		return fmt.Errorf("config: sync cron set without departments")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := cast.ToDurationE(value)
	if err != nil {
		slog.Warn("Ignoring invalid duration", "key", key, "value", value)
		return defaultValue
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
