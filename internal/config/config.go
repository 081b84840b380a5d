package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. VIBEMATCH_SERVER_ADDR
const EnvPrefix = "VIBEMATCH"

// Config is the full runtime configuration
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Server    ServerConfig    `mapstructure:"server"`
	Data      DataConfig      `mapstructure:"data"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Sampler   SamplerConfig   `mapstructure:"sampler"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Matcher   MatcherConfig   `mapstructure:"matcher"`
	Vibes     VibesConfig     `mapstructure:"vibes"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	UploadDir       string        `mapstructure:"upload_dir"`
	BodyLimit       string        `mapstructure:"body_limit"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DataConfig struct {
	CatalogPath string `mapstructure:"catalog"`
	ImagesPath  string `mapstructure:"images"`
	VibesPath   string `mapstructure:"vibes"`
	OutputDir   string `mapstructure:"output_dir"`
}

// CacheConfig selects where catalog embeddings are persisted. Backend is
// "file" or "postgres".
type CacheConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	Name    string `mapstructure:"name"`

	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type SamplerConfig struct {
	TargetFPS  float64 `mapstructure:"target_fps"`
	MaxFrames  int     `mapstructure:"max_frames"`
	FFmpegBin  string  `mapstructure:"ffmpeg"`
	FFprobeBin string  `mapstructure:"ffprobe"`
}

type DetectorConfig struct {
	URL       string        `mapstructure:"url"`
	Threshold float64       `mapstructure:"threshold"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type EmbeddingConfig struct {
	URL          string        `mapstructure:"url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Workers      int           `mapstructure:"workers"`
	Dimensions   int           `mapstructure:"dimensions"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

type MatcherConfig struct {
	MatchThreshold float64 `mapstructure:"match_threshold"`
	ExactThreshold float64 `mapstructure:"exact_threshold"`
	MaxProducts    int     `mapstructure:"max_products"`
	Workers        int     `mapstructure:"workers"`
}

type VibesConfig struct {
	MaxVibes  int `mapstructure:"max_vibes"`
	BatchSize int `mapstructure:"batch_size"`
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.upload_dir", "uploads")
	v.SetDefault("server.body_limit", "100M")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("data.catalog", "data/catalog.csv")
	v.SetDefault("data.images", "data/images.csv")
	v.SetDefault("data.vibes", "data/vibes_list.json")
	v.SetDefault("data.output_dir", "")

	v.SetDefault("cache.backend", "file")
	v.SetDefault("cache.path", "embeddings/catalog_embeddings")
	v.SetDefault("cache.name", "default")
	v.SetDefault("cache.postgres.dsn", "")
	v.SetDefault("cache.postgres.host", "localhost")
	v.SetDefault("cache.postgres.port", 5432)
	v.SetDefault("cache.postgres.user", "postgres")
	v.SetDefault("cache.postgres.password", "")
	v.SetDefault("cache.postgres.dbname", "vibematch")

	v.SetDefault("sampler.target_fps", 1.0)
	v.SetDefault("sampler.max_frames", 15)
	v.SetDefault("sampler.ffmpeg", "ffmpeg")
	v.SetDefault("sampler.ffprobe", "ffprobe")

	v.SetDefault("detector.url", "http://localhost:8001")
	v.SetDefault("detector.threshold", 0.2)
	v.SetDefault("detector.timeout", 60*time.Second)

	v.SetDefault("embedding.url", "http://localhost:8002")
	v.SetDefault("embedding.timeout", 120*time.Second)
	v.SetDefault("embedding.workers", 4)
	v.SetDefault("embedding.dimensions", 512)
	v.SetDefault("embedding.fetch_timeout", 10*time.Second)

	v.SetDefault("matcher.match_threshold", 0.75)
	v.SetDefault("matcher.exact_threshold", 0.9)
	v.SetDefault("matcher.max_products", 4)
	v.SetDefault("matcher.workers", 4)

	v.SetDefault("vibes.max_vibes", 3)
	v.SetDefault("vibes.batch_size", 4)
}

// New returns a viper instance with defaults and environment binding. A .env
// file in the working directory is loaded first when present.
func New() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file at path and decodes the result
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error
	if c.Sampler.TargetFPS <= 0 {
		errs = append(errs, fmt.Errorf("sampler.target_fps must be positive"))
	}
	if c.Sampler.MaxFrames <= 0 {
		errs = append(errs, fmt.Errorf("sampler.max_frames must be positive"))
	}
	if c.Matcher.MatchThreshold <= 0 || c.Matcher.MatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("matcher.match_threshold must be in (0, 1]"))
	}
	if c.Matcher.ExactThreshold < c.Matcher.MatchThreshold || c.Matcher.ExactThreshold > 1 {
		errs = append(errs, fmt.Errorf("matcher.exact_threshold must be in [match_threshold, 1]"))
	}
	if c.Detector.Threshold < 0 || c.Detector.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("detector.threshold must be in [0, 1)"))
	}
	switch c.Cache.Backend {
	case "file", "postgres":
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be file or postgres, got %q", c.Cache.Backend))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog level
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", name)
	}
	return level, nil
}
