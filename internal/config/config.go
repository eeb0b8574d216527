package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/maltedev/competitor-price-scraper/internal/browser"
	"github.com/maltedev/competitor-price-scraper/internal/checkpoint"
	"github.com/maltedev/competitor-price-scraper/internal/database"
	"github.com/maltedev/competitor-price-scraper/internal/matching"
	"github.com/maltedev/competitor-price-scraper/internal/retry"
	"github.com/maltedev/competitor-price-scraper/internal/sites"
)

const EnvPrefix = "PRICESCRAPER"

type Config struct {
	Scraper     ScraperConfig        `mapstructure:"scraper"`
	Retry       retry.Policy         `mapstructure:"retry"`
	Browser     browser.Options      `mapstructure:"browser"`
	Checkpoint  checkpoint.Config    `mapstructure:"checkpoint"`
	Matching    MatchingConfig       `mapstructure:"matching"`
	Database    database.Config      `mapstructure:"database"`
	Relay       database.RelayConfig `mapstructure:"relay"`
	Redis       RedisConfig          `mapstructure:"redis"`
	Server      ServerConfig         `mapstructure:"server"`
	Logging     LoggingConfig        `mapstructure:"logging"`
	Competitors []sites.SiteConfig   `mapstructure:"competitors" validate:"dive"`
}

type ScraperConfig struct {
	RequestDelay        time.Duration `mapstructure:"request_delay" validate:"min=0"`
	ProductDelay        time.Duration `mapstructure:"product_delay" validate:"min=0"`
	ParallelCompetitors int           `mapstructure:"parallel_competitors" validate:"min=1"`
	OutputDir           string        `mapstructure:"output_dir" validate:"required"`
	CatalogPath         string        `mapstructure:"catalog"`
	PersistResults      bool          `mapstructure:"persist_results"`
}

type MatchingConfig struct {
	NameThreshold           float64                        `mapstructure:"name_threshold" validate:"gte=0,lte=1"`
	CharacteristicThreshold float64                        `mapstructure:"characteristic_threshold" validate:"gte=0,lte=1"`
	NameWeights             matching.NameWeights           `mapstructure:"name_weights"`
	CharacteristicWeights   matching.CharacteristicWeights `mapstructure:"characteristic_weights"`
}

func (m MatchingConfig) NameMatcher() *matching.NameMatcher {
	return matching.NewNameMatcher(m.NameThreshold, m.NameWeights)
}

func (m MatchingConfig) CharacteristicMatcher() *matching.CharacteristicMatcher {
	return matching.NewCharacteristicMatcher(m.CharacteristicThreshold, m.CharacteristicWeights)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	RateLimit       float64       `mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst       int           `mapstructure:"rate_burst" validate:"min=0"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// Load reads configuration from path (or config.yaml in the usual places when
// path is empty), PRICESCRAPER_* environment variables and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/price-scraper/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	retryDefaults := retry.DefaultPolicy()
	v.SetDefault("retry.max_retries", retryDefaults.MaxRetries)
	v.SetDefault("retry.backoff", []string{"2s", "5s", "10s"})
	v.SetDefault("retry.default_delay", retryDefaults.DefaultDelay)

	b := browser.DefaultOptions()
	v.SetDefault("browser.headless", b.Headless)
	v.SetDefault("browser.navigation_timeout", b.NavigationTimeout)
	v.SetDefault("browser.element_timeout", b.ElementTimeout)
	v.SetDefault("browser.settle_delay", b.SettleDelay)
	v.SetDefault("browser.user_agent", b.UserAgent)
	v.SetDefault("browser.viewport_width", b.ViewportWidth)
	v.SetDefault("browser.viewport_height", b.ViewportHeight)
	v.SetDefault("browser.locale", b.Locale)
	v.SetDefault("browser.timezone_id", b.TimezoneID)

	cp := checkpoint.DefaultConfig()
	v.SetDefault("checkpoint.backend", cp.Backend)
	v.SetDefault("checkpoint.dir", cp.Dir)
	v.SetDefault("checkpoint.key_prefix", cp.KeyPrefix)
	v.SetDefault("checkpoint.ttl", cp.TTL)
	v.SetDefault("checkpoint.interval", cp.Interval)

	v.SetDefault("scraper.request_delay", 2*time.Second)
	v.SetDefault("scraper.product_delay", 3*time.Second)
	v.SetDefault("scraper.parallel_competitors", 1)
	v.SetDefault("scraper.output_dir", "results")
	v.SetDefault("scraper.catalog", "")
	v.SetDefault("scraper.persist_results", false)

	nw := matching.DefaultNameWeights()
	cw := matching.DefaultCharacteristicWeights()
	v.SetDefault("matching.name_threshold", 0.6)
	v.SetDefault("matching.characteristic_threshold", matching.DefaultCharacteristicThreshold)
	v.SetDefault("matching.name_weights.similarity", nw.Similarity)
	v.SetDefault("matching.name_weights.features", nw.Features)
	v.SetDefault("matching.name_weights.brand", nw.Brand)
	v.SetDefault("matching.characteristic_weights.type", cw.Type)
	v.SetDefault("matching.characteristic_weights.material", cw.Material)
	v.SetDefault("matching.characteristic_weights.size", cw.Size)
	v.SetDefault("matching.characteristic_weights.feature", cw.Feature)

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "competitor_prices")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("relay.poll_interval", 5*time.Second)
	v.SetDefault("relay.batch_size", 100)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.rate_burst", 20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

var validate = validator.New()

// Validate checks struct tags and the rules that span several fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	// Checkpoint and output files are named after the sanitized id.
	seen := make(map[string]string, len(c.Competitors))
	for _, comp := range c.Competitors {
		key := checkpoint.SafeID(comp.ID)
		if prev, ok := seen[key]; ok {
			if prev == comp.ID {
				return fmt.Errorf("duplicate competitor id %q", comp.ID)
			}
			return fmt.Errorf("competitor ids %q and %q map to the same file name %q", prev, comp.ID, key)
		}
		seen[key] = comp.ID
	}

	if c.Checkpoint.Backend == checkpoint.BackendRedis && !c.Redis.Enabled() {
		return fmt.Errorf("redis.addr is required when checkpoint.backend is %q", checkpoint.BackendRedis)
	}

	if c.Scraper.PersistResults && !c.Database.Enabled() {
		return fmt.Errorf("database.url or database.host is required when scraper.persist_results is set")
	}

	nw := c.Matching.NameWeights
	if nw.Similarity < 0 || nw.Features < 0 || nw.Brand < 0 {
		return fmt.Errorf("name weights must not be negative")
	}
	cw := c.Matching.CharacteristicWeights
	if cw.Type < 0 || cw.Material < 0 || cw.Size < 0 || cw.Feature < 0 {
		return fmt.Errorf("characteristic weights must not be negative")
	}

	for i, d := range c.Retry.Backoff {
		if d < 0 {
			return fmt.Errorf("retry.backoff[%d] must not be negative", i)
		}
	}

	return nil
}

// Competitor returns the site config for id with scraper-wide delays filled in.
func (c *Config) Competitor(id string) (sites.SiteConfig, bool) {
	for _, comp := range c.Competitors {
		if comp.ID == id {
			return c.withDefaults(comp), true
		}
	}
	return sites.SiteConfig{}, false
}

// Sites returns every configured competitor with defaults applied.
func (c *Config) Sites() []sites.SiteConfig {
	out := make([]sites.SiteConfig, len(c.Competitors))
	for i, comp := range c.Competitors {
		out[i] = c.withDefaults(comp)
	}
	return out
}

func (c *Config) withDefaults(s sites.SiteConfig) sites.SiteConfig {
	if s.RequestDelay == 0 {
		s.RequestDelay = c.Scraper.RequestDelay
	}
	if s.ProductDelay == 0 {
		s.ProductDelay = c.Scraper.ProductDelay
	}
	return s
}
