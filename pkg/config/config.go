package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	SQLite   SQLiteConfig
	Redis    RedisConfig
	Scraper  ScraperConfig
	Resolver ResolverConfig
	Registry RegistryConfig
	Dedupe   DedupeConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLSec   int
}

type ScraperConfig struct {
	FetchTimeoutSec      int
	MaxAttempts          int
	BackoffBaseMS        int
	SummaryDelayMS       int
	DetailDelayMS        int
	MaxPages             int
	ConsecutiveExisting  int
	MaxConsecutiveErrors int
	UserAgent            string
	EABaseURL            string
	HSEBaseURL           string
}

type ResolverConfig struct {
	HighThreshold float64
	LowThreshold  float64
	TopK          int
}

type RegistryConfig struct {
	BaseURL    string
	APIKey     string
	TimeoutSec int
	MaxResults int
}

type DedupeConfig struct {
	DescriptionThreshold float64
	DateWindowDays       int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/regwatch")

	viper.SetEnvPrefix("REGWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("sqlite.path", "./data/regwatch.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlSec", 86400)

	viper.SetDefault("scraper.fetchTimeoutSec", 30)
	viper.SetDefault("scraper.maxAttempts", 3)
	viper.SetDefault("scraper.backoffBaseMS", 1000)
	viper.SetDefault("scraper.summaryDelayMS", 1000)
	viper.SetDefault("scraper.detailDelayMS", 3000)
	viper.SetDefault("scraper.maxPages", 50)
	viper.SetDefault("scraper.consecutiveExisting", 10)
	viper.SetDefault("scraper.maxConsecutiveErrors", 5)
	viper.SetDefault("scraper.userAgent", "regwatch-scraper/1.0")
	viper.SetDefault("scraper.eaBaseURL", "https://environment.data.gov.uk")
	viper.SetDefault("scraper.hseBaseURL", "https://resources.hse.gov.uk/convictions")

	viper.SetDefault("resolver.highThreshold", 0.85)
	viper.SetDefault("resolver.lowThreshold", 0.5)
	viper.SetDefault("resolver.topK", 5)

	viper.SetDefault("registry.baseURL", "https://api.company-information.service.gov.uk")
	viper.SetDefault("registry.timeoutSec", 10)
	viper.SetDefault("registry.maxResults", 5)

	viper.SetDefault("dedupe.descriptionThreshold", 0.7)
	viper.SetDefault("dedupe.dateWindowDays", 30)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}

// FetchTimeout returns the per-request receive timeout.
func (c ScraperConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

// BackoffBase returns the initial retry backoff delay.
func (c ScraperConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

// SummaryDelay returns the minimum delay between summary-page fetches.
func (c ScraperConfig) SummaryDelay() time.Duration {
	return time.Duration(c.SummaryDelayMS) * time.Millisecond
}

// DetailDelay returns the minimum delay between detail-page fetches.
func (c ScraperConfig) DetailDelay() time.Duration {
	return time.Duration(c.DetailDelayMS) * time.Millisecond
}
