// Package config loads the process configuration from a YAML file with
// environment-variable overrides for deployment secrets.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/tickdrive/tickdrive/internal/domain"
)

// Config is the full process configuration.
type Config struct {
	Symbols    []string `yaml:"symbols"`
	Timeframes []string `yaml:"timeframes"`
	MarketType string   `yaml:"market_type"`

	FetchIntervalSec int `yaml:"fetch_interval_sec"`
	BufferSize       int `yaml:"buffer_size"`
	FlushIntervalSec int `yaml:"flush_interval_sec"`

	AutoRepairOnStart        bool `yaml:"auto_repair_on_start"`
	RepairHoursBackOnStartup int  `yaml:"repair_hours_back_on_startup"`
	RepairDaysBack           int  `yaml:"repair_days_back"`
	RepairKlinesCount        int  `yaml:"repair_klines_count"`

	DatabaseURL string `yaml:"database_url"`

	Redis struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
		DB   int    `yaml:"db"`
	} `yaml:"redis"`

	Binance struct {
		APIKey    string `yaml:"api_key"`
		APISecret string `yaml:"api_secret"`
	} `yaml:"binance"`

	Proxy struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"proxy"`

	Ops struct {
		Addr string `yaml:"addr"`
	} `yaml:"ops"`

	AI struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"ai"`

	Trading struct {
		InitialBalance float64 `yaml:"initial_balance"`
		MaxPositions   int     `yaml:"max_positions"`
		MaxExposurePct float64 `yaml:"max_exposure_pct"`
		SingleMaxPct   float64 `yaml:"single_position_max_pct"`
		PositionPct    float64 `yaml:"position_pct"`
	} `yaml:"trading"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var c Config
	c.Symbols = []string{"BTCUSDT"}
	c.Timeframes = []string{"1h"}
	c.MarketType = string(domain.MarketSpot)
	c.FetchIntervalSec = 5
	c.BufferSize = 100
	c.FlushIntervalSec = 10
	c.RepairHoursBackOnStartup = 1
	c.RepairDaysBack = 30
	c.RepairKlinesCount = 2000
	c.Redis.Host = "localhost"
	c.Redis.Port = 6379
	c.Ops.Addr = ":8080"
	c.Trading.InitialBalance = 10000
	c.Trading.MaxPositions = 3
	c.Trading.MaxExposurePct = 0.8
	c.Trading.SingleMaxPct = 0.5
	c.Trading.PositionPct = 0.2
	return c
}

// Load reads the YAML file over the defaults, then applies environment
// overrides. An empty path loads defaults and environment only.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return c, fmt.Errorf("parse config YAML: %w", err)
		}
	}
	c.applyEnv()
	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TICKDRIVE_DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("TICKDRIVE_REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("TICKDRIVE_REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Redis.Port = port
		}
	}
	if v := os.Getenv("TICKDRIVE_BINANCE_API_KEY"); v != "" {
		c.Binance.APIKey = v
	}
	if v := os.Getenv("TICKDRIVE_BINANCE_API_SECRET"); v != "" {
		c.Binance.APISecret = v
	}
	if v := os.Getenv("TICKDRIVE_OPS_ADDR"); v != "" {
		c.Ops.Addr = v
	}
}

func (c *Config) validate() error {
	if _, err := domain.ParseMarketType(c.MarketType); err != nil {
		return err
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("no symbols configured")
	}
	if len(c.Timeframes) == 0 {
		return fmt.Errorf("no timeframes configured")
	}
	return nil
}

// Market returns the parsed market type. Load validated it already.
func (c *Config) Market() domain.MarketType {
	m, _ := domain.ParseMarketType(c.MarketType)
	return m
}

// Keys expands the symbol and timeframe lists into series keys.
func (c *Config) Keys() []domain.Key {
	keys := make([]domain.Key, 0, len(c.Symbols)*len(c.Timeframes))
	for _, s := range c.Symbols {
		for _, tf := range c.Timeframes {
			keys = append(keys, domain.Key{Symbol: s, Timeframe: tf})
		}
	}
	return keys
}

// RedisAddr is host:port for the Redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// ProxyURL is the HTTP proxy address, or empty when unset.
func (c *Config) ProxyURL() string {
	if c.Proxy.Host == "" {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", c.Proxy.Host, c.Proxy.Port)
}
