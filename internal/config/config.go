// Package config loads the engine configuration from an optional YAML file
// and the environment.
//
// Environment variables use the PORTFOLIO_ prefix with dots replaced by
// underscores (PORTFOLIO_HTTP_PORT, PORTFOLIO_RISK_MAX_VENUE_EXPOSURE). The
// bare PORT, DATABASE_URL and REDIS_URL variables are honoured as well.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

var ErrInvalid = errors.New("config: invalid configuration")

type Config struct {
	HTTP        HTTPConfig        `mapstructure:"http"`
	Log         LogConfig         `mapstructure:"log"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Instruments InstrumentsConfig `mapstructure:"instruments"`
	Bus         BusConfig         `mapstructure:"bus"`
	Store       StoreConfig       `mapstructure:"store"`
	Risk        RiskConfig        `mapstructure:"risk"`
}

type HTTPConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
}

// DatabaseConfig selects the durable store. An empty URL keeps all state in
// memory.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl"`
}

type InstrumentsConfig struct {
	File string `mapstructure:"file"`
}

type BusConfig struct {
	Capacity int `mapstructure:"capacity"` // per-topic queue depth
}

type StoreConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// RiskConfig holds the pre-trade limits in the account's reporting
// currency. Zero disables a limit.
type RiskConfig struct {
	MaxInstrumentExposure decimal.Decimal `mapstructure:"max_instrument_exposure"`
	MaxVenueExposure      decimal.Decimal `mapstructure:"max_venue_exposure"`
}

// Load reads path (if non-empty) and the environment into a Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PORTFOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range map[string]string{
		"http.port":    "PORT",
		"database.url": "DATABASE_URL",
		"redis.url":    "REDIS_URL",
	} {
		if err := v.BindEnv(key, "PORTFOLIO_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToDecimalHook(),
	))); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "8080")
	v.SetDefault("http.shutdown_timeout", "5s")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", "30s")
	v.SetDefault("instruments.file", "")
	v.SetDefault("bus.capacity", 4096)
	v.SetDefault("store.flush_interval", "100ms")
	v.SetDefault("risk.max_instrument_exposure", "0")
	v.SetDefault("risk.max_venue_exposure", "0")
}

// stringToDecimalHook decodes strings and numbers into decimal.Decimal.
// Numbers go through their string form so YAML floats keep the digits as
// written.
func stringToDecimalHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(decimal.Decimal{}) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return decimal.Zero, nil
			}
			return decimal.NewFromString(strings.TrimSpace(v))
		case int, int32, int64, float32, float64:
			return decimal.NewFromString(fmt.Sprint(v))
		default:
			return data, nil
		}
	}
}

func (c *Config) validate() error {
	switch {
	case c.HTTP.Port == "":
		return fmt.Errorf("%w: http.port is required", ErrInvalid)
	case c.Bus.Capacity <= 0:
		return fmt.Errorf("%w: bus.capacity must be positive", ErrInvalid)
	case c.Store.FlushInterval <= 0:
		return fmt.Errorf("%w: store.flush_interval must be positive", ErrInvalid)
	case c.Redis.TTL < 0:
		return fmt.Errorf("%w: redis.ttl must not be negative", ErrInvalid)
	case c.Risk.MaxInstrumentExposure.IsNegative() || c.Risk.MaxVenueExposure.IsNegative():
		return fmt.Errorf("%w: risk limits must not be negative", ErrInvalid)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("%w: log.level %q", ErrInvalid, s)
	}
	return l, nil
}
