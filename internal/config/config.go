package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type AuthConfig struct {
	Required bool `mapstructure:"required"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type MongoConfig struct {
	URI        string        `mapstructure:"uri"`
	Database   string        `mapstructure:"database"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type RateConfig struct {
	EventsPerSecond float64 `mapstructure:"events_per_second"`
	Burst           int     `mapstructure:"burst"`
}

type Config struct {
	Mode            string        `mapstructure:"mode"`
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	ReadLimit       int64         `mapstructure:"read_limit"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Secret          string        `mapstructure:"secret"`
	Auth            AuthConfig    `mapstructure:"auth"`
	Store           StoreConfig   `mapstructure:"store"`
	Mongo           MongoConfig   `mapstructure:"mongo"`
	ICEServers      []ICEServer   `mapstructure:"ice_servers"`
	Rate            RateConfig    `mapstructure:"rate"`
	Backpressure    string        `mapstructure:"backpressure"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// Load reads config/config.<CONFIG_ENV>.yaml on top of the defaults. A .env
// file, when present, is applied to the environment first, and HUDDLE_*
// variables override both (HUDDLE_MONGO_URI for mongo.uri).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("module", "config").Msg(".env not applied")
	}
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.ResolveSecret()
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("store", cfg.Store.Driver).Bool("auth", cfg.Auth.Required).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("shutdown_timeout", "5s")
	v.SetDefault("secret", "")
	v.SetDefault("auth.required", false)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "huddle")
	v.SetDefault("mongo.collection", "rooms")
	v.SetDefault("mongo.timeout", "5s")
	v.SetDefault("ice_servers", []map[string]any{{"urls": []string{"stun:stun.l.google.com:19302"}}})
	v.SetDefault("rate.events_per_second", 20)
	v.SetDefault("rate.burst", 40)
	v.SetDefault("backpressure", "drop")
	v.SetDefault("allowed_origins", []string{})
}

// ResolveSecret fills an empty secret with a random one. Everything that
// signs or verifies (cookie store, token issuer, authenticator) must read
// Secret after this call.
func (c *Config) ResolveSecret() {
	if c.Secret != "" {
		return
	}
	c.Secret = uuid.NewString()
	log.Warn().Str("module", "config").Msg("no secret configured, sessions and tokens will not survive a restart")
}

func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("config: port %d out of range", c.Port)
	case c.PongWait <= c.PingPeriod:
		return fmt.Errorf("config: pong_wait %s must exceed ping_period %s", c.PongWait, c.PingPeriod)
	case c.SendBuffer <= 0:
		return fmt.Errorf("config: send_buffer must be positive")
	case c.Auth.Required && c.Secret == "":
		return fmt.Errorf("config: auth.required needs a secret")
	case c.Rate.EventsPerSecond <= 0 || c.Rate.Burst <= 0:
		return fmt.Errorf("config: rate limits must be positive")
	}
	switch c.Store.Driver {
	case "memory", "mongo":
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	switch c.Backpressure {
	case "drop", "kick":
	default:
		return fmt.Errorf("config: unknown backpressure policy %q", c.Backpressure)
	}
	return nil
}

func (c *Config) Debug() bool { return c.Mode == "debug" }
