package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	PBX         PBXConfig         `yaml:"pbx"`
	Server      ServerConfig      `yaml:"server"`
	CRM         CRMConfig         `yaml:"crm"`
	Parts       PartsConfig       `yaml:"parts"`
	Cache       CacheConfig       `yaml:"cache"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	History     HistoryConfig     `yaml:"history"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Log         LogConfig         `yaml:"log"`
}

type PBXConfig struct {
	BaseURL           string        `yaml:"base_url" env:"PBX_BASE_URL"`
	StreamURL         string        `yaml:"stream_url" env:"PBX_STREAM_URL"`
	TokenURL          string        `yaml:"token_url" env:"PBX_TOKEN_URL"`
	ClientID          string        `yaml:"client_id" env:"PBX_CLIENT_ID"`
	ClientSecret      string        `yaml:"client_secret" env:"PBX_CLIENT_SECRET"`
	TrunkExtension    string        `yaml:"trunk_extension" env:"PBX_TRUNK_EXTENSION"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval" env:"PBX_KEEPALIVE_INTERVAL"`
	ReconnectBase     time.Duration `yaml:"reconnect_base" env:"PBX_RECONNECT_BASE"`
	ReconnectMax      time.Duration `yaml:"reconnect_max" env:"PBX_RECONNECT_MAX"`
	RequestTimeout    time.Duration `yaml:"request_timeout" env:"PBX_REQUEST_TIMEOUT"`
	TokenSafetyBuffer time.Duration `yaml:"token_safety_buffer" env:"PBX_TOKEN_SAFETY_BUFFER"`
}

type ServerConfig struct {
	Listen        string        `yaml:"listen" env:"SERVER_LISTEN"`
	ProbeInterval time.Duration `yaml:"probe_interval" env:"SERVER_PROBE_INTERVAL"`
	WriteTimeout  time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
}

type CRMConfig struct {
	BaseURL string        `yaml:"base_url" env:"CRM_BASE_URL"`
	APIKey  string        `yaml:"api_key" env:"CRM_API_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"CRM_TIMEOUT"`
}

// PartsConfig configures the parts/service lookup. An empty BaseURL disables it.
type PartsConfig struct {
	BaseURL string        `yaml:"base_url" env:"PARTS_BASE_URL"`
	APIKey  string        `yaml:"api_key" env:"PARTS_API_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"PARTS_TIMEOUT"`
}

type CacheConfig struct {
	CustomerTTL     time.Duration `yaml:"customer_ttl" env:"CACHE_CUSTOMER_TTL"`
	RingingDedupTTL time.Duration `yaml:"ringing_dedup_ttl" env:"CACHE_RINGING_DEDUP_TTL"`
	SavedCallTTL    time.Duration `yaml:"saved_call_ttl" env:"CACHE_SAVED_CALL_TTL"`
	SweepInterval   time.Duration `yaml:"sweep_interval" env:"CACHE_SWEEP_INTERVAL"`
}

type CorrelationConfig struct {
	SuppressWindow time.Duration `yaml:"suppress_window" env:"CORRELATION_SUPPRESS_WINDOW"`
	SessionMaxAge  time.Duration `yaml:"session_max_age" env:"CORRELATION_SESSION_MAX_AGE"`
}

type PipelineConfig struct {
	TestMode            bool   `yaml:"test_mode" env:"PIPELINE_TEST_MODE"`
	TestPhoneNumber     string `yaml:"test_phone_number" env:"PIPELINE_TEST_PHONE_NUMBER"`
	LegacyNotifications bool   `yaml:"legacy_notifications" env:"PIPELINE_LEGACY_NOTIFICATIONS"`
	Concurrency         int    `yaml:"concurrency" env:"PIPELINE_CONCURRENCY"`
}

type HistoryConfig struct {
	Driver        string `yaml:"driver" env:"HISTORY_DRIVER"`
	Path          string `yaml:"path" env:"HISTORY_PATH"`
	RedisAddr     string `yaml:"redis_addr" env:"HISTORY_REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"HISTORY_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"HISTORY_REDIS_DB"`
	RedisPrefix   string `yaml:"redis_prefix" env:"HISTORY_REDIS_PREFIX"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" env:"MQTT_ENABLED"`
	Broker      string `yaml:"broker" env:"MQTT_BROKER"`
	ClientID    string `yaml:"client_id" env:"MQTT_CLIENT_ID"`
	TopicPrefix string `yaml:"topic_prefix" env:"MQTT_TOPIC_PREFIX"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		PBX: PBXConfig{
			TrunkExtension:    "10001",
			KeepaliveInterval: 30 * time.Second,
			ReconnectBase:     time.Second,
			ReconnectMax:      60 * time.Second,
			RequestTimeout:    10 * time.Second,
			TokenSafetyBuffer: 60 * time.Second,
		},
		Server: ServerConfig{
			Listen:        ":8080",
			ProbeInterval: 30 * time.Second,
			WriteTimeout:  5 * time.Second,
		},
		CRM: CRMConfig{
			Timeout: 10 * time.Second,
		},
		Parts: PartsConfig{
			Timeout: 8 * time.Second,
		},
		Cache: CacheConfig{
			CustomerTTL:     30 * time.Minute,
			RingingDedupTTL: 30 * time.Second,
			SavedCallTTL:    2 * time.Hour,
			SweepInterval:   30 * time.Second,
		},
		Correlation: CorrelationConfig{
			SuppressWindow: 3 * time.Second,
			SessionMaxAge:  4 * time.Hour,
		},
		Pipeline: PipelineConfig{
			LegacyNotifications: true,
			Concurrency:         8,
		},
		History: HistoryConfig{
			Driver:      "sqlite",
			Path:        "callpop.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "callpop",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "callpop",
			TopicPrefix: "callpop",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadEnv loads ENV_FILE (or .env when unset) into the process environment.
// A missing default .env is not an error.
func LoadEnv() error {
	if envfile := os.Getenv("ENV_FILE"); envfile != "" {
		return godotenv.Load(envfile)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.PBX.BaseURL == "" {
		return fmt.Errorf("pbx.base_url is required")
	}
	if c.PBX.StreamURL == "" {
		return fmt.Errorf("pbx.stream_url is required")
	}
	if c.PBX.TokenURL == "" {
		return fmt.Errorf("pbx.token_url is required")
	}
	if c.PBX.ClientID == "" {
		return fmt.Errorf("pbx.client_id is required")
	}
	if c.PBX.ClientSecret == "" {
		return fmt.Errorf("pbx.client_secret is required")
	}
	if c.PBX.TrunkExtension == "" {
		return fmt.Errorf("pbx.trunk_extension is required")
	}
	if c.PBX.ReconnectBase <= 0 || c.PBX.ReconnectMax < c.PBX.ReconnectBase {
		return fmt.Errorf("pbx.reconnect_max must be >= pbx.reconnect_base > 0")
	}
	if c.PBX.KeepaliveInterval <= 0 {
		return fmt.Errorf("pbx.keepalive_interval must be positive")
	}
	if c.CRM.BaseURL == "" {
		return fmt.Errorf("crm.base_url is required")
	}
	for name, d := range map[string]time.Duration{
		"cache.customer_ttl":          c.Cache.CustomerTTL,
		"cache.ringing_dedup_ttl":     c.Cache.RingingDedupTTL,
		"cache.saved_call_ttl":        c.Cache.SavedCallTTL,
		"cache.sweep_interval":        c.Cache.SweepInterval,
		"server.probe_interval":       c.Server.ProbeInterval,
		"correlation.suppress_window": c.Correlation.SuppressWindow,
		"correlation.session_max_age": c.Correlation.SessionMaxAge,
		"crm.timeout":                 c.CRM.Timeout,
		"parts.timeout":               c.Parts.Timeout,
		"pbx.request_timeout":         c.PBX.RequestTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Pipeline.TestMode && c.Pipeline.TestPhoneNumber == "" {
		return fmt.Errorf("pipeline.test_phone_number is required in test mode")
	}
	switch c.History.Driver {
	case "sqlite":
		if c.History.Path == "" {
			return fmt.Errorf("history.path is required for the sqlite driver")
		}
	case "redis":
		if c.History.RedisAddr == "" {
			return fmt.Errorf("history.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("history.driver must be sqlite or redis, got %q", c.History.Driver)
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required")
		}
		if c.MQTT.ClientID == "" {
			return fmt.Errorf("mqtt.client_id is required")
		}
		if c.MQTT.TopicPrefix == "" {
			return fmt.Errorf("mqtt.topic_prefix is required")
		}
	}
	return nil
}
