// Package config loads relay-service settings from the environment and an
// optional YAML file using Viper.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	MailboxSQL   = "sql"
	MailboxRedis = "redis"
)

type Config struct {
	Port       string `mapstructure:"RELAY_PORT"`
	DBDriver   string `mapstructure:"RELAY_DB_DRIVER"`
	SQLitePath string `mapstructure:"RELAY_SQLITE_PATH"`

	PostgresUser     string `mapstructure:"POSTGRES_USER"`
	PostgresPassword string `mapstructure:"POSTGRES_PASSWORD"`
	PostgresDB       string `mapstructure:"POSTGRES_DB"`
	PostgresHost     string `mapstructure:"POSTGRES_HOST"`
	PostgresPort     string `mapstructure:"POSTGRES_PORT"`
	PostgresSSLMode  string `mapstructure:"POSTGRES_SSLMODE"`

	// MailboxBackend selects where command slots live: "sql" or "redis".
	MailboxBackend string `mapstructure:"RELAY_MAILBOX_BACKEND"`
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`

	// MQTTBrokerURL enables MQTT telemetry ingestion when non-empty.
	MQTTBrokerURL   string `mapstructure:"MQTT_BROKER_URL"`
	MQTTClientID    string `mapstructure:"RELAY_MQTT_CLIENT_ID"`
	MQTTTopicPrefix string `mapstructure:"RELAY_MQTT_TOPIC_PREFIX"`
	IngestRetained  bool   `mapstructure:"RELAY_INGEST_RETAINED"`

	SubscriberBuffer int `mapstructure:"RELAY_SUBSCRIBER_BUFFER"`

	LogLevel     string `mapstructure:"LOG_LEVEL"`
	LogFormat    string `mapstructure:"LOG_FORMAT"`
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

var defaults = map[string]any{
	"RELAY_PORT":                  "8097",
	"RELAY_DB_DRIVER":             DriverSQLite,
	"RELAY_SQLITE_PATH":           "data/relay.db",
	"POSTGRES_USER":               "",
	"POSTGRES_PASSWORD":           "",
	"POSTGRES_DB":                 "",
	"POSTGRES_HOST":               "",
	"POSTGRES_PORT":               "5432",
	"POSTGRES_SSLMODE":            "disable",
	"RELAY_MAILBOX_BACKEND":       MailboxSQL,
	"REDIS_ADDR":                  "localhost:6379",
	"REDIS_PASSWORD":              "",
	"MQTT_BROKER_URL":             "",
	"RELAY_MQTT_CLIENT_ID":        "relay-service",
	"RELAY_MQTT_TOPIC_PREFIX":     "relay/telemetry/",
	"RELAY_INGEST_RETAINED":       false,
	"RELAY_SUBSCRIBER_BUFFER":     64,
	"LOG_LEVEL":                   "info",
	"LOG_FORMAT":                  "text",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
}

// Load builds Config from defaults, then the YAML file named by
// RELAY_CONFIG_FILE (if any), then the environment.
func Load() (*Config, error) {
	v := viper.New()
	for k, def := range defaults {
		v.SetDefault(k, def)
	}

	if path := strings.TrimSpace(os.Getenv("RELAY_CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	slog.Info("relay-service config loaded",
		"port", cfg.Port,
		"db_driver", cfg.DBDriver,
		"mailbox", cfg.MailboxBackend,
		"mqtt", cfg.MQTTBrokerURL,
		"topic_prefix", cfg.MQTTTopicPrefix,
	)
	return &cfg, nil
}

func (c *Config) normalize() {
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.MailboxBackend = strings.ToLower(strings.TrimSpace(c.MailboxBackend))
	c.MQTTBrokerURL = strings.TrimSpace(c.MQTTBrokerURL)
	c.Port = strings.TrimPrefix(strings.TrimSpace(c.Port), ":")
}

func (c *Config) validate() error {
	if c.Port == "" {
		return errors.New("config: RELAY_PORT must be set")
	}
	switch c.DBDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("config: RELAY_SQLITE_PATH must be set for the sqlite driver")
		}
	case DriverPostgres:
		if c.PostgresHost == "" || c.PostgresDB == "" || c.PostgresUser == "" {
			return errors.New("config: POSTGRES_HOST, POSTGRES_DB and POSTGRES_USER are required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown RELAY_DB_DRIVER %q", c.DBDriver)
	}
	switch c.MailboxBackend {
	case MailboxSQL:
	case MailboxRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return errors.New("config: REDIS_ADDR must be set for the redis mailbox")
		}
	default:
		return fmt.Errorf("config: unknown RELAY_MAILBOX_BACKEND %q", c.MailboxBackend)
	}
	if c.SubscriberBuffer < 1 {
		return errors.New("config: RELAY_SUBSCRIBER_BUFFER must be at least 1")
	}
	return nil
}
