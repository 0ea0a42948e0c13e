package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8097" {
		t.Errorf("Port = %q, want 8097", cfg.Port)
	}
	if cfg.DBDriver != DriverSQLite || cfg.SQLitePath != "data/relay.db" {
		t.Errorf("unexpected db defaults: %q %q", cfg.DBDriver, cfg.SQLitePath)
	}
	if cfg.MailboxBackend != MailboxSQL {
		t.Errorf("MailboxBackend = %q, want sql", cfg.MailboxBackend)
	}
	if cfg.MQTTBrokerURL != "" {
		t.Errorf("MQTT should be disabled by default, got %q", cfg.MQTTBrokerURL)
	}
	if cfg.MQTTTopicPrefix != "relay/telemetry/" {
		t.Errorf("MQTTTopicPrefix = %q", cfg.MQTTTopicPrefix)
	}
	if cfg.SubscriberBuffer != 64 {
		t.Errorf("SubscriberBuffer = %d, want 64", cfg.SubscriberBuffer)
	}
	if cfg.IngestRetained {
		t.Error("IngestRetained should default to false")
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("RELAY_PORT", ":9000")
	os.Setenv("RELAY_MAILBOX_BACKEND", "REDIS")
	os.Setenv("REDIS_ADDR", "cache:6379")
	os.Setenv("RELAY_INGEST_RETAINED", "true")
	os.Setenv("RELAY_SUBSCRIBER_BUFFER", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("Port = %q, want 9000", cfg.Port)
	}
	if cfg.MailboxBackend != MailboxRedis || cfg.RedisAddr != "cache:6379" {
		t.Errorf("unexpected mailbox config: %q %q", cfg.MailboxBackend, cfg.RedisAddr)
	}
	if !cfg.IngestRetained || cfg.SubscriberBuffer != 8 {
		t.Errorf("unexpected overrides: retained=%v buffer=%d", cfg.IngestRetained, cfg.SubscriberBuffer)
	}
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	os.Clearenv()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	yaml := "relay_port: \"7001\"\nrelay_mqtt_topic_prefix: custom/\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	os.Setenv("RELAY_CONFIG_FILE", path)
	os.Setenv("RELAY_MQTT_TOPIC_PREFIX", "env/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "7001" {
		t.Errorf("Port = %q, want 7001 from file", cfg.Port)
	}
	if cfg.MQTTTopicPrefix != "env/" {
		t.Errorf("env must override file, got %q", cfg.MQTTTopicPrefix)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown driver":   {"RELAY_DB_DRIVER": "mysql"},
		"postgres missing": {"RELAY_DB_DRIVER": "postgres"},
		"unknown mailbox":  {"RELAY_MAILBOX_BACKEND": "kafka"},
		"zero buffer":      {"RELAY_SUBSCRIBER_BUFFER": "0"},
		"missing file":     {"RELAY_CONFIG_FILE": "/nonexistent/relay.yaml"},
	}
	for name, env := range cases {
		os.Clearenv()
		for k, v := range env {
			os.Setenv(k, v)
		}
		if _, err := Load(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
