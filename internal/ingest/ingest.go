// Package ingest turns MQTT telemetry messages into stored records.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gasbill97-stack/allu-admin/internal/telemetry"
)

const DefaultPrefix = "relay/telemetry/"

var ErrNotATelemetryTopic = errors.New("not a telemetry topic")

// Ingester is the telemetry entry point shared with the HTTP boundary.
type Ingester interface {
	Ingest(ctx context.Context, kind telemetry.Kind, body []byte, deviceHint string) error
}

type Ingestor struct {
	Telemetry    Ingester
	Prefix       string
	AllowRetains bool
}

type MQTTMessage interface {
	Topic() string
	Payload() []byte
	Retained() bool
}

// TopicFilter is the wildcard subscription covering every telemetry topic.
func (i *Ingestor) TopicFilter() string {
	return prefixOrDefault(i.Prefix) + "#"
}

func (i *Ingestor) HandleMessage(ctx context.Context, msg MQTTMessage) {
	topic := msg.Topic()
	if msg.Retained() && !i.AllowRetains {
		slog.Debug("relay ingest ignoring retained", "topic", topic)
		return
	}

	kind, deviceID, err := ParseTopic(i.Prefix, topic)
	if err != nil {
		if !errors.Is(err, ErrNotATelemetryTopic) {
			slog.Warn("relay ingest topic parse failed", "topic", topic, "error", err)
		}
		return
	}

	payload := msg.Payload()
	if len(payload) == 0 {
		return
	}
	if err := i.Telemetry.Ingest(ctx, kind, payload, deviceID); err != nil {
		slog.Warn("relay ingest dropped message", "topic", topic, "kind", kind, "device_id", deviceID, "error", err)
		return
	}
}

// ParseTopic splits <prefix><kind>[/<device_id>]. The device id may itself
// contain slashes.
func ParseTopic(prefix, topic string) (telemetry.Kind, string, error) {
	prefix = prefixOrDefault(prefix)
	if !strings.HasPrefix(topic, prefix) {
		return "", "", ErrNotATelemetryTopic
	}
	rest := strings.Trim(strings.TrimPrefix(topic, prefix), "/")
	if rest == "" {
		return "", "", errors.New("missing telemetry kind")
	}
	head, deviceID, _ := strings.Cut(rest, "/")
	kind, err := telemetry.ParseKind(head)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrNotATelemetryTopic, err)
	}
	return kind, strings.Trim(deviceID, "/"), nil
}

func prefixOrDefault(prefix string) string {
	if strings.TrimSpace(prefix) == "" {
		return DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}
