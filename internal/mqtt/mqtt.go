// Package mqtt wraps the paho client used for device telemetry ingestion.
package mqtt

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type Client struct {
	client paho.Client
	topics []string
}

type Message struct {
	paho.Message
}

// Handler receives every message on a subscribed topic filter.
type Handler func(Message)

// brokerAddress maps mqtt:// and mqtts:// URLs onto the schemes paho dials.
func brokerAddress(raw string) (string, bool) {
	url := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(url, "mqtt://"):
		return "tcp://" + strings.TrimPrefix(url, "mqtt://"), false
	case strings.HasPrefix(url, "mqtts://"):
		return "ssl://" + strings.TrimPrefix(url, "mqtts://"), true
	case strings.HasPrefix(url, "ssl://"), strings.HasPrefix(url, "tls://"):
		return url, true
	case strings.Contains(url, "://"):
		return url, false
	}
	return "tcp://" + url, false
}

func Connect(brokerURL, clientID string) (*Client, error) {
	if strings.TrimSpace(brokerURL) == "" {
		return nil, errors.New("mqtt broker url is empty")
	}
	addr, secure := brokerAddress(brokerURL)

	opts := paho.NewClientOptions()
	opts.AddBroker(addr)
	if strings.TrimSpace(clientID) == "" {
		clientID = "relay-service-" + time.Now().Format("150405.000")
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	if secure {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.OnConnectionLost = func(_ paho.Client, err error) {
		slog.Warn("mqtt connection lost", "broker", addr, "error", err)
	}
	opts.OnConnect = func(_ paho.Client) {
		slog.Info("mqtt connected", "broker", addr, "client_id", clientID)
	}

	c := paho.NewClient(opts)
	tok := c.Connect()
	if ok := tok.WaitTimeout(15 * time.Second); !ok {
		return nil, errors.New("mqtt connect timed out")
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}
	return &Client{client: c}, nil
}

func (c *Client) Subscribe(topic string, handler Handler) error {
	tok := c.client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		handler(Message{Message: msg})
	})
	tok.Wait()
	if err := tok.Error(); err != nil {
		return err
	}
	c.topics = append(c.topics, topic)
	return nil
}

func (c *Client) Close() {
	if c == nil || c.client == nil {
		return
	}
	if len(c.topics) > 0 && c.client.IsConnectionOpen() {
		c.client.Unsubscribe(c.topics...).WaitTimeout(2 * time.Second)
	}
	c.client.Disconnect(1000)
}
