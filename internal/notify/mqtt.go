package notify

import (
	"log/slog"
	"net/url"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Lifecycle events are rare and must not be lost
const mqttQoS = 1

type mqttTransport struct {
	client  mqtt.Client
	broker  string
	timeout time.Duration
}

// brokerURL rewrites mqtt:// and mqtts:// to the schemes paho understands
func brokerURL(u *url.URL) string {
	b := *u
	switch b.Scheme {
	case "mqtt":
		b.Scheme = "tcp"
	case "mqtts":
		b.Scheme = "ssl"
	}
	b.User = nil
	return b.String()
}

func dialMQTT(u *url.URL, timeout time.Duration, logger *slog.Logger) (*mqttTransport, error) {
	broker := brokerURL(u)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("stream-record-" + uuid.NewString()[:8])
	opts.SetConnectTimeout(timeout)
	opts.SetAutoReconnect(true)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pw, ok := u.User.Password(); ok {
			opts.SetPassword(pw)
		}
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logger.Warn("notify: mqtt connection lost, will auto-reconnect", "error", err, "broker", broker)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, errors.Errorf("notify: mqtt connection to %s timed out after %s", broker, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "notify: connect to MQTT at %s", broker)
	}

	return &mqttTransport{client: client, broker: broker, timeout: timeout}, nil
}

func (t *mqttTransport) publish(topic string, data []byte) error {
	token := t.client.Publish(topic, mqttQoS, false, data)
	if !token.WaitTimeout(t.timeout) {
		return errors.New("mqtt publish timeout")
	}
	return token.Error()
}

// close waits up to 250ms for in-flight messages
func (t *mqttTransport) close() {
	if t.client.IsConnected() {
		t.client.Disconnect(250)
	}
}

func (t *mqttTransport) String() string { return t.broker }
