// Package publisher notifies subscribers of newly written generation data.
package publisher

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/config"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/models"
)

const (
	clientIDPrefix = "rte-generation-watcher"
	publishQoS     = 1
	publishTimeout = 10 * time.Second
	// disconnectQuiesce is in milliseconds.
	disconnectQuiesce = 250
)

// publishClient is the subset of mqtt.Client used by Publisher.
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Publisher sends one MQTT message per feature to {prefix}/{unit key}.
type Publisher struct {
	client      publishClient
	topicPrefix string
}

// Message is the JSON body published for a feature.
type Message struct {
	UnitKey        string          `json:"unitKey"`
	EICCode        string          `json:"eicCode,omitempty"`
	Name           string          `json:"name"`
	ProductionType string          `json:"productionType,omitempty"`
	Time           time.Time       `json:"time"`
	Power          *float64        `json:"power"`
	Geometry       models.Geometry `json:"geometry"`
}

// New connects to the broker.
func New(cfg config.MQTTConfig) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(cfg.Broker))
	opts.SetClientID(fmt.Sprintf("%s-%d", clientIDPrefix, time.Now().UnixNano()))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}

	return newWithClient(client, cfg.TopicPrefix), nil
}

func newWithClient(client publishClient, prefix string) *Publisher {
	return &Publisher{client: client, topicPrefix: strings.TrimRight(prefix, "/")}
}

// Notify publishes every feature and returns the first failure.
func (p *Publisher) Notify(ctx context.Context, features []models.Feature) error {
	for _, f := range features {
		if err := ctx.Err(); err != nil {
			return err
		}

		body, err := json.Marshal(NewMessage(f))
		if err != nil {
			return fmt.Errorf("encoding message: %w", err)
		}

		topic := p.Topic(f.UnitKey)
		token := p.client.Publish(topic, publishQoS, false, body)
		if !token.WaitTimeout(publishTimeout) {
			return fmt.Errorf("publish %s: timed out", topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	}
	return nil
}

// Topic returns the topic of a unit. MQTT wildcard and level characters in
// the key are replaced.
func (p *Publisher) Topic(unitKey string) string {
	key := strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(unitKey)
	return p.topicPrefix + "/" + key
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(disconnectQuiesce)
	}
}

// NewMessage builds the message of a feature.
func NewMessage(f models.Feature) Message {
	return Message{
		UnitKey:        f.UnitKey,
		EICCode:        f.Code,
		Name:           f.Name,
		ProductionType: f.ProductionType,
		Time:           f.Time.UTC(),
		Power:          f.Power,
		Geometry:       f.Geometry,
	}
}

// BrokerURL adds the tcp scheme to a bare host:port.
func BrokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}
