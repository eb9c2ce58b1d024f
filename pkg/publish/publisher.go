// Package publish republishes committed register changes to MQTT: one
// generic "<topicRoot>/<key>" topic per descriptor plus an online/offline
// status topic backed by a Last Will and Testament, collapsed from the
// teacher's per-device-class topic hierarchy since this protocol has one
// flat register namespace rather than a discoverable sensor catalogue.
package publish

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"bmvlink/pkg/config"
	"bmvlink/pkg/logger"
	"bmvlink/pkg/registry"
)

// Publisher republishes registry.Change events onto MQTT.
type Publisher struct {
	client     paho.Client
	topicRoot  string
	retryDelay time.Duration
}

// NewPublisher constructs a Publisher from PublishConfig. The client is not
// connected until Connect is called.
func NewPublisher(cfg config.PublishConfig) *Publisher {
	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "bmvlink"
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	root := cfg.TopicRoot
	if root == "" {
		root = "bmvlink"
	}
	statusTopic := root + "/status"
	opts.SetWill(statusTopic, "offline", 1, true)

	opts.SetOnConnectHandler(func(client paho.Client) {
		logger.LogInfo("publish: connected to MQTT broker")
		if token := client.Publish(statusTopic, 1, true, "online"); token.Wait() && token.Error() != nil {
			logger.LogWarn("publish: error publishing online status: %v", token.Error())
		}
	})
	opts.SetConnectionLostHandler(func(client paho.Client, err error) {
		logger.LogError("publish: disconnected from MQTT broker: %v", err)
	})

	return &Publisher{
		client:     paho.NewClient(opts),
		topicRoot:  root,
		retryDelay: 5 * time.Second,
	}
}

// Connect connects to the broker, retrying with a fixed delay until ctx is
// cancelled.
func (p *Publisher) Connect(ctx context.Context) error {
	attempt := 1
	for {
		if token := p.client.Connect(); token.Wait() && token.Error() != nil {
			logger.LogError("publish: connection attempt %d failed: %v", attempt, token.Error())
			select {
			case <-ctx.Done():
				return fmt.Errorf("publish: connection cancelled: %w", ctx.Err())
			case <-time.After(p.retryDelay):
				attempt++
				continue
			}
		}
		logger.LogInfo("publish: connected after %d attempt(s)", attempt)
		return nil
	}
}

// Disconnect gracefully closes the connection, publishing the offline
// status first.
func (p *Publisher) Disconnect() {
	if !p.client.IsConnected() {
		return
	}
	if token := p.client.Publish(p.topicRoot+"/status", 1, true, "offline"); token.Wait() && token.Error() != nil {
		logger.LogWarn("publish: error publishing offline status: %v", token.Error())
	}
	p.client.Disconnect(250)
}

// PublishChange publishes one changed descriptor's new formatted value.
func (p *Publisher) PublishChange(key, formatted string) {
	topic := p.topicRoot + "/" + key
	if token := p.client.Publish(topic, 0, false, formatted); token.Wait() && token.Error() != nil {
		logger.LogWarn("publish: error publishing %s: %v", topic, token.Error())
	}
}

// PublishDiagnostic implements errors.DiagnosticPublisher, surfacing the
// engine's typed errors (frame/command checksum failures, device
// refusals, timeouts, port errors) on a dedicated topic alongside the
// register-change topics PublishChange writes to.
func (p *Publisher) PublishDiagnostic(ctx context.Context, code int, message string) error {
	topic := p.topicRoot + "/diagnostics"
	token := p.client.Publish(topic, 0, false, fmt.Sprintf("%d: %s", code, message))
	token.Wait()
	return token.Error()
}

// ChangeListListener adapts Publisher into a registry.ChangeListListener
// suitable for facade.RegisterListener("ChangeList", ...).
func (p *Publisher) ChangeListListener() registry.ChangeListListener {
	return func(changes map[string]registry.Change, _ time.Time) {
		for key, c := range changes {
			p.PublishChange(key, c.NewFormatted)
		}
	}
}
