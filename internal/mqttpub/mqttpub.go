// Package mqttpub mirrors the engine state onto an MQTT topic.
package mqttpub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"levelcube/internal/engine"
)

type Config struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
	Retain   bool
	Interval time.Duration
}

type publisher interface {
	Publish(topic string, qos byte, retain bool, payload []byte) error
	Close()
}

type pahoPublisher struct {
	client mqtt.Client
}

func (p *pahoPublisher) Publish(topic string, qos byte, retain bool, payload []byte) error {
	tok := p.client.Publish(topic, qos, retain, payload)
	if !tok.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	return tok.Error()
}

func (p *pahoPublisher) Close() { p.client.Disconnect(250) }

// Publisher sends the latest state at most once per interval, and only when
// a new snapshot was published since the last send.
type Publisher struct {
	cfg   Config
	state func() engine.State
	pub   publisher

	lastSeq uint64
	sent    bool
	lastErr string
}

// Dial connects to the broker. The client reconnects on its own afterwards.
func Dial(cfg Config, state func() engine.State) (*Publisher, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "levelcube"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(5 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnf("mqttpub: connection lost: %v", err)
	})
	client := mqtt.NewClient(opts)
	if tok := client.Connect(); tok.WaitTimeout(5*time.Second) && tok.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, tok.Error())
	}
	return newPublisher(cfg, state, &pahoPublisher{client: client}), nil
}

func newPublisher(cfg Config, state func() engine.State, pub publisher) *Publisher {
	if cfg.Interval <= 0 {
		cfg.Interval = 200 * time.Millisecond
	}
	return &Publisher{cfg: cfg, state: state, pub: pub}
}

// Payload is the message body for st.
func Payload(st engine.State) ([]byte, error) {
	return json.Marshal(st)
}

func (p *Publisher) Run(ctx context.Context) error {
	log.Infof("mqttpub: publishing to %s on %s every %s", p.cfg.Topic, p.cfg.Broker, p.cfg.Interval)
	defer p.pub.Close()
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.publishOnce()
		}
	}
}

func (p *Publisher) publishOnce() {
	st := p.state()
	if p.sent && st.Seq == p.lastSeq {
		return
	}
	b, err := Payload(st)
	if err != nil {
		log.Errorf("mqttpub: marshal: %v", err)
		return
	}
	err = p.pub.Publish(p.cfg.Topic, p.cfg.QoS, p.cfg.Retain, b)
	msg := ""
	if err != nil {
		msg = err.Error()
	} else {
		p.lastSeq = st.Seq
		p.sent = true
	}
	if msg != p.lastErr {
		if msg != "" {
			log.Warnf("mqttpub: %s", msg)
		}
		p.lastErr = msg
	}
}
