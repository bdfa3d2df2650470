package motion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"levelcube/internal/attitude"
)

type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
	// ConnectTimeout bounds Open; 0 means 5s.
	ConnectTimeout time.Duration
}

// MQTT subscribes to a topic on which a remote device publishes its
// attitude as JSON ({"qx":..,"qy":..,"qz":..,"qw":..} or x/y/z/w keys).
type MQTT struct {
	cfg MQTTConfig
}

func NewMQTT(cfg MQTTConfig) *MQTT {
	if cfg.ClientID == "" {
		cfg.ClientID = "levelcube-source"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return &MQTT{cfg: cfg}
}

func (p *MQTT) Name() string { return "mqtt" }

func (p *MQTT) Available() error {
	if strings.TrimSpace(p.cfg.Broker) == "" || strings.TrimSpace(p.cfg.Topic) == "" {
		return fmt.Errorf("%w: mqtt: broker and topic are required", ErrUnavailable)
	}
	return nil
}

func (p *MQTT) Open(interval time.Duration) (Stream, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(p.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(p.cfg.ConnectTimeout)

	incoming := make(chan Reading, 8)
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		q, err := parseQuatPayload(msg.Payload())
		if err != nil {
			log.Debugf("mqtt source: %s: %v", msg.Topic(), err)
			return
		}
		select {
		case incoming <- Reading{Q: q, At: time.Now()}:
		default:
		}
	}
	// Resubscribe after every (re)connect.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if tok := c.Subscribe(p.cfg.Topic, p.cfg.QoS, handler); tok.WaitTimeout(p.cfg.ConnectTimeout) && tok.Error() != nil {
			log.Warnf("mqtt source: subscribe %s: %v", p.cfg.Topic, tok.Error())
		}
	})

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(p.cfg.ConnectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("%w: mqtt: connect to %s timed out", ErrUnavailable, p.cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("%w: mqtt: connect to %s: %v", ErrUnavailable, p.cfg.Broker, err)
	}
	log.Infof("mqtt source: connected to %s, topic %s", p.cfg.Broker, p.cfg.Topic)

	s := newChanStream(4)
	s.closeErr = func() error {
		client.Unsubscribe(p.cfg.Topic).WaitTimeout(time.Second)
		client.Disconnect(250)
		return nil
	}
	go forwardThrottled(s, incoming, interval)
	return s, nil
}

// forwardThrottled moves readings from in to s at no more than one per
// interval on average.
func forwardThrottled(s *chanStream, in <-chan Reading, interval time.Duration) {
	defer s.finish()
	gate := newRateGate(interval, interval/2)
	for {
		select {
		case <-s.stopped():
			return
		case r := <-in:
			if !gate.due(r.At) {
				continue
			}
			if !s.deliver(r) {
				return
			}
		}
	}
}

type quatPayload struct {
	QX *float64 `json:"qx"`
	QY *float64 `json:"qy"`
	QZ *float64 `json:"qz"`
	QW *float64 `json:"qw"`
	X  *float64 `json:"x"`
	Y  *float64 `json:"y"`
	Z  *float64 `json:"z"`
	W  *float64 `json:"w"`
}

func parseQuatPayload(b []byte) (attitude.Quaternion, error) {
	var p quatPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return attitude.Quaternion{}, fmt.Errorf("decode quaternion: %w", err)
	}
	pick := func(a, b *float64) (float64, bool) {
		if a != nil {
			return *a, true
		}
		if b != nil {
			return *b, true
		}
		return 0, false
	}
	x, okx := pick(p.QX, p.X)
	y, oky := pick(p.QY, p.Y)
	z, okz := pick(p.QZ, p.Z)
	w, okw := pick(p.QW, p.W)
	if !okx || !oky || !okz || !okw {
		return attitude.Quaternion{}, fmt.Errorf("decode quaternion: missing component")
	}
	return attitude.Quaternion{X: x, Y: y, Z: z, W: w}.Normalize()
}
