package sink

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/ba-nh/canmonitor/internal/ingest"
)

// mqttRecord is the JSON wire shape published for each finalized slot.
type mqttRecord struct {
	Time    float64        `json:"time"`
	Signals map[string]any `json:"signals"`
	Event   string         `json:"event"`
	Trigger string         `json:"trigger"`
}

// MQTTSink publishes finalized slot records to a broker at QoS 0
// (fire-and-forget): a slow or unreachable broker must never delay CSV or
// dashboard delivery, so publish failures are logged and dropped, never
// retried inline.
type MQTTSink struct {
	client mqtt.Client
	topic  string
	log    zerolog.Logger
}

// NewMQTTSink connects to broker and returns a ready-to-publish sink.
func NewMQTTSink(broker, topic, clientID string, log zerolog.Logger) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, &mqttTimeoutError{broker: broker}
	}
	if err := token.Error(); err != nil {
		return nil, err
	}

	return &MQTTSink{client: client, topic: topic, log: log}, nil
}

// Publish marshals rec and fires a QoS-0 publish. Errors are logged, not
// propagated: this sink must never block or fail the ingest loop.
func (s *MQTTSink) Publish(rec ingest.SlotRecord) {
	payload := mqttRecord{
		Time:    rec.Time,
		Signals: signalsToJSON(rec.Signals),
		Event:   rec.Event,
		Trigger: rec.Trigger,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Msg("mqtt: marshal failed")
		return
	}

	token := s.client.Publish(s.topic, 0, false, data)
	go func() {
		if !token.WaitTimeout(2 * time.Second) {
			s.log.Warn().Str("topic", s.topic).Msg("mqtt: publish timed out")
			return
		}
		if err := token.Error(); err != nil {
			s.log.Warn().Err(err).Str("topic", s.topic).Msg("mqtt: publish failed")
		}
	}()
}

// Close disconnects from the broker, waiting up to 250ms for in-flight work.
func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
}

func signalsToJSON(t *ingest.SignalTable) map[string]any {
	out := make(map[string]any)
	for _, name := range t.Names() {
		v, ok := t.Get(name)
		if !ok {
			continue
		}
		if v.IsNumber {
			out[name] = v.Number
		} else {
			out[name] = v.Text
		}
	}
	return out
}

type mqttTimeoutError struct{ broker string }

func (e *mqttTimeoutError) Error() string {
	return "mqtt: connect to " + e.broker + " timed out"
}
