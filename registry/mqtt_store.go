package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kwv/anchormesh/geometry"
)

// MQTTAnchorStore talks to an anchor service over MQTT. Add and remove
// commands go out on <prefix>/anchors/<id>/add|remove at QoS 1; lifecycle
// events arrive on <prefix>/events.
type MQTTAnchorStore struct {
	client  mqtt.Client
	prefix  string
	timeout time.Duration
	queue   *eventQueue
	logger  *zap.Logger
}

// NewMQTTAnchorStore creates a store publishing through client. Call
// Subscribe (directly or from an MQTTConnection subscriber) to receive events.
func NewMQTTAnchorStore(client mqtt.Client, prefix string, logger *zap.Logger) *MQTTAnchorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTAnchorStore{
		client:  client,
		prefix:  prefix,
		timeout: 5 * time.Second,
		queue:   newEventQueue(),
		logger:  logger.Named("anchors"),
	}
}

type addCommand struct {
	Pose geometry.Pose `json:"pose"`
}

func (s *MQTTAnchorStore) NewAnchorID() AnchorID {
	return AnchorID(uuid.NewString())
}

func (s *MQTTAnchorStore) AddAnchor(ctx context.Context, id AnchorID, pose geometry.Pose) error {
	payload, err := json.Marshal(addCommand{Pose: pose})
	if err != nil {
		return fmt.Errorf("marshaling add command: %w", err)
	}
	topic := fmt.Sprintf("%s/anchors/%s/add", s.prefix, id)
	if err := waitToken(ctx, s.client.Publish(topic, 1, false, payload), s.timeout); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	s.logger.Debug("anchor add requested", zap.String("id", string(id)))
	return nil
}

func (s *MQTTAnchorStore) RemoveAnchor(ctx context.Context, id AnchorID) error {
	topic := fmt.Sprintf("%s/anchors/%s/remove", s.prefix, id)
	if err := waitToken(ctx, s.client.Publish(topic, 1, false, []byte{}), s.timeout); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	s.logger.Debug("anchor removal requested", zap.String("id", string(id)))
	return nil
}

func (s *MQTTAnchorStore) Events() <-chan AnchorEvent {
	return s.queue.out
}

// Subscribe listens for lifecycle events. It matches the Subscriber signature.
func (s *MQTTAnchorStore) Subscribe(client mqtt.Client) error {
	return subscribe(client, s.prefix+"/events", 1, s.handleEvent)
}

func (s *MQTTAnchorStore) handleEvent(_ mqtt.Client, msg mqtt.Message) {
	var ev AnchorEvent
	if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
		s.logger.Warn("malformed anchor event", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	if ev.ID == "" || ev.Type == 0 {
		s.logger.Warn("incomplete anchor event", zap.String("topic", msg.Topic()))
		return
	}
	s.queue.push(ev)
}

// Close ends the event stream.
func (s *MQTTAnchorStore) Close() {
	s.queue.close()
}
