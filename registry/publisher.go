package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Publisher mirrors registry and prompt changes to MQTT and feeds prompt
// answers and detections from MQTT back in.
//
//	<prefix>/records/<id>          retained record, empty on removal
//	<prefix>/prompts/<id>          prompt lifecycle events
//	<prefix>/prompts/<id>/resolve  {"accepted": bool}
//	<prefix>/detections            DetectionRequest
type Publisher struct {
	client  mqtt.Client
	prefix  string
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewPublisher creates a publisher. A nil client disables publishing.
func NewPublisher(client mqtt.Client, prefix string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client:  client,
		prefix:  prefix,
		timeout: 2 * time.Second,
		logger:  logger.Named("publisher"),
	}
}

// recordMessage is the retained payload of a record topic.
type recordMessage struct {
	Event  string `json:"event"`
	Record Record `json:"record"`
	Color  string `json:"color"`
}

// OnRecord publishes a registry notification. It matches Listener and never
// blocks the engine: broker acknowledgements are awaited in the background.
func (p *Publisher) OnRecord(n Notification) {
	topic := fmt.Sprintf("%s/records/%s", p.prefix, n.ID)
	switch n.Kind {
	case Removed, Orphaned:
		p.publish(topic, 1, true, []byte{})
	default:
		c := n.Record.Color()
		payload, err := json.Marshal(recordMessage{
			Event:  n.Kind.String(),
			Record: n.Record,
			Color:  fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B),
		})
		if err != nil {
			p.logger.Error("marshaling record", zap.String("id", string(n.ID)), zap.Error(err))
			return
		}
		p.publish(topic, 1, true, payload)
	}
}

type promptMessage struct {
	PromptEvent
	Question string `json:"question"`
}

// OnPrompt publishes a prompt lifecycle event.
func (p *Publisher) OnPrompt(ev PromptEvent) {
	payload, err := json.Marshal(promptMessage{PromptEvent: ev, Question: ev.Prompt.Question()})
	if err != nil {
		p.logger.Error("marshaling prompt", zap.String("id", ev.Prompt.ID), zap.Error(err))
		return
	}
	p.publish(fmt.Sprintf("%s/prompts/%s", p.prefix, ev.Prompt.ID), 1, false, payload)
}

func (p *Publisher) publish(topic string, qos byte, retain bool, payload []byte) {
	if p.client == nil || !p.client.IsConnected() {
		p.logger.Debug("not connected, dropping message", zap.String("topic", topic))
		return
	}
	token := p.client.Publish(topic, qos, retain, payload)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := waitToken(context.Background(), token, p.timeout); err != nil {
			p.logger.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
			return
		}
		p.logger.Debug("published", zap.String("topic", topic), zap.Int("bytes", len(payload)))
	}()
}

// Flush waits for outstanding publishes to be acknowledged or time out.
func (p *Publisher) Flush() {
	p.wg.Wait()
}

type resolveMessage struct {
	Accepted *bool `json:"accepted"`
}

// ResolutionSubscriber returns a Subscriber routing prompt answers to board.
func (p *Publisher) ResolutionSubscriber(board *PromptBoard) Subscriber {
	return func(client mqtt.Client) error {
		return subscribe(client, p.prefix+"/prompts/+/resolve", 1, func(_ mqtt.Client, msg mqtt.Message) {
			id := topicSegment(msg.Topic(), -2)
			var m resolveMessage
			if err := json.Unmarshal(msg.Payload(), &m); err != nil || m.Accepted == nil {
				p.logger.Warn("malformed prompt resolution", zap.String("topic", msg.Topic()))
				return
			}
			// Unknown ids are logged by the board.
			_ = board.Resolve(id, *m.Accepted)
		})
	}
}

// DetectionSubscriber returns a Subscriber handing decoded detection requests
// to handle. handle runs on the MQTT delivery goroutine and should not block.
func (p *Publisher) DetectionSubscriber(handle func(DetectionRequest)) Subscriber {
	return func(client mqtt.Client) error {
		return subscribe(client, p.prefix+"/detections", 1, func(_ mqtt.Client, msg mqtt.Message) {
			var req DetectionRequest
			if err := json.Unmarshal(msg.Payload(), &req); err != nil {
				p.logger.Warn("malformed detection", zap.String("topic", msg.Topic()), zap.Error(err))
				return
			}
			handle(req)
		})
	}
}
