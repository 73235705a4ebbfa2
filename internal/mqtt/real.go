package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/sweeney/espresso-pid/internal/logic"
)

// bufferCapacity is how many events are kept while the broker is away.
const bufferCapacity = 256

// RealPublisher publishes to an actual MQTT broker and forwards parameter
// updates received on TopicSetFilter.
type RealPublisher struct {
	client  paho.Client
	buf     *ringBuffer
	updates chan<- ParamUpdate
}

// NewRealPublisher creates a publisher connected to the given broker.
// Parameter updates are sent to updates without blocking; a full channel
// drops the update with a warning. updates may be nil.
func NewRealPublisher(broker, clientID string, updates chan<- ParamUpdate) (*RealPublisher, error) {
	p := &RealPublisher{
		buf:     newRingBuffer(bufferCapacity),
		updates: updates,
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warnf("MQTT connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		// ConnectRetry keeps trying; events are buffered until then.
		log.Warnf("MQTT broker %s not reachable yet, retrying in background", broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// onConnect runs on every (re)connection: subscribe to parameter topics and
// replay anything buffered while offline.
func (p *RealPublisher) onConnect(c paho.Client) {
	log.Infof("MQTT connected")

	if p.updates != nil {
		token := c.Subscribe(TopicSetFilter, 1, p.onParam)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Errorf("Subscribe %s: %v", TopicSetFilter, token.Error())
		}
	}

	msgs, dropped := p.buf.drainAll()
	if dropped > 0 {
		log.Warnf("MQTT: %d buffered messages were dropped while offline", dropped)
	}
	for _, m := range msgs {
		c.Publish(m.topic, m.qos, m.retained, m.payload)
	}
	if len(msgs) > 0 {
		log.Infof("MQTT: replayed %d buffered messages", len(msgs))
	}
}

func (p *RealPublisher) onParam(_ paho.Client, msg paho.Message) {
	update, err := ParseParam(msg.Topic(), msg.Payload())
	if err != nil {
		log.Warnf("Ignoring parameter message: %v", err)
		return
	}
	select {
	case p.updates <- update:
	default:
		log.Warnf("Parameter queue full, dropping %s=%v", update.Name, update.Value)
	}
}

// publish hands the message to paho when connected and buffers it
// otherwise. Buffered messages are replayed by onConnect. It never waits for
// delivery, so the control loop is not held up by a slow broker.
func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		p.buf.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		return nil
	}
	watch(topic, p.client.Publish(topic, qos, retained, payload))
	return nil
}

// watch logs a failed or stalled delivery in the background.
func watch(topic string, token paho.Token) {
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			log.Warnf("MQTT publish to %s timed out", topic)
			return
		}
		if err := token.Error(); err != nil {
			log.Warnf("MQTT publish to %s: %v", topic, err)
		}
	}()
}

// PublishEvent sends a transition event to the MQTT broker.
func (p *RealPublisher) PublishEvent(event logic.Event, shotID string) error {
	payload, err := FormatEventPayload(event, shotID)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.publish(TopicEvents, 1, false, payload)
}

// PublishTelemetry sends a telemetry record. Records are dropped while
// disconnected.
func (p *RealPublisher) PublishTelemetry(t Telemetry) error {
	if !p.client.IsConnectionOpen() {
		return nil
	}
	payload, err := FormatTelemetryPayload(t)
	if err != nil {
		return fmt.Errorf("format telemetry: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	watch(TopicTelemetry, p.client.Publish(TopicTelemetry, 0, false, payload))
	return nil
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events - we want to ensure delivery
	return p.publish(TopicSystem, 1, event.Retained, payload)
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
