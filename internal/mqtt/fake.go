package mqtt

import (
	"github.com/sweeney/espresso-pid/internal/logic"
)

// PublishedEvent is a transition event as recorded by FakePublisher.
type PublishedEvent struct {
	Event  logic.Event
	ShotID string
}

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	// Events contains all transition events that were published.
	Events []PublishedEvent

	// Payloads contains the JSON payloads of the transition events.
	Payloads [][]byte

	// Telemetry contains all telemetry records that were published.
	Telemetry []Telemetry

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by PublishEvent and
	// PublishTelemetry.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishEvent records the transition event.
func (f *FakePublisher) PublishEvent(event logic.Event, shotID string) error {
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatEventPayload(event, shotID)
	if err != nil {
		return err
	}
	f.Events = append(f.Events, PublishedEvent{Event: event, ShotID: shotID})
	f.Payloads = append(f.Payloads, payload)

	return nil
}

// PublishTelemetry records the telemetry record.
func (f *FakePublisher) PublishTelemetry(t Telemetry) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Telemetry = append(f.Telemetry, t)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// EventTypes returns the types of the recorded transition events in order.
func (f *FakePublisher) EventTypes() []logic.EventType {
	types := make([]logic.EventType, len(f.Events))
	for i, e := range f.Events {
		types[i] = e.Event.Type
	}
	return types
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.Events = nil
	f.Payloads = nil
	f.Telemetry = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
