package lifecycle

import "time"

// State is a subscriber lifecycle state.
type State string

const (
	StateCreated           State = "created"
	StateRegisteringGroups State = "registering_groups"
	StateRunning           State = "running"
	StateStopped           State = "stopped"
)

// Event is implemented by every lifecycle event.
type Event interface {
	SubscriberKey() string
}

// SubscriberStateChanged is emitted on every subscriber state transition.
type SubscriberStateChanged struct {
	Group    string
	Consumer string
	Streams  []string
	From     State
	To       State
	// Err is set when the transition was caused by a failure.
	Err error
	At  time.Time
}

func (e SubscriberStateChanged) SubscriberKey() string { return e.Group + "/" + e.Consumer }

// MessageDeadLettered is emitted when the redelivery sweep gives up on a message.
type MessageDeadLettered struct {
	Group      string
	Consumer   string
	Stream     string
	MessageID  string
	Deliveries int64
	At         time.Time
}

func (e MessageDeadLettered) SubscriberKey() string { return e.Group + "/" + e.Consumer }
