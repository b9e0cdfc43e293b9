package model

// Notifier defines a generic interface for sending notifications.
type Notifier interface {
	Send(subject, body string) error
}

// EventKind names a message on the push channel.
type EventKind string

const (
	EventNewThreat   EventKind = "new-threat"
	EventIPBlocked   EventKind = "ip-blocked"
	EventIPUnblocked EventKind = "ip-unblocked"
)

// Envelope is the wire form of a push-channel message.
type Envelope struct {
	Type EventKind   `json:"type"`
	Data interface{} `json:"data"`
}

// UnblockedPayload is the payload of an ip-unblocked message.
type UnblockedPayload struct {
	IPAddress string `json:"ipAddress"`
}

// Broadcaster delivers push-channel messages to observers. Implementations must not block the caller.
type Broadcaster interface {
	Broadcast(kind EventKind, payload interface{})
}
