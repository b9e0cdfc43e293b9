package broadcast

import (
	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/model"
)

// Sink is a named observer.
type Sink struct {
	Name string
	model.Broadcaster
}

// Fanout delivers every event to each sink in order. A panicking sink is
// logged and skipped.
type Fanout struct {
	sinks []Sink
}

// NewFanout creates a fanout over the given sinks. Nil broadcasters are ignored.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s.Broadcaster != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Add appends a sink.
func (f *Fanout) Add(name string, b model.Broadcaster) {
	if b != nil {
		f.sinks = append(f.sinks, Sink{Name: name, Broadcaster: b})
	}
}

// Len returns the number of sinks.
func (f *Fanout) Len() int {
	return len(f.sinks)
}

func (f *Fanout) Broadcast(kind model.EventKind, payload interface{}) {
	for _, s := range f.sinks {
		f.deliver(s, kind, payload)
	}
}

func (f *Fanout) deliver(s Sink, kind model.EventKind, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Str("sink", s.Name).Str("kind", string(kind)).Msg("broadcast sink panicked")
		}
	}()
	s.Broadcast(kind, payload)
	metrics.Broadcasts.WithLabelValues(s.Name, string(kind)).Inc()
}
