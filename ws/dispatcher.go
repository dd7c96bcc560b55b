package ws

import (
	"github.com/rs/zerolog"
)

// Publisher fans an event out to the sessions viewing its conversation and
// returns how many accepted it. Dispatcher is the in-process implementation;
// a relay spanning several server instances would implement it too.
type Publisher interface {
	Publish(ev Event) int
}

// Dispatcher publishes events to the local Registry.
//
// It holds no state of its own: ordering comes from the room lock taken by
// forEachMember, and slow sessions are handled by Session.enqueue.
type Dispatcher struct {
	registry *Registry
	metrics  *Metrics // may be nil
	log      zerolog.Logger
}

// NewDispatcher returns a Dispatcher over registry. metrics may be nil.
func NewDispatcher(registry *Registry, metrics *Metrics, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, metrics: metrics, log: log}
}

// Publish encodes ev once and queues the bytes on every member session. It
// never waits on network I/O. A session that cannot take the event is closed
// by its own enqueue and does not affect the others. Publishes to the same
// conversation are serialized, so every session sees them in call order.
func (d *Dispatcher) Publish(ev Event) int {
	data, err := ev.Encode()
	if err != nil {
		d.log.Error().Err(err).
			Str("type", string(ev.Type)).
			Int64("conversation_id", ev.ConversationID).
			Msg("failed to encode event")
		return 0
	}

	o := outbound{
		kind:           ev.Type,
		conversationID: ev.ConversationID,
		messageID:      ev.MessageID,
		data:           data,
	}

	accepted, failed := 0, 0
	d.registry.forEachMember(ev.ConversationID, func(s *Session) {
		if err := s.enqueue(o); err != nil {
			failed++
			return
		}
		accepted++
	})

	d.metrics.eventPublished(ev.Type)

	e := d.log.Debug()
	if failed > 0 {
		e = d.log.Warn()
	}
	e.Str("type", string(ev.Type)).
		Int64("conversation_id", ev.ConversationID).
		Int("accepted", accepted).
		Int("failed", failed).
		Msg("published")

	return accepted
}
