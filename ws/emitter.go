package ws

import (
	"github.com/rs/zerolog"
)

// Emitter is the hand-off from the write path to the broadcast layer.
// Services call EmitAfterCommit only once the write is durable; nothing here
// can fail or undo that write.
type Emitter struct {
	pub Publisher
	log zerolog.Logger
}

// NewEmitter returns an emitter over pub. A nil pub means broadcast is
// disabled: every emit is logged as ErrTransportUnavailable and dropped.
func NewEmitter(pub Publisher, log zerolog.Logger) *Emitter {
	return &Emitter{pub: pub, log: log}
}

// EmitAfterCommit passes ev unmodified to the publisher.
func (e *Emitter) EmitAfterCommit(ev Event) {
	if e == nil {
		return
	}
	if e.pub == nil {
		e.log.Warn().
			Err(ErrTransportUnavailable).
			Str("type", string(ev.Type)).
			Int64("conversation_id", ev.ConversationID).
			Msg("event not broadcast")
		return
	}

	defer func() {
		if p := recover(); p != nil {
			e.log.Error().
				Interface("panic", p).
				Str("type", string(ev.Type)).
				Int64("conversation_id", ev.ConversationID).
				Msg("publish panicked")
		}
	}()

	e.pub.Publish(ev)
}
