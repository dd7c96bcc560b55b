// Package ws is the real-time fan-out layer.
//
//   - Registry: conversation id → sessions currently viewing it
//   - Session: one per live socket, owns a bounded outbound queue
//   - Dispatcher: pushes one encoded event to every session in a room
//   - Emitter: what services call once a write has committed
//   - Conn/Handler: the gorilla/websocket transport and upgrade endpoint
//
// Flow of a message:
//  1. POST /api/messages → service → commit
//  2. service calls Emitter.EmitAfterCommit(NewMessageEvent(...))
//  3. Dispatcher encodes once and enqueues on each member session
//  4. each session's delivery goroutine writes the frame to its socket
package ws

import (
	"encoding/json"

	"github.com/akinalp/convo/models"
)

// EventType is the "type" of a pushed frame.
type EventType string

// Broadcast events. Each one belongs to exactly one conversation.
const (
	EventNewMessage          EventType = "new-message"
	EventMessageUpdated      EventType = "message-updated"
	EventParticipantsUpdated EventType = "participants-updated"
)

// Client → server control frames.
const (
	FrameJoin  = "join"
	FrameLeave = "leave"
	FramePing  = "ping"
)

// Server → client control frames.
const (
	FrameJoined = "joined"
	FrameLeft   = "left"
	FrameError  = "error"
	FramePong   = "pong"
)

// Event is a broadcast event. Events are immutable once built: the dispatcher
// shares one encoding between every recipient.
type Event struct {
	Type           EventType
	ConversationID int64
	// MessageID is set for message events and is the store-assigned id.
	MessageID int64
	Payload   any
}

// Frame is the wire envelope for everything sent over the socket.
type Frame struct {
	Type           string          `json:"type"`
	ConversationID int64           `json:"conversationId,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// ParticipantsPayload is the payload of a participants-updated frame.
type ParticipantsPayload struct {
	Participants []models.Participant `json:"participants"`
}

// ErrorPayload is the payload of an error frame.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewMessageEvent announces a persisted message, carrying the same payload
// the send response returns.
func NewMessageEvent(msg models.MessagePayload) Event {
	return Event{
		Type:           EventNewMessage,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Payload:        msg,
	}
}

// MessageUpdatedEvent carries the whole message, with the full reaction set
// read back from storage.
func MessageUpdatedEvent(msg models.MessagePayload) Event {
	return Event{
		Type:           EventMessageUpdated,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Payload:        msg,
	}
}

// ParticipantsUpdatedEvent carries the complete roster after a change.
func ParticipantsUpdatedEvent(conversationID int64, participants []models.Participant) Event {
	if participants == nil {
		participants = []models.Participant{}
	}
	return Event{
		Type:           EventParticipantsUpdated,
		ConversationID: conversationID,
		Payload:        ParticipantsPayload{Participants: participants},
	}
}

// Encode renders the event as a wire frame.
func (e Event) Encode() ([]byte, error) {
	return encodeFrame(string(e.Type), e.ConversationID, e.Payload)
}

func encodeFrame(frameType string, conversationID int64, payload any) ([]byte, error) {
	f := Frame{Type: frameType, ConversationID: conversationID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		f.Payload = raw
	}
	return json.Marshal(f)
}
