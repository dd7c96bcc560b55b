package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/akinalp/convo/models"
)

// memberships is a ParticipantChecker backed by a set of (conversation, user).
type memberships struct {
	mu  sync.Mutex
	set map[[2]int64]bool
	err error
}

func newMemberships(pairs ...[2]int64) *memberships {
	m := &memberships{set: make(map[[2]int64]bool)}
	for _, p := range pairs {
		m.set[p] = true
	}
	return m
}

func (m *memberships) IsParticipant(_ context.Context, conversationID, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	return m.set[[2]int64{conversationID, userID}], nil
}

func (m *memberships) remove(conversationID, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.set, [2]int64{conversationID, userID})
}

// fakeSink records written frames on a channel.
type fakeSink struct {
	frames   chan []byte
	writeErr error

	mu     sync.Mutex
	closed int
}

func newFakeSink() *fakeSink {
	return &fakeSink{frames: make(chan []byte, 1024)}
}

func (f *fakeSink) WriteFrame(data []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.frames <- data
	return nil
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeSink) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSink) next(t *testing.T) Frame {
	t.Helper()
	select {
	case data := <-f.frames:
		var fr Frame
		if err := json.Unmarshal(data, &fr); err != nil {
			t.Fatalf("bad frame %q: %v", data, err)
		}
		return fr
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
	}
	return Frame{}
}

func (f *fakeSink) expectNone(t *testing.T) {
	t.Helper()
	select {
	case data := <-f.frames:
		t.Fatalf("unexpected frame %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestRegistry(authz ParticipantChecker, queueSize int) *Registry {
	return NewRegistry(authz, queueSize, nil, zerolog.Nop())
}

// attachIdle registers an open session without starting its delivery
// goroutine, so queued events stay put.
func attachIdle(r *Registry, userID int64, sink Sink) *Session {
	s := newSession(r, userID, sink)
	s.state = StateOpen
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
	return s
}

func mustSubscribe(t *testing.T, r *Registry, s *Session, conversationID int64) {
	t.Helper()
	if err := r.Subscribe(context.Background(), s.ID(), conversationID); err != nil {
		t.Fatalf("Subscribe(%d): %v", conversationID, err)
	}
}

func waitClosed(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session %s not closed", s.ID())
	}
}

func textMessage(id, conversationID int64, content string) models.MessagePayload {
	sender := int64(1)
	return models.NewMessagePayload(&models.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       &sender,
		Type:           models.MessageText,
		Content:        content,
		CreatedAt:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}, &models.User{ID: 1, Name: "alice", AvatarURL: "a.png"}, nil)
}

func decodeMessage(t *testing.T, fr Frame) models.MessagePayload {
	t.Helper()
	var p models.MessagePayload
	if err := json.Unmarshal(fr.Payload, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return p
}

var errBoom = errors.New("boom")
