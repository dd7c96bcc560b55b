package ws

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ParticipantChecker answers whether a user belongs to a conversation.
// Storage is the source of truth; implementations may cache.
type ParticipantChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
}

type room struct {
	id      int64
	mu      sync.Mutex
	members map[string]*Session
	// deleted is set when the last member leaves; a deleted room is never
	// reused and callers holding a stale pointer look it up again.
	deleted bool
}

// Registry maps conversation ids to the sessions subscribed to them.
//
// Lock order is room.mu → Session.mu → Registry.mu. Registry.mu is never
// held while acquiring a room lock. A session is in room.members exactly when
// the room is in session.rooms; both sides change under the room lock.
type Registry struct {
	authz     ParticipantChecker
	log       zerolog.Logger
	metrics   *Metrics
	queueSize int

	mu       sync.Mutex
	rooms    map[int64]*room
	sessions map[string]*Session
	// revision increments on every RevokeUser so an in-flight Subscribe
	// whose authorization predates the revocation re-checks it.
	revision uint64
}

// NewRegistry returns an empty registry. queueSize bounds every session's
// outbound queue. metrics may be nil.
func NewRegistry(authz ParticipantChecker, queueSize int, metrics *Metrics, log zerolog.Logger) *Registry {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Registry{
		authz:     authz,
		log:       log,
		metrics:   metrics,
		queueSize: queueSize,
		rooms:     make(map[int64]*room),
		sessions:  make(map[string]*Session),
	}
}

// Attach registers a new session for userID on top of sink and starts its
// delivery goroutine.
func (r *Registry) Attach(userID int64, sink Sink) *Session {
	s := newSession(r, userID, sink)

	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()

	r.metrics.sessionOpened()
	s.start()

	s.log.Debug().Msg("session attached")
	return s
}

// Session looks up a live session by id.
func (r *Registry) Session(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Subscribe adds the session to the conversation's room, creating the room if
// needed. The user must be a participant; otherwise ErrUnauthorized is
// returned and nothing changes. Subscribing twice is a no-op.
func (r *Registry) Subscribe(ctx context.Context, sessionID string, conversationID int64) error {
	s, ok := r.Session(sessionID)
	if !ok {
		return ErrUnknownSession
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		state, already := s.state, s.rooms[conversationID] != nil
		s.mu.Unlock()
		if state >= StateClosing {
			return ErrSessionClosed
		}
		if already {
			return nil
		}

		rev := r.currentRevision()

		allowed, err := r.authz.IsParticipant(ctx, conversationID, s.userID)
		if err != nil {
			return fmt.Errorf("check participant: %w", err)
		}
		if !allowed {
			s.log.Debug().Int64("conversation_id", conversationID).Msg("subscribe denied")
			return ErrUnauthorized
		}

		rm := r.lockRoom(conversationID)

		if r.currentRevision() != rev {
			r.releaseIfEmpty(rm)
			rm.mu.Unlock()
			continue
		}

		s.mu.Lock()
		if s.state >= StateClosing {
			s.mu.Unlock()
			r.releaseIfEmpty(rm)
			rm.mu.Unlock()
			return ErrSessionClosed
		}
		rm.members[s.id] = s
		s.rooms[conversationID] = rm
		s.mu.Unlock()
		rm.mu.Unlock()

		s.log.Debug().Int64("conversation_id", conversationID).Msg("subscribed")
		return nil
	}
}

// Unsubscribe removes the session from one room. Unsubscribing from a room
// the session is not in is a no-op.
func (r *Registry) Unsubscribe(sessionID string, conversationID int64) error {
	s, ok := r.Session(sessionID)
	if !ok {
		return ErrUnknownSession
	}
	if r.removeMember(s, conversationID) {
		s.log.Debug().Int64("conversation_id", conversationID).Msg("unsubscribed")
	}
	return nil
}

// UnsubscribeAll removes the session from every room it is in.
func (r *Registry) UnsubscribeAll(sessionID string) error {
	s, ok := r.Session(sessionID)
	if !ok {
		return ErrUnknownSession
	}
	r.unsubscribeAll(s)
	return nil
}

// MembersOf returns the ids of the sessions subscribed to a conversation.
func (r *Registry) MembersOf(conversationID int64) []string {
	var ids []string
	r.withRoom(conversationID, func(rm *room) {
		ids = make([]string, 0, len(rm.members))
		for id := range rm.members {
			ids = append(ids, id)
		}
	})
	return ids
}

// RevokeUser drops every session of userID from the conversation's room and
// tells each one with a "left" frame. Services call it after the user has
// left the conversation in storage.
func (r *Registry) RevokeUser(conversationID, userID int64) int {
	r.mu.Lock()
	r.revision++
	rm := r.rooms[conversationID]
	r.mu.Unlock()

	if rm == nil {
		return 0
	}

	var revoked []*Session
	rm.mu.Lock()
	if !rm.deleted {
		for id, s := range rm.members {
			if s.userID != userID {
				continue
			}
			delete(rm.members, id)
			s.mu.Lock()
			delete(s.rooms, conversationID)
			s.mu.Unlock()
			revoked = append(revoked, s)
		}
		r.releaseIfEmpty(rm)
	}
	rm.mu.Unlock()

	for _, s := range revoked {
		_ = s.SendControl(FrameLeft, conversationID, map[string]string{"reason": "removed"})
	}
	if len(revoked) > 0 {
		r.log.Debug().
			Int64("conversation_id", conversationID).
			Int64("user_id", userID).
			Int("sessions", len(revoked)).
			Msg("revoked subscriptions")
	}
	return len(revoked)
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// SessionCount returns the number of attached sessions.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every attached session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

// forEachMember calls fn for every member of the room while holding the room
// lock, so concurrent publishes to one room are serialized. fn must not block.
func (r *Registry) forEachMember(conversationID int64, fn func(*Session)) int {
	n := 0
	r.withRoom(conversationID, func(rm *room) {
		for _, s := range rm.members {
			fn(s)
		}
		n = len(rm.members)
	})
	return n
}

// withRoom runs fn under the lock of the live room for conversationID, if any.
func (r *Registry) withRoom(conversationID int64, fn func(*room)) {
	for {
		r.mu.Lock()
		rm := r.rooms[conversationID]
		r.mu.Unlock()

		if rm == nil {
			return
		}

		rm.mu.Lock()
		if rm.deleted {
			rm.mu.Unlock()
			continue
		}
		fn(rm)
		rm.mu.Unlock()
		return
	}
}

// lockRoom returns the live room for conversationID, creating it if needed,
// with its lock held.
func (r *Registry) lockRoom(conversationID int64) *room {
	for {
		r.mu.Lock()
		rm, ok := r.rooms[conversationID]
		if !ok {
			rm = &room{id: conversationID, members: make(map[string]*Session)}
			r.rooms[conversationID] = rm
			r.metrics.roomCreated()
		}
		r.mu.Unlock()

		rm.mu.Lock()
		if !rm.deleted {
			return rm
		}
		rm.mu.Unlock()
	}
}

// releaseIfEmpty deletes an empty room. Caller holds rm.mu.
func (r *Registry) releaseIfEmpty(rm *room) {
	if len(rm.members) > 0 || rm.deleted {
		return
	}
	rm.deleted = true

	r.mu.Lock()
	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
		r.metrics.roomDeleted()
	}
	r.mu.Unlock()
}

// removeMember takes s out of one room, reporting whether it was a member.
func (r *Registry) removeMember(s *Session, conversationID int64) bool {
	for {
		s.mu.Lock()
		rm := s.rooms[conversationID]
		s.mu.Unlock()

		if rm == nil {
			return false
		}

		rm.mu.Lock()
		s.mu.Lock()
		if s.rooms[conversationID] != rm {
			// replaced between the two locks; look again
			s.mu.Unlock()
			rm.mu.Unlock()
			continue
		}
		delete(s.rooms, conversationID)
		s.mu.Unlock()

		delete(rm.members, s.id)
		r.releaseIfEmpty(rm)
		rm.mu.Unlock()
		return true
	}
}

func (r *Registry) unsubscribeAll(s *Session) {
	for _, id := range s.Subscriptions() {
		r.removeMember(s, id)
	}
}

// detach removes a closing session from every room and from the session
// table. The session's state is already Closing, so no subscribe can race in.
func (r *Registry) detach(s *Session) {
	r.unsubscribeAll(s)

	r.mu.Lock()
	if r.sessions[s.id] == s {
		delete(r.sessions, s.id)
		r.metrics.sessionClosed()
	}
	r.mu.Unlock()
}

func (r *Registry) currentRevision() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revision
}
