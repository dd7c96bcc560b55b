// Package client is the consuming side of the conversation socket: a per-room
// reconciliation state machine that merges pushed events with authoritative
// fetches, and a reconnecting client that drives it.
package client

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/akinalp/convo/models"
)

var (
	// ErrStaleDuplicate marks an event whose message is already held locally.
	// It is reported through Outcome.Err, never returned as a failure.
	ErrStaleDuplicate = errors.New("stale duplicate")

	// ErrJoinRejected wraps the server's error frame for a refused join.
	ErrJoinRejected = errors.New("join rejected")
)

// State is a room's subscription state on the client.
type State int

const (
	Disconnected State = iota
	Unsubscribed       // connected, join not yet acknowledged
	Subscribed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Unsubscribed:
		return "connected-unsubscribed"
	case Subscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

// Outcome reports what applying an event did to local state.
type Outcome int

const (
	Applied Outcome = iota
	StaleDuplicate
	Discarded // no local message to update
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case StaleDuplicate:
		return "stale-duplicate"
	case Discarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Err returns ErrStaleDuplicate for StaleDuplicate and nil otherwise.
func (o Outcome) Err() error {
	if o == StaleDuplicate {
		return ErrStaleDuplicate
	}
	return nil
}

// Pending is an optimistic send not yet confirmed by its persisted id.
type Pending struct {
	LocalID     string
	Type        models.MessageType
	Content     string
	SubmittedAt time.Time
}

// FetchMark is taken when a fetch starts and handed back with its snapshot.
// It records which pushes the snapshot may predate and whether the room was
// subscribed for the whole fetch.
type FetchMark struct {
	seq        uint64
	epoch      uint64
	subscribed bool
}

// pushed is a message event applied while a fetch was in flight.
type pushed struct {
	seq uint64
	msg models.MessagePayload
}

// Room is the client's view of one conversation. Persisted messages are kept
// sorted by id and unique by id; optimistic sends live beside them until the
// send response or the matching broadcast arrives. Safe for concurrent use.
//
// Every applied push takes the next seq. While fetches are in flight the
// pushes are also remembered in recent, so a snapshot read before them does
// not roll them back. epoch changes whenever the subscription is lost; a fetch
// only settles the room if it ran entirely inside one subscription.
type Room struct {
	conversationID int64
	selfID         int64
	now            func() time.Time

	mu           sync.Mutex
	state        State
	needsRefetch bool
	messages     []models.MessagePayload
	participants []models.Participant
	pending      []Pending

	seq       uint64
	epoch     uint64
	rosterSeq uint64
	inflight  int
	recent    map[int64]pushed

	joinErr  error
	fetchErr error
	notify   chan struct{}
}

// NewRoom returns an empty room for selfID's view of conversationID. It
// starts Disconnected and needing a fetch.
func NewRoom(conversationID, selfID int64) *Room {
	return &Room{
		conversationID: conversationID,
		selfID:         selfID,
		now:            time.Now,
		needsRefetch:   true,
		recent:         make(map[int64]pushed),
		notify:         make(chan struct{}),
	}
}

func (r *Room) ConversationID() int64 { return r.conversationID }

func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// MarkConnected moves a disconnected room to Unsubscribed.
func (r *Room) MarkConnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Disconnected {
		r.state = Unsubscribed
	}
	r.joinErr = nil
}

// MarkSubscribed records the server's join acknowledgement. A fetch that
// started before it cannot clear NeedsRefetch, since events published
// between its read and the join are lost to it.
func (r *Room) MarkSubscribed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Subscribed
	r.joinErr = nil
	r.broadcast()
}

// MarkUnsubscribed records a leave, or a server-side removal. Events stop
// arriving, so the next subscription must be paired with a fetch.
func (r *Room) MarkUnsubscribed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribe()
}

// MarkRejected records a refused join.
func (r *Room) MarkRejected(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribe()
	r.joinErr = err
	r.broadcast()
}

// MarkDisconnected records a lost connection. Anything published from now
// until the next fetch is missed.
func (r *Room) MarkDisconnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Disconnected
	r.needsRefetch = true
	r.epoch++
	r.broadcast()
}

func (r *Room) unsubscribe() {
	if r.state == Subscribed {
		r.needsRefetch = true
		r.epoch++
	}
	if r.state != Disconnected {
		r.state = Unsubscribed
	}
	r.broadcast()
}

// NeedsRefetch reports whether events may have been missed since the last
// authoritative fetch.
func (r *Room) NeedsRefetch() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.needsRefetch
}

// BeginFetch marks the start of an authoritative fetch. Pass the mark to
// Complete together with the snapshot.
func (r *Room) BeginFetch() FetchMark {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight++
	r.fetchErr = nil
	return FetchMark{seq: r.seq, epoch: r.epoch, subscribed: r.state == Subscribed}
}

// Complete installs a snapshot fetched since mark. Pushes applied after the
// mark win over the snapshot for the messages they touch and for the roster,
// and pushed messages newer than the snapshot's newest id are kept.
// NeedsRefetch clears only when the room stayed subscribed for the whole
// fetch.
func (r *Room) Complete(mark FetchMark, snapshot *models.RoomData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endFetch()

	var maxID int64
	inSnapshot := make(map[int64]struct{}, len(snapshot.Messages))
	merged := make([]models.MessagePayload, 0, len(snapshot.Messages)+len(r.messages))
	for _, m := range snapshot.Messages {
		maxID = max(maxID, m.ID)
		inSnapshot[m.ID] = struct{}{}
		if p, ok := r.recent[m.ID]; ok && p.seq > mark.seq {
			m = p.msg
		}
		merged = append(merged, m)
	}
	for _, m := range r.messages {
		if _, ok := inSnapshot[m.ID]; ok {
			continue
		}
		if p, ok := r.recent[m.ID]; m.ID > maxID || (ok && p.seq > mark.seq) {
			merged = append(merged, m)
		}
	}
	slices.SortFunc(merged, func(a, b models.MessagePayload) int { return cmp.Compare(a.ID, b.ID) })

	// only messages we had not seen can persist a pending send
	for _, m := range snapshot.Messages {
		if _, held := r.search(m.ID); !held {
			r.adoptPending(m)
		}
	}

	r.messages = merged
	if r.rosterSeq <= mark.seq {
		r.participants = slices.Clone(snapshot.Participants)
	}
	if mark.subscribed && mark.epoch == r.epoch && r.state == Subscribed {
		r.needsRefetch = false
	}
	if r.inflight == 0 {
		clear(r.recent)
	}
	r.broadcast()
}

// FailFetch ends a fetch that returned no snapshot.
func (r *Room) FailFetch(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endFetch()
	r.fetchErr = err
	if r.inflight == 0 {
		clear(r.recent)
	}
	r.broadcast()
}

// Reset installs a snapshot fetched with no pushes racing it.
func (r *Room) Reset(snapshot *models.RoomData) {
	r.Complete(r.BeginFetch(), snapshot)
}

// awaitSynced blocks until the room is subscribed with a fetch that covers the
// subscription, the join is rejected, a fetch fails, or the connection drops.
func (r *Room) awaitSynced(ctx context.Context) error {
	for {
		r.mu.Lock()
		switch {
		case r.joinErr != nil:
			err := r.joinErr
			r.mu.Unlock()
			return err
		case r.state == Disconnected, r.state == Subscribed && !r.needsRefetch:
			r.mu.Unlock()
			return nil
		case r.fetchErr != nil && r.inflight == 0:
			err := r.fetchErr
			r.mu.Unlock()
			return err
		}
		ch := r.notify
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// ApplyNewMessage appends msg unless a message with its id is already held.
// Applying the same event twice leaves the same state as applying it once.
func (r *Room) ApplyNewMessage(msg models.MessagePayload) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insert(msg) == StaleDuplicate {
		return StaleDuplicate
	}
	r.adoptPending(msg)
	return Applied
}

// ApplyMessageUpdated replaces the message with msg's id wholesale; its
// reactions are the complete set. Updates for unknown messages are dropped.
func (r *Room) ApplyMessageUpdated(msg models.MessagePayload) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, found := r.search(msg.ID)
	if !found {
		// an in-flight snapshot may still bring this message in
		r.record(msg)
		return Discarded
	}
	r.messages[i] = msg
	r.record(msg)
	return Applied
}

// ApplyParticipants replaces the roster.
func (r *Room) ApplyParticipants(participants []models.Participant) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants = slices.Clone(participants)
	r.seq++
	r.rosterSeq = r.seq
	return Applied
}

// AddOptimistic records a send that is displayed before it is persisted.
func (r *Room) AddOptimistic(localID string, typ models.MessageType, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, Pending{
		LocalID:     localID,
		Type:        typ,
		Content:     content,
		SubmittedAt: r.now(),
	})
}

// ConfirmSent resolves an optimistic send with the persisted message from the
// send response. This converges regardless of whether the broadcast for the
// same id arrived earlier, arrives later, or never arrives. Other pending
// sends with the same content stay pending.
func (r *Room) ConfirmSent(localID string, persisted models.MessagePayload) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropPending(localID)
	return r.insert(persisted)
}

// FailSent drops an optimistic send whose request failed.
func (r *Room) FailSent(localID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropPending(localID)
}

// Stale lists optimistic sends submitted more than window ago and still
// unconfirmed; callers re-fetch the room to settle them.
func (r *Room) Stale(window time.Duration) []Pending {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-window)
	var out []Pending
	for _, p := range r.pending {
		if p.SubmittedAt.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out
}

// Messages returns a copy of the persisted messages in id order.
func (r *Room) Messages() []models.MessagePayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.messages)
}

// Pending returns a copy of the unconfirmed optimistic sends in submit order.
func (r *Room) Pending() []Pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.pending)
}

func (r *Room) Participants() []models.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.participants)
}

func (r *Room) search(id int64) (int, bool) {
	return slices.BinarySearchFunc(r.messages, id, func(m models.MessagePayload, id int64) int {
		return cmp.Compare(m.ID, id)
	})
}

// insert places msg in id order. Caller holds r.mu.
func (r *Room) insert(msg models.MessagePayload) Outcome {
	i, found := r.search(msg.ID)
	if found {
		return StaleDuplicate
	}
	r.messages = slices.Insert(r.messages, i, msg)
	r.record(msg)
	return Applied
}

// record stamps a message push with the next seq. Caller holds r.mu.
func (r *Room) record(msg models.MessagePayload) {
	r.seq++
	if r.inflight > 0 {
		r.recent[msg.ID] = pushed{seq: r.seq, msg: msg}
	}
}

func (r *Room) endFetch() {
	if r.inflight > 0 {
		r.inflight--
	}
}

// broadcast wakes awaitSynced. Caller holds r.mu.
func (r *Room) broadcast() {
	close(r.notify)
	r.notify = make(chan struct{})
}

// adoptPending retires the oldest optimistic send that msg persists, so our
// own broadcast arriving before the send response is not shown twice.
// Caller holds r.mu.
func (r *Room) adoptPending(msg models.MessagePayload) {
	if msg.SenderID == nil || *msg.SenderID != r.selfID {
		return
	}
	i := slices.IndexFunc(r.pending, func(p Pending) bool {
		return p.Type == msg.Type && p.Content == msg.Content
	})
	if i >= 0 {
		r.pending = slices.Delete(r.pending, i, i+1)
	}
}

func (r *Room) dropPending(localID string) {
	r.pending = slices.DeleteFunc(r.pending, func(p Pending) bool { return p.LocalID == localID })
}
