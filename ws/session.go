package ws

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionState is the lifecycle of a Session. It only moves forward:
//
//	Connecting → Open → Closing → Closed
//
// Subscribe refuses sessions at Closing or later, and Publish skips them.
type SessionState int32

const (
	// StateConnecting: attached to the registry, delivery goroutine not yet
	// running.
	StateConnecting SessionState = iota
	// StateOpen: frames are delivered as they are queued.
	StateOpen
	// StateClosing: detaching from every room; nothing new is queued.
	StateClosing
	// StateClosed: the sink is closed and Done is closed.
	StateClosed
)

// String implements fmt.Stringer for log fields.
func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("SessionState(%d)", int32(s))
}

// Sink is the transport underneath a session. WriteFrame is only ever called
// from the session's own delivery goroutine.
type Sink interface {
	WriteFrame(data []byte) error
	Close() error
}

// controlKind marks queued control frames (joined, left, error, pong).
const controlKind EventType = "control"

// outbound is one encoded frame waiting in a session queue. kind,
// conversationID and messageID are kept beside the bytes so a full queue can
// find the frame a newer one supersedes without decoding.
type outbound struct {
	kind           EventType
	conversationID int64
	messageID      int64
	data           []byte
}

// Session is one live connection. It holds the set of conversations it is
// subscribed to and a bounded queue drained by a dedicated goroutine, so a
// slow socket never blocks the publisher.
//
// When the queue is full:
//   - participants-updated replaces the queued one for the same conversation
//   - message-updated replaces the queued one for the same message
//   - anything else closes the session with ErrSlowConsumer
//
// The client then reconnects and re-fetches. Dropping a new-message silently
// would leave a gap nothing on the client can detect.
type Session struct {
	id       string // uuid, also the log field session_id
	userID   int64
	registry *Registry
	sink     Sink
	log      zerolog.Logger
	metrics  *Metrics
	capacity int // queue bound

	// mu guards everything below. Taken after room.mu, before Registry.mu.
	mu       sync.Mutex
	state    SessionState
	queue    []outbound
	rooms    map[int64]*room // subscriptions; mirrors room.members
	closeErr error           // nil for a normal close

	// notify wakes the delivery goroutine; buffered 1 so enqueue never blocks.
	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(r *Registry, userID int64, sink Sink) *Session {
	id := uuid.NewString()
	return &Session{
		id:       id,
		userID:   userID,
		registry: r,
		sink:     sink,
		log:      r.log.With().Str("session_id", id).Int64("user_id", userID).Logger(),
		metrics:  r.metrics,
		capacity: r.queueSize,
		state:    StateConnecting,
		queue:    make([]outbound, 0, r.queueSize),
		rooms:    make(map[int64]*room),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// ID returns the session id, unique per connection.
func (s *Session) ID() string { return s.id }

// UserID returns the authenticated user behind the connection.
func (s *Session) UserID() int64 { return s.userID }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns why the session closed, or nil for a normal close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Subscriptions returns the conversations the session currently receives.
func (s *Session) Subscriptions() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids
}

func (s *Session) start() {
	s.mu.Lock()
	if s.state == StateConnecting {
		s.state = StateOpen
	}
	s.mu.Unlock()

	go s.deliver()
}

// Send encodes ev and queues it for this session only.
func (s *Session) Send(ev Event) error {
	data, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Type, err)
	}
	return s.enqueue(outbound{
		kind:           ev.Type,
		conversationID: ev.ConversationID,
		messageID:      ev.MessageID,
		data:           data,
	})
}

// SendControl queues a control frame.
func (s *Session) SendControl(frameType string, conversationID int64, payload any) error {
	data, err := encodeFrame(frameType, conversationID, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", frameType, err)
	}
	return s.enqueue(outbound{kind: controlKind, conversationID: conversationID, data: data})
}

// enqueue never blocks. On a full queue it makes room by superseding an older
// event that the new one fully replaces; if there is none the session is
// closed with ErrSlowConsumer. Message events are never dropped.
//
// enqueue may run while the caller holds a room lock, so the close it
// triggers runs on its own goroutine.
func (s *Session) enqueue(o outbound) error {
	s.mu.Lock()

	if s.state >= StateClosing {
		s.mu.Unlock()
		s.metrics.delivery(deliveryRejected)
		return ErrSessionClosed
	}

	if len(s.queue) < s.capacity {
		s.queue = append(s.queue, o)
		s.mu.Unlock()
		s.signal()
		s.metrics.delivery(deliveryQueued)
		return nil
	}

	if i := s.supersedable(o); i >= 0 {
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		s.queue = append(s.queue, o)
		s.mu.Unlock()
		s.signal()
		s.metrics.delivery(deliverySuperseded)
		s.log.Debug().
			Str("type", string(o.kind)).
			Int64("conversation_id", o.conversationID).
			Msg("queue full, superseded older event")
		return nil
	}

	s.state = StateClosing
	s.closeErr = ErrSlowConsumer
	s.mu.Unlock()

	s.metrics.slowConsumer()
	s.log.Warn().
		Str("type", string(o.kind)).
		Int64("conversation_id", o.conversationID).
		Int("queue_size", s.capacity).
		Msg("outbound queue overflow, closing session")

	go s.closeWith(ErrSlowConsumer)
	return ErrSlowConsumer
}

// supersedable returns the index of the oldest queued event that o replaces:
// a participants-updated for the same conversation, or a message-updated for
// the same message (it carries the full reaction set). Caller holds s.mu.
func (s *Session) supersedable(o outbound) int {
	switch o.kind {
	case EventParticipantsUpdated:
		for i, q := range s.queue {
			if q.kind == EventParticipantsUpdated && q.conversationID == o.conversationID {
				return i
			}
		}
	case EventMessageUpdated:
		for i, q := range s.queue {
			if q.kind == EventMessageUpdated && q.messageID == o.messageID {
				return i
			}
		}
	}
	return -1
}

func (s *Session) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// deliver drains the queue onto the sink in order. A write error closes the
// session; the failed frame is not requeued.
func (s *Session) deliver() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		for {
			s.mu.Lock()
			if s.state >= StateClosing || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			o := s.queue[0]
			s.queue[0] = outbound{}
			s.queue = s.queue[1:]
			s.mu.Unlock()

			if err := s.sink.WriteFrame(o.data); err != nil {
				s.metrics.delivery(deliveryFailed)
				s.log.Warn().Err(err).Str("type", string(o.kind)).Msg("write failed, closing session")
				s.closeWith(fmt.Errorf("write: %w", err))
				return
			}
			s.metrics.delivery(deliveryWritten)
		}
	}
}

// Close tears the session down: it leaves every room, stops delivery, drops
// the queue and closes the sink. Safe to call more than once.
func (s *Session) Close() {
	s.closeWith(nil)
}

func (s *Session) closeWith(reason error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosing
		if s.closeErr == nil {
			s.closeErr = reason
		}
		s.mu.Unlock()

		s.registry.detach(s)

		s.mu.Lock()
		s.queue = nil
		s.state = StateClosed
		s.mu.Unlock()

		if err := s.sink.Close(); err != nil {
			s.log.Debug().Err(err).Msg("sink close")
		}
		close(s.done)
		s.log.Debug().Msg("session closed")
	})
}
