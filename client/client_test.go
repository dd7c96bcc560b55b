package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/akinalp/convo/models"
	"github.com/akinalp/convo/ws"
)

type allowAll struct{}

func (allowAll) IsParticipant(context.Context, int64, int64) (bool, error) { return true, nil }

type denyConversation int64

func (d denyConversation) IsParticipant(_ context.Context, conversationID, _ int64) (bool, error) {
	return conversationID != int64(d), nil
}

type tokens struct{}

func (tokens) ValidateAccessToken(token string) (*models.TokenClaims, error) {
	if token != "u1" {
		return nil, errors.New("bad token")
	}
	return &models.TokenClaims{UserID: 1}, nil
}

type fakeFetcher struct {
	mu      sync.Mutex
	fetches int
	nextID  int64
	sent    []models.MessagePayload
	onFetch func(conversationID int64)
}

func (f *fakeFetcher) FetchRoom(_ context.Context, conversationID int64) (*models.RoomData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onFetch != nil {
		f.onFetch(conversationID)
	}
	f.fetches++
	return &models.RoomData{
		ConversationID: conversationID,
		Participants:   []models.Participant{{ID: 1, Name: "alice"}, {ID: 2, Name: "bob"}},
		Messages:       []models.MessagePayload{},
	}, nil
}

func (f *fakeFetcher) SendMessage(_ context.Context, req *models.CreateMessageRequest) (*models.MessagePayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	msg := message(f.nextID, 1, req.Content)
	msg.ConversationID = req.ConversationID
	f.sent = append(f.sent, msg)
	return &msg, nil
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type harness struct {
	registry   *ws.Registry
	dispatcher *ws.Dispatcher
	fetcher    *fakeFetcher
	client     *Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, allowAll{})
}

func newHarnessWith(t *testing.T, authz ws.ParticipantChecker) *harness {
	t.Helper()
	log := zerolog.Nop()
	registry := ws.NewRegistry(authz, 64, nil, log)
	handler := ws.NewHandler(registry, tokens{}, ws.ConnConfig{
		WriteWait:   time.Second,
		PongWait:    5 * time.Second,
		ControlRate: 100,
	}, nil, log)
	srv := httptest.NewServer(http.HandlerFunc(handler.HandleConnection))

	fetcher := &fakeFetcher{nextID: 49}
	c := New(Config{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Token:      "u1",
		UserID:     1,
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 50 * time.Millisecond,
		Logger:     log,
	}, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		registry.CloseAll()
		srv.Close()
	})

	// connect before any Join so rooms are subscribed by Join itself
	eventually(t, "connection", func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.conn != nil
	})

	return &harness{
		registry:   registry,
		dispatcher: ws.NewDispatcher(registry, nil, log),
		fetcher:    fetcher,
		client:     c,
	}
}

func (h *harness) join(t *testing.T, conversationID int64) *Room {
	t.Helper()
	room, err := h.client.Join(context.Background(), conversationID)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	eventually(t, "subscription", func() bool {
		return room.State() == Subscribed && len(h.registry.MembersOf(conversationID)) == 1
	})
	return room
}

func hasID(room *Room, id int64) bool {
	for _, m := range room.Messages() {
		if m.ID == id {
			return true
		}
	}
	return false
}

func TestClientReceivesPushes(t *testing.T) {
	h := newHarness(t)
	room := h.join(t, 7)

	if len(room.Participants()) != 2 {
		t.Fatalf("join should load the roster, got %v", room.Participants())
	}

	h.dispatcher.Publish(ws.NewMessageEvent(message(42, 2, "hi")))
	eventually(t, "message 42", func() bool { return hasID(room, 42) })

	updated := message(42, 2, "hi")
	updated.Reactions = []models.Reaction{{ID: 1, MessageID: 42, UserID: 1, Type: models.ReactionLove}}
	h.dispatcher.Publish(ws.MessageUpdatedEvent(updated))
	eventually(t, "reaction", func() bool {
		msgs := room.Messages()
		return len(msgs) == 1 && len(msgs[0].Reactions) == 1
	})

	h.dispatcher.Publish(ws.ParticipantsUpdatedEvent(7, []models.Participant{{ID: 1}}))
	eventually(t, "roster", func() bool { return len(room.Participants()) == 1 })
}

func TestClientSendConvergesWithoutDuplicate(t *testing.T) {
	h := newHarness(t)
	room := h.join(t, 7)

	msg, err := h.client.Send(context.Background(), 7, models.MessageText, "  hello ")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ID != 50 || !hasID(room, 50) || len(room.Pending()) != 0 {
		t.Fatalf("after send: msg=%+v ids=%v pending=%v", msg, ids(room.Messages()), room.Pending())
	}

	// the broadcast for 50 arrives after the response; 51 marks that it was processed
	h.dispatcher.Publish(ws.NewMessageEvent(*msg))
	h.dispatcher.Publish(ws.NewMessageEvent(message(51, 2, "after")))
	eventually(t, "message 51", func() bool { return hasID(room, 51) })

	if got := ids(room.Messages()); !equalIDs(got, []int64{50, 51}) {
		t.Fatalf("ids = %v", got)
	}

	if _, err := h.client.Send(context.Background(), 99, models.MessageText, "x"); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("send to untracked conversation err = %v", err)
	}
}

func TestClientReconnectsRejoinsAndRefetches(t *testing.T) {
	h := newHarness(t)
	room := h.join(t, 7)
	oldSession := h.registry.MembersOf(7)[0]

	before := h.fetcher.fetchCount()

	h.registry.CloseAll()

	eventually(t, "rejoin on a new session", func() bool {
		members := h.registry.MembersOf(7)
		return len(members) == 1 && members[0] != oldSession && room.State() == Subscribed
	})
	eventually(t, "re-fetch", func() bool { return h.fetcher.fetchCount() > before })

	h.dispatcher.Publish(ws.NewMessageEvent(message(60, 2, "back")))
	eventually(t, "message after reconnect", func() bool { return hasID(room, 60) })
}

func TestClientLeave(t *testing.T) {
	h := newHarness(t)
	h.join(t, 7)

	h.client.Leave(7)
	eventually(t, "server-side unsubscribe", func() bool { return len(h.registry.MembersOf(7)) == 0 })
	if _, ok := h.client.Room(7); ok {
		t.Fatalf("room still tracked")
	}
}

// Events published between a fetch and the server handling the join would be
// lost, so the join's fetch must run after the server subscribed the session.
func TestJoinFetchesAfterServerSubscribed(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	var early []int64
	h.fetcher.mu.Lock()
	h.fetcher.onFetch = func(conversationID int64) {
		if len(h.registry.MembersOf(conversationID)) == 0 {
			mu.Lock()
			early = append(early, conversationID)
			mu.Unlock()
		}
	}
	h.fetcher.mu.Unlock()

	room := h.join(t, 7)
	if room.NeedsRefetch() {
		t.Fatalf("Join returned before the room was settled")
	}
	if h.fetcher.fetchCount() == 0 {
		t.Fatalf("Join did not fetch")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(early) != 0 {
		t.Fatalf("fetched before the server subscribed: %v", early)
	}
}

func TestJoinRejected(t *testing.T) {
	h := newHarnessWith(t, denyConversation(8))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	room, err := h.client.Join(ctx, 8)
	if !errors.Is(err, ErrJoinRejected) {
		t.Fatalf("Join err = %v, want ErrJoinRejected", err)
	}
	if room.State() == Subscribed || len(h.registry.MembersOf(8)) != 0 {
		t.Fatalf("rejected join left a subscription")
	}
}
