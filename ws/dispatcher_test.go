package ws

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Users in conversations 7 and 8; message 42 "hi" goes to 7 only.
func TestPublishNoCrossRoomLeakage(t *testing.T) {
	r := newTestRegistry(newMemberships([2]int64{7, 1}, [2]int64{8, 2}), 8)
	sinkA, sinkB := newFakeSink(), newFakeSink()
	a := r.Attach(1, sinkA)
	b := r.Attach(2, sinkB)
	defer r.CloseAll()
	mustSubscribe(t, r, a, 7)
	mustSubscribe(t, r, b, 8)

	n := NewDispatcher(r, nil, zerolog.Nop()).Publish(NewMessageEvent(textMessage(42, 7, "hi")))
	if n != 1 {
		t.Fatalf("accepted = %d, want 1", n)
	}

	fr := sinkA.next(t)
	if fr.Type != string(EventNewMessage) || fr.ConversationID != 7 {
		t.Fatalf("frame = %+v", fr)
	}
	msg := decodeMessage(t, fr)
	if msg.ID != 42 || msg.Content != "hi" || msg.SenderName != "alice" {
		t.Fatalf("payload = %+v", msg)
	}
	sinkA.expectNone(t)
	sinkB.expectNone(t)
}

func TestPublishPerRoomFIFO(t *testing.T) {
	r := newTestRegistry(newMemberships([2]int64{7, 1}, [2]int64{7, 2}), 512)
	sinks := []*fakeSink{newFakeSink(), newFakeSink()}
	for i, sink := range sinks {
		s := r.Attach(int64(i+1), sink)
		mustSubscribe(t, r, s, 7)
	}
	defer r.CloseAll()
	d := NewDispatcher(r, nil, zerolog.Nop())

	const total = 200
	for id := int64(1); id <= total; id++ {
		d.Publish(NewMessageEvent(textMessage(id, 7, "m")))
	}

	for _, sink := range sinks {
		for want := int64(1); want <= total; want++ {
			if got := decodeMessage(t, sink.next(t)).ID; got != want {
				t.Fatalf("got message %d, want %d", got, want)
			}
		}
	}
}

// Each publisher's events keep their relative order even when several
// publishers share a room.
func TestConcurrentPublishersKeepTheirOrder(t *testing.T) {
	r := newTestRegistry(newMemberships([2]int64{7, 1}), 1024)
	sink := newFakeSink()
	s := r.Attach(1, sink)
	mustSubscribe(t, r, s, 7)
	defer s.Close()
	d := NewDispatcher(r, nil, zerolog.Nop())

	const publishers, each = 4, 50
	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				d.Publish(NewMessageEvent(textMessage(int64(p*1000+i), 7, "m")))
			}
		}(p)
	}
	wg.Wait()

	last := map[int64]int64{}
	for i := 0; i < publishers*each; i++ {
		id := decodeMessage(t, sink.next(t)).ID
		p := id / 1000
		if prev, ok := last[p]; ok && id <= prev {
			t.Fatalf("publisher %d: %d arrived after %d", p, id, prev)
		}
		last[p] = id
	}
}

func TestPublishEmptyRoom(t *testing.T) {
	r := newTestRegistry(newMemberships(), 8)
	if n := NewDispatcher(r, nil, zerolog.Nop()).Publish(ParticipantsUpdatedEvent(3, nil)); n != 0 {
		t.Fatalf("accepted = %d", n)
	}
	if r.RoomCount() != 0 {
		t.Fatalf("publish created a room")
	}
}

func TestMetricsTrackSessionsAndRooms(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	r := NewRegistry(newMemberships([2]int64{7, 1}), 8, metrics, zerolog.Nop())
	d := NewDispatcher(r, metrics, zerolog.Nop())

	s := r.Attach(1, newFakeSink())
	mustSubscribe(t, r, s, 7)
	d.Publish(ParticipantsUpdatedEvent(7, nil))

	if got := gaugeValue(t, reg, "convo_ws_sessions"); got != 1 {
		t.Fatalf("sessions gauge = %v", got)
	}
	if got := gaugeValue(t, reg, "convo_ws_rooms"); got != 1 {
		t.Fatalf("rooms gauge = %v", got)
	}

	s.Close()
	if got := gaugeValue(t, reg, "convo_ws_sessions"); got != 0 {
		t.Fatalf("sessions gauge after close = %v", got)
	}
	if got := gaugeValue(t, reg, "convo_ws_rooms"); got != 0 {
		t.Fatalf("rooms gauge after close = %v", got)
	}
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
