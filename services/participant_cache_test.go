package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/akinalp/convo/repository"
	"github.com/akinalp/convo/ws"
)

// gatedConvRepo answers IsParticipant from a flag. The first call reads the
// flag and then parks until release is closed, so a caller can change storage
// while that read is in flight.
type gatedConvRepo struct {
	repository.ConversationRepository

	mu      sync.Mutex
	member  bool
	calls   int
	entered chan struct{}
	release chan struct{}
}

func newGatedConvRepo(member bool) *gatedConvRepo {
	return &gatedConvRepo{
		member:  member,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedConvRepo) IsParticipant(_ context.Context, _, _ int64) (bool, error) {
	g.mu.Lock()
	ok := g.member
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()

	if first {
		close(g.entered)
		<-g.release
	}
	return ok, nil
}

func (g *gatedConvRepo) setMember(ok bool) {
	g.mu.Lock()
	g.member = ok
	g.mu.Unlock()
}

type discardSink struct{}

func (discardSink) WriteFrame([]byte) error { return nil }
func (discardSink) Close() error            { return nil }

func TestInvalidateDuringLookupIsNotOverwritten(t *testing.T) {
	repo := newGatedConvRepo(true)
	pc := NewParticipantCache(repo, time.Minute)
	defer pc.Close()

	done := make(chan bool, 1)
	go func() {
		ok, _ := pc.IsParticipant(context.Background(), 7, 2)
		done <- ok
	}()

	<-repo.entered
	repo.setMember(false)
	pc.Invalidate(7, 2)
	close(repo.release)

	if ok := <-done; !ok {
		t.Fatalf("in-flight lookup should report what storage said when it read")
	}
	ok, err := pc.IsParticipant(context.Background(), 7, 2)
	if err != nil || ok {
		t.Fatalf("IsParticipant after invalidate = %v, %v; want false", ok, err)
	}
}

// A subscribe whose authorization read predates the leave must not succeed
// once the leave has invalidated the cache and revoked the user.
func TestSubscribeRacingLeaveIsDenied(t *testing.T) {
	repo := newGatedConvRepo(true)
	pc := NewParticipantCache(repo, time.Minute)
	defer pc.Close()

	reg := ws.NewRegistry(pc, 8, nil, zerolog.Nop())
	defer reg.CloseAll()
	sess := reg.Attach(2, discardSink{})

	errc := make(chan error, 1)
	go func() { errc <- reg.Subscribe(context.Background(), sess.ID(), 7) }()

	<-repo.entered
	repo.setMember(false)
	pc.Invalidate(7, 2)
	reg.RevokeUser(7, 2)
	close(repo.release)

	if err := <-errc; !errors.Is(err, ws.ErrUnauthorized) {
		t.Fatalf("Subscribe err = %v, want ErrUnauthorized", err)
	}
	if subs := sess.Subscriptions(); len(subs) != 0 {
		t.Fatalf("subscriptions = %v, want none", subs)
	}
	if members := reg.MembersOf(7); len(members) != 0 {
		t.Fatalf("room 7 members = %v, want none", members)
	}
}

func TestParticipantCacheWithoutTTLReadsThrough(t *testing.T) {
	repo := newGatedConvRepo(true)
	close(repo.release)
	pc := NewParticipantCache(repo, 0)
	defer pc.Close()

	if ok, _ := pc.IsParticipant(context.Background(), 1, 1); !ok {
		t.Fatalf("want member")
	}
	repo.setMember(false)
	if ok, _ := pc.IsParticipant(context.Background(), 1, 1); ok {
		t.Fatalf("uncached checker returned a stale answer")
	}
}
