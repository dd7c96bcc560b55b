package services

import (
	"context"
	"sync"
	"time"

	"github.com/akinalp/convo/pkg/cache"
	"github.com/akinalp/convo/repository"
)

type participantKey struct {
	conversationID int64
	userID         int64
}

// ParticipantCache answers membership checks for the socket layer from a
// short-lived cache in front of storage. Membership changes invalidate the
// affected keys before subscriptions are revoked.
//
// A storage read that started before an invalidation must not repopulate the
// cache with what it saw: gen counts invalidations, and a lookup only stores
// its result when gen is unchanged since before its read.
type ParticipantCache struct {
	repo  repository.ConversationRepository
	cache *cache.TTLCache[participantKey, bool]

	mu  sync.Mutex
	gen uint64
}

// NewParticipantCache caches decisions for ttl. ttl <= 0 disables caching.
func NewParticipantCache(repo repository.ConversationRepository, ttl time.Duration) *ParticipantCache {
	pc := &ParticipantCache{repo: repo}
	if ttl > 0 {
		pc.cache = cache.New[participantKey, bool](ttl, 2*ttl)
	}
	return pc
}

// IsParticipant implements ws.ParticipantChecker.
func (pc *ParticipantCache) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	if pc.cache == nil {
		return pc.repo.IsParticipant(ctx, conversationID, userID)
	}

	key := participantKey{conversationID, userID}
	if ok, hit := pc.cache.Get(key); hit {
		return ok, nil
	}

	pc.mu.Lock()
	gen := pc.gen
	pc.mu.Unlock()

	ok, err := pc.repo.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return false, err
	}

	pc.mu.Lock()
	if pc.gen == gen {
		pc.cache.Set(key, ok)
	}
	pc.mu.Unlock()
	return ok, nil
}

// Invalidate drops the cached decision for one user.
func (pc *ParticipantCache) Invalidate(conversationID, userID int64) {
	if pc == nil || pc.cache == nil {
		return
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.gen++
	pc.cache.Delete(participantKey{conversationID, userID})
}

// InvalidateConversation drops every cached decision for a conversation.
func (pc *ParticipantCache) InvalidateConversation(conversationID int64) {
	if pc == nil || pc.cache == nil {
		return
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.gen++
	pc.cache.DeleteFunc(func(k participantKey) bool { return k.conversationID == conversationID })
}

// Close stops the cache janitor.
func (pc *ParticipantCache) Close() {
	if pc != nil && pc.cache != nil {
		pc.cache.Close()
	}
}
