package services

import "sync"

const lockStripes = 64

// ConversationLocks serializes writes per conversation from before the
// transaction begins until its event has been handed to the publisher. If
// write W1 commits before W2 begins, W1's event is published first.
// Conversations share stripes, so unrelated conversations may occasionally
// wait on each other.
type ConversationLocks struct {
	stripes [lockStripes]sync.Mutex
}

// NewConversationLocks returns an unlocked set of stripes.
func NewConversationLocks() *ConversationLocks {
	return &ConversationLocks{}
}

// Lock acquires the stripe for conversationID and returns its unlock func.
func (l *ConversationLocks) Lock(conversationID int64) func() {
	m := &l.stripes[uint64(conversationID)%lockStripes]
	m.Lock()
	return m.Unlock
}
