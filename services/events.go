package services

import "github.com/akinalp/convo/ws"

// EventEmitter receives events once their write has committed.
// *ws.Emitter is the production implementation.
type EventEmitter interface {
	EmitAfterCommit(ev ws.Event)
}

// SubscriptionRevoker drops live subscriptions of a user who has left a
// conversation. *ws.Registry implements it; nil when broadcast is disabled.
type SubscriptionRevoker interface {
	RevokeUser(conversationID, userID int64) int
}
