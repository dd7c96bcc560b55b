package main

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/akinalp/convo/config"
	"github.com/akinalp/convo/pkg/logger"
	"github.com/akinalp/convo/pkg/ratelimit"
	"github.com/akinalp/convo/services"
	"github.com/akinalp/convo/ws"
)

// Broadcast is the real-time layer. Registry is nil when broadcast is
// disabled; Emitter is always usable.
type Broadcast struct {
	Registry *ws.Registry
	Emitter  *ws.Emitter
	Authz    *services.ParticipantCache
}

// Close closes live sessions and stops the authorization cache.
func (b *Broadcast) Close() {
	if b.Registry != nil {
		b.Registry.CloseAll()
	}
	b.Authz.Close()
}

// revoker returns the registry as a SubscriptionRevoker, or a nil interface
// when broadcast is disabled.
func (b *Broadcast) revoker() services.SubscriptionRevoker {
	if b.Registry == nil {
		return nil
	}
	return b.Registry
}

func initBroadcast(cfg *config.Config, repos *Repositories, reg prometheus.Registerer, log zerolog.Logger) *Broadcast {
	authz := services.NewParticipantCache(repos.Conversation, cfg.Broadcast.AuthzCacheTTL)

	if !cfg.Broadcast.Enabled {
		log.Warn().Msg("broadcast disabled, writes will not be pushed to clients")
		return &Broadcast{
			Emitter: ws.NewEmitter(nil, logger.Component(log, "emitter")),
			Authz:   authz,
		}
	}

	metrics := ws.NewMetrics(reg)
	registry := ws.NewRegistry(authz, cfg.WS.SendQueueSize, metrics, logger.Component(log, "registry"))
	dispatcher := ws.NewDispatcher(registry, metrics, logger.Component(log, "dispatcher"))

	return &Broadcast{
		Registry: registry,
		Emitter:  ws.NewEmitter(dispatcher, logger.Component(log, "emitter")),
		Authz:    authz,
	}
}

// Services groups the service implementations.
type Services struct {
	Auth         services.AuthService
	Conversation services.ConversationService
	Message      services.MessageService
	Reaction     services.ReactionService
}

// RateLimiters groups the handler-level limiters.
type RateLimiters struct {
	Login   *ratelimit.LoginRateLimiter
	Message *ratelimit.MessageRateLimiter
}

func (l *RateLimiters) Close() {
	l.Login.Close()
	l.Message.Close()
}

func initServices(db *sql.DB, repos *Repositories, bc *Broadcast, cfg *config.Config, log zerolog.Logger) (*Services, *RateLimiters) {
	svcLog := logger.Component(log, "services")
	locks := services.NewConversationLocks()

	svcs := &Services{
		Auth: services.NewAuthService(repos.User, cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry),
		Conversation: services.NewConversationService(
			db, repos.Conversation, repos.Message, repos.Reaction, repos.User,
			bc.Emitter, bc.Authz, bc.revoker(), locks, svcLog,
		),
		Message:  services.NewMessageService(db, repos.User, bc.Emitter, locks, svcLog),
		Reaction: services.NewReactionService(db, repos.Message, bc.Emitter, locks, svcLog),
	}

	limiters := &RateLimiters{
		Login:   ratelimit.NewLoginRateLimiter(cfg.Limits.LoginAttempts, cfg.Limits.LoginWindow),
		Message: ratelimit.NewMessageRateLimiter(cfg.Limits.MessageRatePerSec, cfg.Limits.MessageBurst),
	}

	return svcs, limiters
}
