package main

import (
	"net/http"
	"slices"

	"github.com/rs/zerolog"

	"github.com/akinalp/convo/config"
	"github.com/akinalp/convo/handlers"
	"github.com/akinalp/convo/pkg/logger"
	"github.com/akinalp/convo/ws"
)

// Handlers groups the HTTP handlers. WS is nil when broadcast is disabled.
type Handlers struct {
	Auth         *handlers.AuthHandler
	Conversation *handlers.ConversationHandler
	Message      *handlers.MessageHandler
	Reaction     *handlers.ReactionHandler
	WS           *ws.Handler
}

func initHandlers(svcs *Services, limiters *RateLimiters, bc *Broadcast, cfg *config.Config, log zerolog.Logger) *Handlers {
	h := &Handlers{
		Auth:         handlers.NewAuthHandler(svcs.Auth, limiters.Login),
		Conversation: handlers.NewConversationHandler(svcs.Conversation),
		Message:      handlers.NewMessageHandler(svcs.Message, limiters.Message),
		Reaction:     handlers.NewReactionHandler(svcs.Reaction),
	}

	if bc.Registry != nil {
		h.WS = ws.NewHandler(bc.Registry, svcs.Auth, ws.ConnConfig{
			WriteWait:   cfg.WS.WriteWait,
			PongWait:    cfg.WS.PongWait,
			ControlRate: cfg.WS.ControlRatePerS,
		}, originChecker(cfg.Server.CORSOrigins), logger.Component(log, "ws"))
	}

	return h
}

// originChecker accepts browser handshakes from the CORS allow-list and
// native clients that send no Origin header.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
	}
}
