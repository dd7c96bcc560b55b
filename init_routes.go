package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akinalp/convo/middleware"
	"github.com/akinalp/convo/pkg"
	"github.com/akinalp/convo/repository"
	"github.com/akinalp/convo/services"
)

// initRoutes mounts every endpoint. Literal segments such as
// /participants/me are more specific than {id} patterns, so order does not
// matter for ServeMux.
func initRoutes(
	mux *http.ServeMux,
	h *Handlers,
	authService services.AuthService,
	userRepo repository.UserRepository,
	metrics http.Handler,
) {
	authMw := middleware.NewAuthMiddleware(authService, userRepo)
	auth := func(handler http.HandlerFunc) http.Handler {
		return authMw.Require(handler)
	}

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		pkg.JSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "convo"})
	})
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	mux.Handle("GET /metrics", metrics)

	// Auth
	mux.HandleFunc("POST /api/auth/register", h.Auth.Register)
	mux.HandleFunc("POST /api/auth/login", h.Auth.Login)
	mux.Handle("GET /api/users/me", auth(h.Auth.Me))

	// Conversations
	mux.Handle("GET /api/conversations", auth(h.Conversation.List))
	mux.Handle("POST /api/conversations", auth(h.Conversation.Create))
	mux.Handle("GET /api/conversations/{id}", auth(h.Conversation.Get))
	mux.Handle("DELETE /api/conversations/{id}", auth(h.Conversation.Delete))
	mux.Handle("GET /api/conversations/{id}/available-users", auth(h.Conversation.AvailableUsers))
	mux.Handle("POST /api/conversations/{id}/participants", auth(h.Conversation.AddParticipant))
	mux.Handle("DELETE /api/conversations/{id}/participants/me", auth(h.Conversation.Leave))

	// Messages
	mux.Handle("POST /api/messages", auth(h.Message.Create))
	mux.Handle("POST /api/messages/{messageId}/reactions", auth(h.Reaction.Toggle))

	// Browsers cannot set headers on the upgrade request, so the socket
	// authenticates with ?token= inside the handler.
	if h.WS != nil {
		mux.HandleFunc("GET /ws", h.WS.HandleConnection)
	}
}
