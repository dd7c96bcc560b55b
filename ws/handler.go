package ws

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/akinalp/convo/models"
)

// TokenValidator resolves the access token presented at the handshake.
type TokenValidator interface {
	ValidateAccessToken(tokenString string) (*models.TokenClaims, error)
}

// Handler upgrades GET /ws?token=... to a socket session.
type Handler struct {
	registry  *Registry
	validator TokenValidator
	cfg       ConnConfig
	upgrader  websocket.Upgrader
	log       zerolog.Logger
}

// NewHandler builds the upgrade endpoint. checkOrigin may be nil to accept
// any origin; the token is what authenticates the socket.
func NewHandler(registry *Registry, validator TokenValidator, cfg ConnConfig, checkOrigin func(r *http.Request) bool, log zerolog.Logger) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Handler{
		registry:  registry,
		validator: validator,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		log: log,
	}
}

// HandleConnection authenticates, upgrades, and then runs the read loop on
// the request goroutine until the connection ends.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.validator.ValidateAccessToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Int64("user_id", claims.UserID).Msg("upgrade failed")
		return
	}

	conn := newConn(ws, h.cfg, h.log.With().Int64("user_id", claims.UserID).Logger())
	session := h.registry.Attach(claims.UserID, conn)
	defer session.Close()

	conn.readLoop(r.Context(), h.registry, session)
}
