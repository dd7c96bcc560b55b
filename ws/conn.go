package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/akinalp/convo/pkg"
)

const (
	// maxFrameSize caps inbound frames; clients only send small control frames.
	maxFrameSize = 4096

	subscribeTimeout = 5 * time.Second

	// closeGrace bounds how long Close waits to send the close frame. A
	// stalled frame write holds the connection's writer until then.
	closeGrace = time.Second
)

// ConnConfig holds per-connection timing.
type ConnConfig struct {
	WriteWait   time.Duration // deadline for one frame write
	PongWait    time.Duration // read deadline, renewed by every inbound frame
	ControlRate int           // inbound control frames per second
}

// Conn adapts a gorilla websocket connection to a session Sink and runs the
// read side of the protocol.
type Conn struct {
	ws  *websocket.Conn
	cfg ConnConfig
	log zerolog.Logger

	mu        sync.Mutex // serializes writes; gorilla allows one concurrent writer
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, cfg ConnConfig, log zerolog.Logger) *Conn {
	return &Conn{ws: ws, cfg: cfg, log: log}
}

// WriteFrame writes one text frame with the configured deadline.
func (c *Conn) WriteFrame(data []byte) error {
	return c.writeMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the socket. The read loop then returns.
// It does not wait behind c.mu: WriteControl may run alongside another writer,
// and closing the socket fails any write still blocked.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(min(closeGrace, c.cfg.WriteWait)))
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}

type clientFrame struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversationId"`
}

// readLoop handles join/leave/ping frames for s until the socket fails or the
// session closes.
func (c *Conn) readLoop(ctx context.Context, registry *Registry, s *Session) {
	c.ws.SetReadLimit(maxFrameSize)

	if err := c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.log.Warn().Err(err).Msg("failed to set read deadline")
		return
	}

	limit := rate.Limit(c.cfg.ControlRate)
	if c.cfg.ControlRate <= 0 {
		limit = rate.Inf
	}
	limiter := rate.NewLimiter(limit, max(c.cfg.ControlRate, 1))

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("unexpected close")
			}
			return
		}

		if err := c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
			return
		}

		var f clientFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.sendError(s, 0, pkg.ErrBadRequest)
			continue
		}

		if !limiter.Allow() {
			c.sendError(s, f.ConversationID, pkg.ErrTooManyRequests)
			continue
		}

		c.handleFrame(ctx, registry, s, f)
	}
}

func (c *Conn) handleFrame(ctx context.Context, registry *Registry, s *Session, f clientFrame) {
	switch f.Type {
	case FramePing:
		_ = s.SendControl(FramePong, 0, nil)

	case FrameJoin:
		if f.ConversationID <= 0 {
			c.sendError(s, 0, pkg.ErrBadRequest)
			return
		}
		subCtx, cancel := context.WithTimeout(ctx, subscribeTimeout)
		err := registry.Subscribe(subCtx, s.ID(), f.ConversationID)
		cancel()
		if err != nil {
			c.sendError(s, f.ConversationID, err)
			return
		}
		_ = s.SendControl(FrameJoined, f.ConversationID, nil)

	case FrameLeave:
		if err := registry.Unsubscribe(s.ID(), f.ConversationID); err != nil {
			c.sendError(s, f.ConversationID, err)
			return
		}
		_ = s.SendControl(FrameLeft, f.ConversationID, nil)

	default:
		c.log.Debug().Str("type", f.Type).Msg("unknown frame type")
		c.sendError(s, f.ConversationID, pkg.ErrBadRequest)
	}
}

// sendError reports err to the client in an error frame. Internal failures
// are logged and reported generically.
func (c *Conn) sendError(s *Session, conversationID int64, err error) {
	if errors.Is(err, ErrSessionClosed) {
		return
	}

	code := pkg.StatusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		c.log.Error().Err(err).Int64("conversation_id", conversationID).Msg("control frame failed")
		msg = pkg.ErrInternal.Error()
	}
	_ = s.SendControl(FrameError, conversationID, ErrorPayload{Code: code, Message: msg})
}
