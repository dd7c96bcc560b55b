package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/akinalp/convo/models"
	"github.com/akinalp/convo/ws"
)

// ErrNotJoined is returned for operations on a conversation the client does
// not track.
var ErrNotJoined = errors.New("conversation not joined")

// Config configures a Client. Zero durations take the defaults below.
type Config struct {
	URL    string // socket endpoint, e.g. ws://localhost:9090/ws
	Token  string
	UserID int64

	MinBackoff   time.Duration // 250ms
	MaxBackoff   time.Duration // 30s
	PingInterval time.Duration // 30s, must stay below the server's pong wait
	WriteWait    time.Duration // 10s
	StaleWindow  time.Duration // 10s, unconfirmed sends older than this trigger a re-fetch

	Dialer *websocket.Dialer
	Logger zerolog.Logger

	// OnChange is called after any change to a room's state. It runs on the
	// client's goroutines and must not block.
	OnChange func(conversationID int64)
}

func (c *Config) setDefaults() {
	if c.MinBackoff <= 0 {
		c.MinBackoff = 250 * time.Millisecond
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = max(30*time.Second, c.MinBackoff)
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.StaleWindow <= 0 {
		c.StaleWindow = 10 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// Client keeps a set of conversations reconciled over one socket. Run owns
// the connection; Join, Leave, and Send may be called from any goroutine.
type Client struct {
	cfg     Config
	fetcher Fetcher
	log     zerolog.Logger

	mu    sync.Mutex
	rooms map[int64]*Room
	conn  *websocket.Conn // nil while disconnected

	writeMu sync.Mutex
}

func New(cfg Config, fetcher Fetcher) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:     cfg,
		fetcher: fetcher,
		log:     cfg.Logger,
		rooms:   make(map[int64]*Room),
	}
}

// Run connects and reconnects with jittered exponential backoff until ctx
// is done. After every reconnect it rejoins all tracked conversations and
// re-fetches their state, since pushes sent while offline are lost.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.cfg.MinBackoff
	for {
		startedAt := time.Now()
		err := c.connection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// a connection that held for a while resets the backoff
		if time.Since(startedAt) >= 30*time.Second {
			backoff = c.cfg.MinBackoff
		}

		wait := min(backoff, c.cfg.MaxBackoff)
		if j := wait / 5; j > 0 {
			wait += time.Duration(time.Now().UnixNano() % int64(j+1))
		}
		c.log.Warn().Err(err).Dur("backoff", wait).Msg("socket disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff = min(backoff*2, c.cfg.MaxBackoff)
	}
}

// Join starts tracking a conversation. When connected it subscribes and
// returns once the room holds a fetch taken after the server acknowledged the
// join; offline it loads the stored state and the next connection subscribes.
// Joining a tracked conversation returns its room.
func (c *Client) Join(ctx context.Context, conversationID int64) (*Room, error) {
	c.mu.Lock()
	room, ok := c.rooms[conversationID]
	if ok {
		c.mu.Unlock()
		return room, nil
	}
	room = NewRoom(conversationID, c.cfg.UserID)
	c.rooms[conversationID] = room
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return room, c.refetch(ctx, room)
	}

	room.MarkConnected()
	if err := c.writeControl(conn, ws.FrameJoin, conversationID); err != nil {
		c.log.Debug().Err(err).Int64("conversation_id", conversationID).Msg("join frame not sent")
		return room, c.refetch(ctx, room)
	}

	// the joined ack triggers the fetch
	if err := room.awaitSynced(ctx); err != nil {
		return room, err
	}
	if room.State() == Disconnected {
		return room, c.refetch(ctx, room)
	}
	return room, nil
}

// Leave stops tracking a conversation.
func (c *Client) Leave(conversationID int64) {
	c.mu.Lock()
	_, ok := c.rooms[conversationID]
	delete(c.rooms, conversationID)
	conn := c.conn
	c.mu.Unlock()

	if ok && conn != nil {
		_ = c.writeControl(conn, ws.FrameLeave, conversationID)
	}
}

// Room returns the tracked room for conversationID.
func (c *Client) Room(conversationID int64) (*Room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room, ok := c.rooms[conversationID]
	return room, ok
}

// Send displays the message optimistically, posts it, and converges on the
// persisted message from the response whether or not its broadcast arrives.
func (c *Client) Send(ctx context.Context, conversationID int64, typ models.MessageType, content string) (*models.MessagePayload, error) {
	room, ok := c.Room(conversationID)
	if !ok {
		return nil, ErrNotJoined
	}
	if typ == "" {
		typ = models.MessageText
	}
	if typ == models.MessageText {
		content = strings.TrimSpace(content)
	}

	localID := uuid.NewString()
	room.AddOptimistic(localID, typ, content)
	c.changed(conversationID)

	msg, err := c.fetcher.SendMessage(ctx, &models.CreateMessageRequest{
		ConversationID: conversationID,
		Content:        content,
		Type:           typ,
	})
	if err != nil {
		room.FailSent(localID)
		c.changed(conversationID)
		return nil, err
	}

	room.ConfirmSent(localID, *msg)
	c.changed(conversationID)
	return msg, nil
}

// connection runs one socket from dial to failure.
func (c *Client) connection(ctx context.Context) error {
	target, err := c.dialURL()
	if err != nil {
		return err
	}

	conn, _, err := c.cfg.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(connCtx, func() { conn.Close() })
	defer stop()

	rooms := c.attach(conn)
	defer c.detach(conn)

	c.log.Info().Int("rooms", len(rooms)).Msg("socket connected")
	for _, room := range rooms {
		room.MarkConnected()
		if err := c.writeControl(conn, ws.FrameJoin, room.ConversationID()); err != nil {
			return err
		}
	}
	go c.maintain(connCtx, conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleFrame(connCtx, raw)
	}
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	q := u.Query()
	q.Set("token", c.cfg.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// attach publishes conn and returns the rooms tracked at that moment.
func (c *Client) attach(conn *websocket.Conn) []*Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	rooms := make([]*Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	rooms := make([]*Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.Unlock()

	conn.Close()
	for _, r := range rooms {
		r.MarkDisconnected()
		c.changed(r.ConversationID())
	}
}

// maintain pings and settles rooms until the connection ends: subscribed
// rooms that may have missed events and rooms with stale optimistic sends are
// re-fetched.
func (c *Client) maintain(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := c.writeControl(conn, ws.FramePing, 0); err != nil {
			return
		}

		c.mu.Lock()
		tracked := make([]*Room, 0, len(c.rooms))
		for _, r := range c.rooms {
			tracked = append(tracked, r)
		}
		c.mu.Unlock()

		for _, room := range tracked {
			missed := room.State() == Subscribed && room.NeedsRefetch()
			if missed || len(room.Stale(c.cfg.StaleWindow)) > 0 {
				if err := c.refetch(ctx, room); err != nil && ctx.Err() == nil {
					c.log.Warn().Err(err).Int64("conversation_id", room.ConversationID()).Msg("re-fetch failed")
				}
			}
		}
	}
}

func (c *Client) refetch(ctx context.Context, room *Room) error {
	mark := room.BeginFetch()
	snapshot, err := c.fetcher.FetchRoom(ctx, room.ConversationID())
	if err != nil {
		room.FailFetch(err)
		return err
	}
	room.Complete(mark, snapshot)
	c.changed(room.ConversationID())
	return nil
}

func (c *Client) handleFrame(ctx context.Context, raw []byte) {
	var f ws.Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.log.Warn().Err(err).Msg("undecodable frame")
		return
	}
	if f.Type == ws.FramePong {
		return
	}

	room, ok := c.Room(f.ConversationID)
	if !ok {
		if f.Type == ws.FrameError {
			c.log.Warn().Str("payload", string(f.Payload)).Msg("server error frame")
		}
		return
	}

	outcome := Applied
	switch f.Type {
	case ws.FrameJoined:
		room.MarkSubscribed()
		// events published before the join landed are only in a fresh fetch
		if room.NeedsRefetch() {
			go func() {
				if err := c.refetch(ctx, room); err != nil && ctx.Err() == nil {
					c.log.Warn().Err(err).Int64("conversation_id", f.ConversationID).Msg("fetch after join failed")
				}
			}()
		}

	case ws.FrameLeft:
		room.MarkUnsubscribed()

	case ws.FrameError:
		var p ws.ErrorPayload
		_ = json.Unmarshal(f.Payload, &p)
		c.log.Warn().Int64("conversation_id", f.ConversationID).Int("code", p.Code).Str("message", p.Message).Msg("server error frame")
		if p.Code == http.StatusForbidden || p.Code == http.StatusNotFound || room.State() != Subscribed {
			room.MarkRejected(fmt.Errorf("%w: %s", ErrJoinRejected, p.Message))
		}

	case string(ws.EventNewMessage):
		var msg models.MessagePayload
		if err := json.Unmarshal(f.Payload, &msg); err != nil {
			c.log.Warn().Err(err).Msg("bad new-message payload")
			return
		}
		outcome = room.ApplyNewMessage(msg)

	case string(ws.EventMessageUpdated):
		var msg models.MessagePayload
		if err := json.Unmarshal(f.Payload, &msg); err != nil {
			c.log.Warn().Err(err).Msg("bad message-updated payload")
			return
		}
		outcome = room.ApplyMessageUpdated(msg)

	case string(ws.EventParticipantsUpdated):
		var p ws.ParticipantsPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			c.log.Warn().Err(err).Msg("bad participants-updated payload")
			return
		}
		outcome = room.ApplyParticipants(p.Participants)

	default:
		c.log.Debug().Str("type", f.Type).Msg("unknown frame type")
		return
	}

	if outcome != Applied {
		c.log.Debug().Str("type", f.Type).Stringer("outcome", outcome).Msg("event not applied")
		return
	}
	c.changed(f.ConversationID)
}

func (c *Client) writeControl(conn *websocket.Conn, frameType string, conversationID int64) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(ws.Frame{Type: frameType, ConversationID: conversationID})
}

func (c *Client) changed(conversationID int64) {
	if c.cfg.OnChange != nil {
		c.cfg.OnChange(conversationID)
	}
}
