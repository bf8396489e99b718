package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Avicted/courier/internal/auth"
	"github.com/Avicted/courier/internal/inbox"
	"github.com/Avicted/courier/internal/logger"
	"github.com/Avicted/courier/internal/message"
	"github.com/Avicted/courier/internal/metrics"
	"github.com/Avicted/courier/internal/securelog"
	"github.com/Avicted/courier/internal/user"
	"github.com/Avicted/courier/internal/wire"
	"nhooyr.io/websocket"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

// Messenger is the part of message.Service the hub drives.
type Messenger interface {
	Send(ctx context.Context, from, to user.ID, content message.Content) (message.Message, error)
	MarkRead(ctx context.Context, owner, partner user.ID) error
	ListRecent(ctx context.Context, owner user.ID) ([]message.Message, error)
}

type Option func(*Hub)

func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = logger.OrDiscard(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithSendLimit bounds message.send frames per user.
func WithSendLimit(rps float64, burst int) Option {
	return func(h *Hub) { h.limiter = newLimiterPool(rps, burst) }
}

// Hub tracks connected sockets per user and fans server events out to them.
// It implements message.Publisher.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*Client]struct{}
	byUser  map[user.ID]map[*Client]struct{}

	messages Messenger
	limiter  *limiterPool
	logger   *slog.Logger
	metrics  *metrics.Metrics
	count    atomic.Int64
}

func NewHub(messages Messenger, opts ...Option) *Hub {
	h := &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		byUser:     make(map[user.ID]map[*Client]struct{}),
		messages:   messages,
		limiter:    newLimiterPool(0, 0),
		logger:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = metrics.New()
	}
	return h
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			clients := make([]*Client, 0, len(h.clients))
			for c := range h.clients {
				clients = append(clients, c)
			}
			h.mu.Unlock()
			for _, c := range clients {
				c.close(websocket.StatusGoingAway, "server shutdown")
			}
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			if h.remove(c) {
				c.close(websocket.StatusNormalClosure, "bye")
			}
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	if h.byUser[c.userID] == nil {
		h.byUser[c.userID] = make(map[*Client]struct{})
	}
	h.byUser[c.userID][c] = struct{}{}
	h.count.Add(1)
	h.metrics.Sockets.Inc()
}

func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	if clients := h.byUser[c.userID]; clients != nil {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.byUser, c.userID)
		}
	}
	h.count.Add(-1)
	h.metrics.Sockets.Dec()
	return true
}

// leave hands c to the Run loop unless the loop has already exited.
func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		c.close(websocket.StatusGoingAway, "server shutdown")
	}
}

func (h *Hub) ClientCount() int64 {
	return h.count.Load()
}

func (h *Hub) IsOnline(id user.ID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[id]) > 0
}

// HandleWS upgrades the request, sends the caller's inbox snapshot and then
// serves inbound frames until the socket closes.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	if h.messages == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	validator, ok := r.Context().Value(authValidatorKey{}).(tokenValidator)
	if !ok || validator == nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	session, err := authenticateRequest(r, validator)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	client := newClient(h, conn, ctx, cancel, session.UserID)

	select {
	case h.register <- client:
	case <-h.done:
		client.close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go client.writeLoop()
	if !h.sendSnapshot(ctx, client) {
		h.leave(client)
		return
	}
	client.readLoop()
}

// sendSnapshot queues the caller's recent conversations as one batch of added
// changes, followed by anything published while the snapshot was loading.
func (h *Hub) sendSnapshot(ctx context.Context, c *Client) bool {
	recent, err := h.messages.ListRecent(ctx, c.userID)
	if err != nil {
		securelog.Error(h.logger, "ws.snapshot", err)
		return false
	}
	changes := make([]wire.Change, 0, len(recent))
	for _, m := range recent {
		changes = append(changes, wire.Change{Kind: inbox.Added, Message: wire.FromMessage(m)})
	}
	data, err := json.Marshal(wire.ChangesFrame{Type: wire.TypeInboxChanges, Changes: changes})
	if err != nil {
		securelog.Error(h.logger, "ws.snapshot", err)
		return false
	}
	if !c.markReady(data) {
		h.metrics.FramesDropped.Inc()
		return false
	}
	return true
}

// PublishRecent pushes one inbox.changes frame to each affected owner.
func (h *Hub) PublishRecent(_ context.Context, changes []message.RecentChange) {
	var owners []user.ID
	grouped := make(map[user.ID][]wire.Change)
	for _, rc := range changes {
		if rc.Owner == "" {
			continue
		}
		change := wire.Change{Kind: inbox.Modified, Message: wire.FromMessage(rc.Message)}
		if rc.Created {
			change.Kind = inbox.Added
		}
		if _, ok := grouped[rc.Owner]; !ok {
			owners = append(owners, rc.Owner)
		}
		grouped[rc.Owner] = append(grouped[rc.Owner], change)
	}

	for _, owner := range owners {
		frame := wire.ChangesFrame{Type: wire.TypeInboxChanges, Changes: grouped[owner]}
		data, err := json.Marshal(frame)
		if err != nil {
			securelog.Error(h.logger, "ws.publish_recent", err)
			continue
		}
		h.broadcast(owner, data)
		for _, c := range frame.Changes {
			h.metrics.InboxChanges.WithLabelValues(string(c.Kind)).Inc()
		}
	}
}

// PublishMessage pushes a message.new frame to every socket of owner.
func (h *Hub) PublishMessage(_ context.Context, owner user.ID, msg message.Message) {
	data, err := json.Marshal(wire.MessageFrame{Type: wire.TypeMessageNew, Message: wire.FromMessage(msg)})
	if err != nil {
		securelog.Error(h.logger, "ws.publish_message", err)
		return
	}
	h.broadcast(owner, data)
}

func (h *Hub) broadcast(owner user.ID, data []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.byUser[owner]))
	for c := range h.byUser[owner] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.deliver(data) {
			h.evict(c)
		}
	}
}

// evict disconnects a socket that cannot keep up. The client resyncs from
// the snapshot on reconnect.
func (h *Hub) evict(c *Client) {
	h.metrics.FramesDropped.Inc()
	h.logger.Warn("dropping slow websocket client")
	go c.close(websocket.StatusTryAgainLater, "slow consumer")
}

func (h *Hub) handleIncoming(ctx context.Context, c *Client, data []byte) {
	typ, err := wire.PeekType(data)
	if err != nil {
		c.sendError(wire.CodeInvalidMessage, "malformed frame")
		return
	}
	switch typ {
	case wire.TypeMessageSend:
		h.handleSend(ctx, c, data)
	case wire.TypeMessageRead:
		h.handleRead(ctx, c, data)
	default:
		c.sendError(wire.CodeUnsupportedType, "unsupported message type")
	}
}

func (h *Hub) handleSend(ctx context.Context, c *Client, data []byte) {
	var frame wire.SendFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.sendError(wire.CodeInvalidMessage, "malformed frame")
		return
	}
	recipient := user.ID(strings.TrimSpace(frame.Recipient))
	if recipient == "" {
		c.sendError(wire.CodeInvalidMessage, "recipient is required")
		return
	}
	if !h.limiter.Allow(string(c.userID)) {
		h.metrics.SendsLimited.Inc()
		c.sendError(wire.CodeRateLimited, "too many messages")
		return
	}

	// The service publishes message.new to the sender, which doubles as the ack.
	if _, err := h.messages.Send(ctx, c.userID, recipient, frame.Content); err != nil {
		h.replyError(c, "ws.send", err)
		return
	}
	h.metrics.MessagesSent.Inc()
}

func (h *Hub) handleRead(ctx context.Context, c *Client, data []byte) {
	var frame wire.ReadFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.sendError(wire.CodeInvalidMessage, "malformed frame")
		return
	}
	partner := user.ID(strings.TrimSpace(frame.Partner))
	if partner == "" {
		c.sendError(wire.CodeInvalidMessage, "partner is required")
		return
	}
	if err := h.messages.MarkRead(ctx, c.userID, partner); err != nil {
		h.replyError(c, "ws.read", err)
	}
}

func (h *Hub) replyError(c *Client, op string, err error) {
	switch {
	case errors.Is(err, message.ErrInvalidInput):
		c.sendError(wire.CodeInvalidMessage, "invalid message")
	case errors.Is(err, message.ErrNotFound):
		c.sendError(wire.CodeNotFound, "recipient not found")
	default:
		securelog.Error(h.logger, op, err)
		c.sendError(wire.CodeServerError, "request failed")
	}
}

type Client struct {
	conn      *websocket.Conn
	hub       *Hub
	ctx       context.Context
	cancel    context.CancelFunc
	send      chan []byte
	closeOnce sync.Once
	userID    user.ID

	mu      sync.Mutex
	closed  bool
	ready   bool
	backlog [][]byte
}

func newClient(h *Hub, conn *websocket.Conn, ctx context.Context, cancel context.CancelFunc, id user.ID) *Client {
	return &Client{
		conn:   conn,
		hub:    h,
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, sendBuffer),
		userID: id,
	}
}

// Send queues a frame for this socket only, bypassing the snapshot backlog.
func (c *Client) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueue(msg)
}

// deliver queues a published frame. Until the snapshot has been queued,
// frames are held back so they cannot overtake it.
func (c *Client) deliver(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	if !c.ready {
		if len(c.backlog) >= sendBuffer {
			return false
		}
		c.backlog = append(c.backlog, msg)
		return true
	}
	return c.enqueue(msg)
}

func (c *Client) markReady(snapshot []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ok := c.enqueue(snapshot)
	for _, msg := range c.backlog {
		if !c.enqueue(msg) {
			ok = false
		}
	}
	c.backlog = nil
	c.ready = true
	return ok
}

// enqueue requires c.mu.
func (c *Client) enqueue(msg []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) readLoop() {
	defer c.hub.leave(c)

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if !isExpectedDisconnectError(err) {
				c.hub.logger.Debug("websocket read failed", "err", err)
			}
			return
		}
		c.hub.handleIncoming(c.ctx, c, data)
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				c.hub.leave(c)
				return
			}
		}
	}
}

func (c *Client) close(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		if c.conn != nil {
			_ = c.conn.Close(status, reason)
		}
	})
}

func (c *Client) sendEvent(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = c.Send(data)
}

func (c *Client) sendError(code, msg string) {
	c.sendEvent(wire.ErrorFrame{Type: wire.TypeError, Code: code, Message: msg})
}

func isExpectedDisconnectError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}

type tokenValidator interface {
	ValidateToken(token string) (auth.Session, error)
}

type authValidatorKey struct{}

func WithAuthValidator(next http.Handler, validator tokenValidator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), authValidatorKey{}, validator)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func authenticateRequest(r *http.Request, validator tokenValidator) (auth.Session, error) {
	if validator == nil {
		return auth.Session{}, auth.ErrUnauthorized
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return validator.ValidateToken(token)
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		return parseAuthHeader(header, validator)
	}
	return auth.Session{}, auth.ErrUnauthorized
}

func parseAuthHeader(header string, validator tokenValidator) (auth.Session, error) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return auth.Session{}, auth.ErrUnauthorized
	}
	return validator.ValidateToken(parts[1])
}
