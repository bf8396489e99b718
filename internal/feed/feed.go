// Package feed is the client side of the /ws socket. It turns server frames
// into inbox change batches and reconnects with exponential backoff when the
// connection drops.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Avicted/courier/internal/inbox"
	"github.com/Avicted/courier/internal/logger"
	"github.com/Avicted/courier/internal/message"
	"github.com/Avicted/courier/internal/user"
	"github.com/Avicted/courier/internal/wire"
	"github.com/cenkalti/backoff/v4"
	"github.com/qmuntal/stateless"
	"nhooyr.io/websocket"
)

const (
	writeTimeout    = 5 * time.Second
	messageBuffer   = 64
	errorBuffer     = 16
	defaultInitial  = 500 * time.Millisecond
	defaultMaxDelay = 30 * time.Second
)

var (
	ErrUnauthorized      = errors.New("feed: unauthorized")
	ErrNotConnected      = errors.New("feed: not connected")
	ErrAlreadySubscribed = errors.New("feed: already subscribed")
)

// ServerError is an error frame pushed by the server.
type ServerError struct {
	Code    string
	Message string
}

func (e ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = logger.OrDiscard(l) }
}

// WithReconnect sets the first and the largest delay between reconnect
// attempts.
func WithReconnect(initial, max time.Duration) Option {
	return func(c *Client) {
		if initial > 0 {
			c.initial = initial
		}
		if max >= c.initial {
			c.max = max
		}
	}
}

// WithStateListener is called after every connection state change.
func WithStateListener(fn func(State)) Option {
	return func(c *Client) { c.onState = fn }
}

// Client implements inbox.ChangeSource over the server websocket. It also
// carries the outbound message.send and message.read frames.
type Client struct {
	wsURL   string
	logger  *slog.Logger
	initial time.Duration
	max     time.Duration
	onState func(State)
	fsm     *stateless.StateMachine

	messages chan message.Message
	errs     chan error

	mu         sync.Mutex
	conn       *websocket.Conn
	subscribed bool
}

func New(serverURL, token string, opts ...Option) *Client {
	c := &Client{
		wsURL:    websocketURL(serverURL, token),
		logger:   logger.Discard(),
		initial:  defaultInitial,
		max:      defaultMaxDelay,
		messages: make(chan message.Message, messageBuffer),
		errs:     make(chan error, errorBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.fsm = newStateMachine(c)
	return c
}

func websocketURL(serverURL, token string) string {
	wsURL := strings.TrimRight(serverURL, "/")
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	return wsURL + "/ws?token=" + url.QueryEscape(token)
}

// State reports the current connection state.
func (c *Client) State() State {
	return c.fsm.MustState().(State)
}

// Messages streams message.new frames for the open conversation view.
// Frames are dropped when nobody reads them.
func (c *Client) Messages() <-chan message.Message {
	return c.messages
}

// Errors streams error frames sent by the server, as ServerError values.
func (c *Client) Errors() <-chan error {
	return c.errs
}

// Subscribe dials the server and returns the change stream. The first dial is
// synchronous so bad credentials surface here; later drops are retried in the
// background until the stream is closed or ctx ends.
func (c *Client) Subscribe(ctx context.Context) (inbox.Stream, error) {
	c.mu.Lock()
	if c.subscribed {
		c.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}
	c.subscribed = true
	c.mu.Unlock()

	c.fire(triggerDial)
	conn, err := c.dial(ctx)
	if err != nil {
		c.fire(triggerAbort)
		c.mu.Lock()
		c.subscribed = false
		c.mu.Unlock()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &stream{
		batches: make(chan []inbox.ChangeEvent),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.run(runCtx, conn, s)
	return s, nil
}

func (c *Client) run(ctx context.Context, conn *websocket.Conn, s *stream) {
	defer func() {
		c.setConn(nil)
		c.fire(triggerClose)
		c.mu.Lock()
		c.subscribed = false
		c.mu.Unlock()
		close(s.batches)
		close(s.done)
	}()

	for {
		c.setConn(conn)
		c.fire(triggerConnected)
		err := c.readLoop(ctx, conn, s.batches)
		c.setConn(nil)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
		if ctx.Err() != nil {
			return
		}
		c.logger.Info("feed connection lost", "err", err)
		c.fire(triggerDropped)

		conn, err = c.reconnect(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				c.logger.Warn("feed giving up", "err", err)
			}
			return
		}
	}
}

func (c *Client) reconnect(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.MaxInterval = c.max
	b.MaxElapsedTime = 0

	var conn *websocket.Conn
	op := func() error {
		c.fire(triggerRetry)
		next, err := c.dial(ctx)
		if err != nil {
			c.fire(triggerFailed)
			if errors.Is(err, ErrUnauthorized) {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = next
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("feed reconnect failed", "err", err, "retry_in", wait)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := websocket.Dial(ctx, c.wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- []inbox.ChangeEvent) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		typ, err := wire.PeekType(data)
		if err != nil {
			c.logger.Debug("feed skipped undecodable frame")
			continue
		}
		switch typ {
		case wire.TypeInboxChanges:
			var frame wire.ChangesFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				c.logger.Debug("feed skipped undecodable changes frame")
				continue
			}
			select {
			case out <- frame.Events():
			case <-ctx.Done():
				return ctx.Err()
			}
		case wire.TypeMessageNew:
			var frame wire.MessageFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			select {
			case c.messages <- frame.Message.ToMessage():
			default:
				c.logger.Debug("feed dropped message frame")
			}
		case wire.TypeError:
			var frame wire.ErrorFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			select {
			case c.errs <- ServerError{Code: frame.Code, Message: frame.Message}:
			default:
			}
		default:
			c.logger.Debug("feed ignored frame", "type", typ)
		}
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// Send asks the server to deliver content to recipient. The stored message
// comes back as a message.new frame and an inbox change.
func (c *Client) Send(ctx context.Context, recipient user.ID, content message.Content) error {
	if recipient == "" {
		return message.ErrInvalidInput
	}
	if err := content.Validate(); err != nil {
		return err
	}
	return c.write(ctx, wire.SendFrame{Type: wire.TypeMessageSend, Recipient: string(recipient), Content: content})
}

func (c *Client) MarkRead(ctx context.Context, partner user.ID) error {
	if partner == "" {
		return message.ErrInvalidInput
	}
	return c.write(ctx, wire.ReadFrame{Type: wire.TypeMessageRead, Partner: string(partner)})
}

func (c *Client) write(ctx context.Context, frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

func (c *Client) fire(t trigger) {
	if err := c.fsm.Fire(t); err != nil {
		c.logger.Debug("feed transition rejected", "trigger", t, "state", c.fsm.MustState(), "err", err)
	}
}

type stream struct {
	batches chan []inbox.ChangeEvent
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func (s *stream) Batches() <-chan []inbox.ChangeEvent {
	return s.batches
}

// Close stops reconnecting and waits for the reader to exit.
func (s *stream) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}
