// Package logstream consumes the bot's live log websocket, classifies each
// line and keeps the most recent entries in memory.
package logstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"botdash/internal/logclass"
	"botdash/internal/model"
)

// The job-control service always serves the log stream here.
const (
	Port = 8000
	Path = "/api/ws/logs"
)

// DefaultReconnectDelay is the pause between a dropped connection and the
// next dial.
const DefaultReconnectDelay = 3 * time.Second

// URLForHost returns the log stream address on host.
func URLForHost(host string) string {
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(Port)) + Path
}

// State is the connection state of a Client.
type State int32

// Connection states.
const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Conn is an open log stream connection.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens log stream connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type wsDialer struct {
	d *websocket.Dialer
}

func (w wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := w.d.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// Client keeps a connection to the log stream open, reconnecting after a
// fixed delay whenever it drops, and stores classified entries in a Buffer.
type Client struct {
	url    string
	dialer Dialer
	buf    *Buffer
	log    *slog.Logger
	delay  time.Duration
	now    func() time.Time

	state atomic.Int32

	mu      sync.Mutex
	conn    Conn
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool

	subMu  sync.Mutex
	subs   []entrySub
	nextID int

	stopOnce sync.Once
}

// New creates a Client for url using a websocket dialer.
func New(url string, log *slog.Logger) *Client {
	d := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	return NewWithDialer(url, wsDialer{d: d}, log)
}

// NewWithDialer creates a Client with a custom dialer (useful for testing).
func NewWithDialer(url string, dialer Dialer, log *slog.Logger) *Client {
	return &Client{
		url:    url,
		dialer: dialer,
		buf:    NewBuffer(DefaultCapacity),
		log:    log,
		delay:  DefaultReconnectDelay,
		now:    time.Now,
	}
}

// SetReconnectDelay overrides the default 3-second reconnect delay.
func (c *Client) SetReconnectDelay(d time.Duration) {
	c.delay = d
}

// URL returns the address the client connects to.
func (c *Client) URL() string {
	return c.url
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Connected reports whether the stream is currently live.
func (c *Client) Connected() bool {
	return c.State() == Connected
}

// Entries returns the buffered entries, newest first.
func (c *Client) Entries() []model.LogEntry {
	return c.buf.Entries()
}

// Clear empties the buffer. The connection is not affected.
func (c *Client) Clear() {
	c.buf.Clear()
}

type entrySub struct {
	id int
	fn func(model.LogEntry)
}

// Subscribe registers fn to be called for every accepted entry, in
// registration order. fn runs on the client's goroutine and must not block
// for long.
func (c *Client) Subscribe(fn func(model.LogEntry)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs = append(c.subs, entrySub{id: id, fn: fn})
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// Start launches the connection loop. Cancelling ctx closes the connection
// and ends the loop; Stop does the same and also waits for it. Start returns
// an error if the client was already started or stopped.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return errors.New("log stream client stopped")
	}
	if c.done != nil {
		return errors.New("log stream client already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx)
	return nil
}

// Stop closes the connection, cancels a pending reconnect and waits for the
// loop to exit. No dial or subscriber call happens after Stop returns.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		cancel, conn, done := c.cancel, c.conn, c.done
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			_ = conn.Close()
		}
		if done != nil {
			<-done
		}
		c.setState(Disconnected)
	})
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	for {
		if ctx.Err() != nil {
			return
		}

		c.setState(Connecting)
		conn, err := c.dialer.Dial(ctx, c.url)
		if err != nil {
			c.log.Debug("log stream dial", "url", c.url, "error", err)
		} else {
			if !c.attach(ctx, conn) {
				_ = conn.Close()
				return
			}
			c.setState(Connected)
			c.log.Info("log stream connected", "url", c.url)

			c.read(ctx, conn)

			c.detach()
			_ = conn.Close()
			c.log.Info("log stream disconnected", "url", c.url)
		}
		c.setState(Disconnected)

		timer := time.NewTimer(c.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Client) attach(ctx context.Context, conn Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || ctx.Err() != nil {
		return false
	}
	c.conn = conn
	return true
}

func (c *Client) detach() {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
}

func (c *Client) read(ctx context.Context, conn Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Debug("log stream read", "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.handle(data)
	}
}

type payload struct {
	Message string `json:"message"`
}

func (c *Client) handle(data []byte) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}

	entry, ok := logclass.Classify(p.Message)
	if !ok {
		return
	}
	entry.Timestamp = c.now()
	c.buf.Add(entry)

	c.subMu.Lock()
	subs := make([]entrySub, len(c.subs))
	copy(subs, c.subs)
	c.subMu.Unlock()

	for _, s := range subs {
		s.fn(entry)
	}
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}
