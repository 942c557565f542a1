// Package transport owns the duplex WebSocket channel to the event service:
// one connection per active session, exponential-backoff reconnect, and an
// observable connection state. The raw socket never leaks outside this
// package; consumers see envelopes and state changes through callbacks.
package transport

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/user/streamsync/internal/domain"
)

// Socket is the slice of a websocket connection the transport needs.
// *websocket.Conn satisfies it; tests substitute fakes.
type Socket interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// DialFunc opens a socket for a session. The default uses gorilla/websocket.
type DialFunc func(ctx context.Context, socketURL, sessionID string) (Socket, error)

// GorillaDial dials socketURL/{session_id} with the default dialer.
func GorillaDial(ctx context.Context, socketURL, sessionID string) (Socket, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, socketURL+"/"+sessionID, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Options configures a Conn.
type Options struct {
	SocketURL      string
	Dial           DialFunc
	Clock          clock.Clock
	Logger         *zap.SugaredLogger
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	MaxAttempts    int

	// OnEnvelope receives every decoded server event.
	OnEnvelope func(domain.Envelope)
	// OnState receives every connection state change.
	OnState func(domain.ConnState)
	// OnConnected fires after each successful (re)connect, before any live
	// envelope is delivered. The owner runs snapshot+replay here.
	OnConnected func(sessionID string)
}

// Conn manages the lifetime of one duplex connection per session.
type Conn struct {
	mu         sync.Mutex
	opts       Options
	clk        clock.Clock
	log        *zap.SugaredLogger
	state      domain.ConnState
	sessionID  string
	sock       Socket
	attempts   int
	generation uint64
	retryTimer *clock.Timer
}

func New(opts Options) *Conn {
	if opts.Dial == nil {
		opts.Dial = GorillaDial
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = 800 * time.Millisecond
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 8 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 8
	}
	return &Conn{
		opts:  opts,
		clk:   opts.Clock,
		log:   opts.Logger,
		state: domain.ConnIdle,
	}
}

// State returns the current connection state.
func (c *Conn) State() domain.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the session the transport is bound to, if any.
func (c *Conn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Connect binds the transport to a session and opens the channel. Connecting
// to the session it is already connected to is a no-op; connecting to a
// different session closes the old channel first without triggering the
// reconnect path.
func (c *Conn) Connect(sessionID string) {
	c.mu.Lock()
	if c.sessionID == sessionID && (c.state == domain.ConnConnected || c.state == domain.ConnConnecting) {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.sessionID = sessionID
	c.attempts = 0
	c.generation++
	gen := c.generation
	c.setStateLocked(domain.ConnConnecting)
	c.mu.Unlock()

	go c.dial(gen, sessionID)
}

// Close tears the channel down intentionally. No reconnect is attempted.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	c.sessionID = ""
	c.setStateLocked(domain.ConnIdle)
}

// Reconnect restarts the dial loop after the transport gave up (terminal
// error state). Callers use it for explicit user-requested retries.
func (c *Conn) Reconnect() {
	c.mu.Lock()
	session := c.sessionID
	if session == "" {
		c.mu.Unlock()
		return
	}
	c.attempts = 0
	c.generation++
	gen := c.generation
	c.setStateLocked(domain.ConnConnecting)
	c.mu.Unlock()

	go c.dial(gen, session)
}

// Send writes a frame to the channel. It reports false when the channel is
// not open or the write fails; a false result means the frame was not
// delivered and the caller must surface that.
func (c *Conn) Send(frame domain.Frame) bool {
	c.mu.Lock()
	sock := c.sock
	open := c.state == domain.ConnConnected && sock != nil
	c.mu.Unlock()
	if !open {
		return false
	}
	if err := sock.WriteJSON(frame); err != nil {
		c.log.Debugw("send failed", "kind", frame.Kind, "err", err)
		return false
	}
	return true
}

// teardownLocked invalidates in-flight dials and closes any open socket.
func (c *Conn) teardownLocked() {
	c.generation++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
}

func (c *Conn) setStateLocked(s domain.ConnState) {
	if c.state == s {
		return
	}
	c.state = s
	if c.opts.OnState != nil {
		go c.opts.OnState(s)
	}
}

func (c *Conn) dial(gen uint64, sessionID string) {
	sock, err := c.opts.Dial(context.Background(), c.opts.SocketURL, sessionID)

	c.mu.Lock()
	if gen != c.generation {
		// A newer Connect/Close superseded this attempt.
		c.mu.Unlock()
		if sock != nil {
			sock.Close()
		}
		return
	}
	if err != nil {
		c.log.Debugw("dial failed", "session_id", sessionID, "attempt", c.attempts+1, "err", err)
		c.scheduleRetryLocked(gen, sessionID)
		c.mu.Unlock()
		return
	}
	c.sock = sock
	c.attempts = 0
	c.setStateLocked(domain.ConnConnected)
	c.mu.Unlock()

	if c.opts.OnConnected != nil {
		c.opts.OnConnected(sessionID)
	}
	c.readLoop(gen, sessionID, sock)
}

// readLoop pumps envelopes until the socket fails. An unintentional failure
// enters the reconnect path; a superseded generation exits quietly.
func (c *Conn) readLoop(gen uint64, sessionID string, sock Socket) {
	for {
		var env domain.Envelope
		if err := sock.ReadJSON(&env); err != nil {
			c.mu.Lock()
			if gen != c.generation {
				c.mu.Unlock()
				return
			}
			c.log.Debugw("connection lost", "session_id", sessionID, "err", err)
			c.sock = nil
			c.scheduleRetryLocked(gen, sessionID)
			c.mu.Unlock()
			return
		}
		c.mu.Lock()
		stale := gen != c.generation
		c.mu.Unlock()
		if stale {
			return
		}
		if c.opts.OnEnvelope != nil {
			c.opts.OnEnvelope(env)
		}
	}
}

// scheduleRetryLocked arms the backoff timer for the next attempt, or gives
// up into the terminal error state once attempts are exhausted.
func (c *Conn) scheduleRetryLocked(gen uint64, sessionID string) {
	c.attempts++
	if c.attempts > c.opts.MaxAttempts {
		c.log.Debugw("reconnect attempts exhausted", "session_id", sessionID, "attempts", c.attempts-1)
		c.setStateLocked(domain.ConnError)
		return
	}
	c.setStateLocked(domain.ConnReconnecting)
	delay := c.backoffDelay(c.attempts)
	c.retryTimer = c.clk.AfterFunc(delay, func() {
		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		go c.dial(gen, sessionID)
	})
}

// backoffDelay returns initial * 2^(attempt-1), capped at the max.
func (c *Conn) backoffDelay(attempt int) time.Duration {
	d := float64(c.opts.BackoffInitial) * math.Pow(2, float64(attempt-1))
	if d > float64(c.opts.BackoffMax) {
		return c.opts.BackoffMax
	}
	return time.Duration(d)
}
