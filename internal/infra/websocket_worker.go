package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrFatal marks a stream error that must not be retried. Handlers wrap
// authentication rejections with it; the worker then terminates instead of
// reconnecting forever with bad credentials.
var ErrFatal = errors.New("fatal stream error")

// SessionState tracks one stream session through its connection lifecycle.
type SessionState int32

const (
	SessionDisconnected SessionState = iota
	SessionConnecting
	SessionAuthenticating
	SessionSubscribing
	SessionStreaming
	SessionClosed // terminal: explicit shutdown or fatal error
)

func (s SessionState) String() string {
	switch s {
	case SessionDisconnected:
		return "DISCONNECTED"
	case SessionConnecting:
		return "CONNECTING"
	case SessionAuthenticating:
		return "AUTHENTICATING"
	case SessionSubscribing:
		return "SUBSCRIBING"
	case SessionStreaming:
		return "STREAMING"
	case SessionClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// StreamHandler defines venue-specific logic for the StreamWorker.
type StreamHandler interface {
	ID() string
	URL() string

	// Authenticate runs the venue auth handshake on a fresh connection.
	// Errors wrapped with ErrFatal terminate the session permanently.
	Authenticate(ctx context.Context, conn *websocket.Conn) error

	// Resubscribe replays the full current subscription set. Subscriptions
	// are never assumed to survive a reconnect.
	Resubscribe(ctx context.Context, conn *websocket.Conn) error

	OnMessage(ctx context.Context, msg []byte)
	OnPing(ctx context.Context, conn *websocket.Conn) error
}

// StreamWorker manages one logical subscription multiplexed over a physical
// websocket connection that can be replaced transparently. It handles
// reconnection with full-jitter exponential backoff, treats read silence as
// failure, and serializes writes.
type StreamWorker struct {
	handler StreamHandler
	backoff *Backoff

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	state atomic.Int32
	done  chan struct{}

	errMu sync.Mutex
	err   error

	// ReadTimeout is the heartbeat/silence limit: no frame, data or pong,
	// for this long forces a reconnect.
	ReadTimeout  time.Duration
	PingInterval time.Duration
	// Stability is the streaming time after which backoff resets to base.
	Stability time.Duration

	// OnStreaming fires on every entry to the Streaming state. The
	// reconciliation engine hooks this to schedule an immediate snapshot
	// pass after each reconnect.
	OnStreaming func()
}

// NewStreamWorker creates a worker for the given handler.
func NewStreamWorker(handler StreamHandler, backoff *Backoff) *StreamWorker {
	if backoff == nil {
		backoff = NewBackoff(0, 0)
	}
	return &StreamWorker{
		handler:      handler,
		backoff:      backoff,
		done:         make(chan struct{}),
		ReadTimeout:  30 * time.Second,
		PingInterval: 10 * time.Second,
		Stability:    60 * time.Second,
	}
}

// Start launches the connection loop.
func (w *StreamWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.runLoop(ctx)
}

// Stop shuts the session down and waits for the pump loop to exit.
func (w *StreamWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.close()
	w.wg.Wait()
}

// State returns the current session state.
func (w *StreamWorker) State() SessionState {
	return SessionState(w.state.Load())
}

// IsStreaming reports whether the session is live.
func (w *StreamWorker) IsStreaming() bool {
	return w.State() == SessionStreaming
}

// Done is closed when the session has terminated (shutdown or fatal error).
func (w *StreamWorker) Done() <-chan struct{} {
	return w.done
}

// Err returns the terminal error, if any. Connection-level failures are
// handled by the reconnect loop and never show up here; only fatal
// (authentication) errors do.
func (w *StreamWorker) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

func (w *StreamWorker) setErr(err error) {
	w.errMu.Lock()
	w.err = err
	w.errMu.Unlock()
}

func (w *StreamWorker) setState(s SessionState) {
	w.state.Store(int32(s))
}

func (w *StreamWorker) runLoop(ctx context.Context) {
	defer w.wg.Done()
	defer close(w.done)
	defer w.setState(SessionClosed)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.setState(SessionConnecting)
		conn, err := w.dial(ctx)
		if err != nil {
			w.setState(SessionDisconnected)
			if !w.waitRetry(ctx, "dial", err) {
				return
			}
			continue
		}

		// A pong is a server heartbeat: it pushes the silence limit forward
		// so a healthy-but-quiet stream is not torn down every ReadTimeout.
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		})

		w.mu.Lock()
		w.conn = conn
		w.mu.Unlock()

		w.setState(SessionAuthenticating)
		if err := w.handler.Authenticate(ctx, conn); err != nil {
			w.close()
			if errors.Is(err, ErrFatal) {
				slog.Error("Stream authentication failed, terminating session",
					"id", w.handler.ID(), "err", err)
				w.setErr(err)
				return
			}
			w.setState(SessionDisconnected)
			if !w.waitRetry(ctx, "auth", err) {
				return
			}
			continue
		}

		w.setState(SessionSubscribing)
		if err := w.handler.Resubscribe(ctx, conn); err != nil {
			w.close()
			w.setState(SessionDisconnected)
			if !w.waitRetry(ctx, "subscribe", err) {
				return
			}
			continue
		}

		w.setState(SessionStreaming)
		slog.Info("Stream connected", "id", w.handler.ID())
		if w.OnStreaming != nil {
			w.OnStreaming()
		}

		started := time.Now()
		pingCtx, stopPing := context.WithCancel(ctx)
		if w.PingInterval > 0 {
			go w.pingLoop(pingCtx)
		}

		w.process(ctx)
		stopPing()
		w.setState(SessionDisconnected)

		// A sustained streaming period means the outage was fresh; start
		// the backoff ladder over from base.
		if time.Since(started) >= w.Stability {
			w.backoff.Reset()
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
		if !w.waitRetry(ctx, "stream", nil) {
			return
		}
	}
}

func (w *StreamWorker) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.handler.URL(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", w.handler.URL(), err)
	}
	return conn, nil
}

// waitRetry sleeps for the next backoff delay. Returns false if the context
// was cancelled while waiting.
func (w *StreamWorker) waitRetry(ctx context.Context, phase string, err error) bool {
	delay := w.backoff.Next()
	slog.Warn("Stream reconnecting",
		"id", w.handler.ID(),
		"phase", phase,
		"attempt", w.backoff.Attempt(),
		"delay", delay,
		"err", err)

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// process pumps messages until the connection dies or goes silent past
// ReadTimeout. Silence is treated as failure, not success.
func (w *StreamWorker) process(ctx context.Context) {
	for {
		w.mu.RLock()
		c := w.conn
		w.mu.RUnlock()
		if c == nil {
			return
		}

		if err := c.SetReadDeadline(time.Now().Add(w.ReadTimeout)); err != nil {
			slog.Warn("Stream deadline error", "id", w.handler.ID(), "err", err)
			w.close()
			return
		}
		_, msg, err := c.ReadMessage()
		if err != nil {
			slog.Warn("Stream read error", "id", w.handler.ID(), "err", err)
			w.close()
			return
		}

		w.handler.OnMessage(ctx, msg)
	}
}

func (w *StreamWorker) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(w.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.RLock()
			c := w.conn
			w.mu.RUnlock()
			if c == nil {
				return
			}
			if err := w.handler.OnPing(ctx, c); err != nil {
				slog.Warn("Stream ping error", "id", w.handler.ID(), "err", err)
				w.close()
				return
			}
		}
	}
}

// Write sends a frame on the live connection. Used for incremental
// subscription updates while streaming.
func (w *StreamWorker) Write(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	c := w.conn
	w.mu.RUnlock()

	if c == nil {
		return fmt.Errorf("stream not connected")
	}
	return c.WriteMessage(msgType, data)
}

func (w *StreamWorker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}
