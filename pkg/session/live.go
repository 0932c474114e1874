package session

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"worklink/pkg/domain"
)

// ConnState is the live channel connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// BackoffConfig bounds the reconnect schedule. Delays double from Initial up
// to Max, with jitter so a fleet of clients does not reconnect in lockstep.
type BackoffConfig struct {
	Initial time.Duration
	Max     time.Duration
}

func (b BackoffConfig) withDefaults() BackoffConfig {
	if b.Initial <= 0 {
		b.Initial = time.Second
	}
	if b.Max <= 0 {
		b.Max = 30 * time.Second
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	return b
}

// delay returns the jittered delay for the given attempt (0-based): half of
// the capped exponential step plus a random half, so the result stays within
// (step/2, step].
func (b BackoffConfig) delay(attempt int) time.Duration {
	step := b.Initial
	for i := 0; i < attempt && step < b.Max; i++ {
		step *= 2
	}
	if step > b.Max {
		step = b.Max
	}
	half := step / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// liveChannel maintains the websocket subscription for a session, redialing
// with capped exponential backoff whenever the connection drops.
type liveChannel struct {
	wsURL       string
	token       string
	backoff     BackoffConfig
	logger      *slog.Logger
	onEvent     func(*domain.LiveEvent)
	onReconnect func()

	mu    sync.RWMutex
	state ConnState

	cancel context.CancelFunc
	done   chan struct{}
}

func newLiveChannel(baseURL, token string, backoff BackoffConfig, logger *slog.Logger, onEvent func(*domain.LiveEvent), onReconnect func()) *liveChannel {
	return &liveChannel{
		wsURL:       wsEndpoint(baseURL),
		token:       token,
		backoff:     backoff.withDefaults(),
		logger:      logger,
		onEvent:     onEvent,
		onReconnect: onReconnect,
		state:       StateDisconnected,
	}
}

func wsEndpoint(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/api/ws"
}

func (l *liveChannel) setState(s ConnState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// State reports the current connection state.
func (l *liveChannel) State() ConnState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// start launches the connect loop. It returns immediately; the loop runs
// until ctx is cancelled or stop is called.
func (l *liveChannel) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx)
}

// stop tears the channel down: the socket closes and any pending reconnect
// timer is cancelled. Blocks until the loop has exited.
func (l *liveChannel) stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
}

func (l *liveChannel) run(ctx context.Context) {
	defer close(l.done)
	defer l.setState(StateDisconnected)

	attempt := 0
	connectedBefore := false
	for {
		if ctx.Err() != nil {
			return
		}
		l.setState(StateConnecting)
		conn, err := l.dial(ctx)
		if err != nil {
			l.setState(StateDisconnected)
			if ctx.Err() != nil {
				return
			}
			delay := l.backoff.delay(attempt)
			attempt++
			l.logger.Debug("live dial failed", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		l.setState(StateConnected)
		attempt = 0
		if connectedBefore && l.onReconnect != nil {
			// The channel only carries events created while connected, so the
			// caller must re-fetch to cover the gap.
			l.onReconnect()
		}
		connectedBefore = true

		l.read(ctx, conn)
		l.setState(StateDisconnected)
	}
}

func (l *liveChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+l.token)
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, l.wsURL, &websocket.DialOptions{HTTPHeader: header})
	return conn, err
}

func (l *liveChannel) read(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close(websocket.StatusNormalClosure, "")
	for {
		var event domain.LiveEvent
		if err := wsjson.Read(ctx, conn, &event); err != nil {
			if ctx.Err() == nil {
				l.logger.Debug("live channel dropped", "error", err)
			}
			return
		}
		if l.onEvent != nil {
			l.onEvent(&event)
		}
	}
}
