package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-autopilot/pkg/chessdto"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

var errNotConnected = errors.New("ws not connected")

var redialPolicy = retryPolicy{base: 100 * time.Millisecond, ceiling: 3200 * time.Millisecond}

// WebSocket keeps one relay connection open, pinging it and redialling
// with backoff when it drops.
type WebSocket struct {
	url     string
	headers HeaderProvider
	logger  *zap.Logger

	mu    sync.RWMutex
	conn  *websocket.Conn
	state State
	acks  int

	writeMu sync.Mutex

	maxReconnect int
	pingInterval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewWebSocket(url string, maxReconnect int, logger *zap.Logger) *WebSocket {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocket{
		url:          url,
		logger:       logger,
		maxReconnect: maxReconnect,
		pingInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
		rootCtx:      ctx,
		rootCancel:   cancel,
	}
}

func (ws *WebSocket) SetHeaderProvider(h HeaderProvider) { ws.headers = h }

func (ws *WebSocket) State() State {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.state
}

// Acks returns how many acknowledgements the relay has sent back.
func (ws *WebSocket) Acks() int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.acks
}

func (ws *WebSocket) setState(s State) {
	ws.mu.Lock()
	prev := ws.state
	ws.state = s
	ws.mu.Unlock()
	if prev != s {
		ws.logger.Debug("relay_ws_state", zap.String("from", prev.String()), zap.String("to", s.String()))
	}
}

func (ws *WebSocket) Connect(ctx context.Context) error {
	if st := ws.State(); st == StateConnected || st == StateConnecting {
		return nil
	}
	ws.setState(StateConnecting)
	if err := ws.dial(ctx); err != nil {
		ws.setState(StateFailed)
		ws.scheduleReconnect()
		return err
	}
	return nil
}

func (ws *WebSocket) dial(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, ws.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      ws.buildHeaders(),
	})
	if err != nil {
		return err
	}
	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()
	ws.setState(StateConnected)

	ws.wg.Add(2)
	go ws.listen(conn)
	go ws.pingLoop(conn)
	return nil
}

// Send writes v as one JSON frame.
func (ws *WebSocket) Send(ctx context.Context, v any) error {
	ws.mu.RLock()
	conn, state := ws.conn, ws.state
	ws.mu.RUnlock()
	if conn == nil || state != StateConnected {
		return errNotConnected
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	return wsjson.Write(ctx, conn, v)
}

func (ws *WebSocket) listen(conn *websocket.Conn) {
	defer ws.wg.Done()
	for {
		var ack chessdto.Ack
		if err := wsjson.Read(ws.rootCtx, conn, &ack); err != nil {
			if ws.isStopping() {
				return
			}
			ws.drop(conn, "read failure")
			return
		}
		if ack.Accepted {
			ws.mu.Lock()
			ws.acks++
			ws.mu.Unlock()
		}
	}
}

func (ws *WebSocket) pingLoop(conn *websocket.Conn) {
	defer ws.wg.Done()
	t := time.NewTicker(ws.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ws.stopCh:
			return
		case <-ws.rootCtx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(ws.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				ws.drop(conn, "ping failure")
				return
			}
		}
	}
}

// drop closes conn if it is still the current one and starts redialling.
func (ws *WebSocket) drop(conn *websocket.Conn, reason string) {
	ws.mu.Lock()
	current := ws.conn == conn
	if current {
		ws.conn = nil
	}
	ws.mu.Unlock()
	if !current {
		return
	}
	_ = conn.Close(websocket.StatusGoingAway, reason)
	ws.logger.Warn("relay_ws_dropped", zap.String("reason", reason))
	ws.setState(StateDisconnected)
	ws.scheduleReconnect()
}

func (ws *WebSocket) scheduleReconnect() {
	if ws.maxReconnect <= 0 || ws.isStopping() {
		return
	}
	ws.setState(StateReconnecting)
	go func() {
		for attempt := 1; attempt <= ws.maxReconnect; attempt++ {
			select {
			case <-ws.stopCh:
				return
			case <-time.After(redialPolicy.delay(attempt, 0)):
			}
			if err := ws.dial(ws.rootCtx); err == nil {
				return
			}
		}
		ws.setState(StateFailed)
	}()
}

func (ws *WebSocket) Close(ctx context.Context) error {
	ws.stopOnce.Do(func() { close(ws.stopCh) })
	ws.mu.Lock()
	conn := ws.conn
	ws.conn = nil
	ws.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}
	ws.rootCancel()

	done := make(chan struct{})
	go func() {
		ws.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		ws.setState(StateDisconnected)
		return nil
	}
}

func (ws *WebSocket) isStopping() bool {
	select {
	case <-ws.stopCh:
		return true
	default:
		return false
	}
}

func (ws *WebSocket) buildHeaders() http.Header {
	hdr := http.Header{}
	if ws.headers == nil {
		return hdr
	}
	for k, v := range ws.headers() {
		if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
			hdr.Set(k, v)
		}
	}
	return hdr
}
