package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-autopilot/internal/testutil"
	"github.com/park285/chess-autopilot/pkg/chessdto"
)

func serveInMemory(t *testing.T, h fasthttp.RequestHandler) *fasthttputil.InmemoryListener {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = fasthttp.Serve(ln, h) }()
	t.Cleanup(func() { _ = ln.Close() })
	return ln
}

func newInMemoryClient(ln *fasthttputil.InmemoryListener, opts ...Option) *Client {
	opts = append(opts, WithDial(func(string) (net.Conn, error) { return ln.Dial() }))
	return NewClient("http://relay.test/", opts...)
}

func TestPublish_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	var got chessdto.GameEvent
	ln := serveInMemory(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != "/events" || string(ctx.Request.Header.Peek("X-Relay-Token")) != "tok" {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		if calls.Add(1) < 3 {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			return
		}
		_ = json.Unmarshal(ctx.PostBody(), &got)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"accepted":true,"id":"ev-1"}`)
	})

	c := newInMemoryClient(ln, WithRetry(3), WithHeaderProvider(func() map[string]string {
		return map[string]string{"X-Relay-Token": "tok", "": "ignored"}
	}))
	ack, err := c.Publish(context.Background(), &chessdto.GameEvent{Type: chessdto.EventHalfMove, SessionUUID: "s1", MoveSAN: "e4"})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ack, &chessdto.Ack{Accepted: true, ID: "ev-1"})
	testutil.AssertEqual(t, int(calls.Load()), 3)
	testutil.AssertEqual(t, got.MoveSAN, "e4")
}

func TestPublish_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	ln := serveInMemory(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetBodyString("bad channel")
	})
	_, err := newInMemoryClient(ln).Publish(context.Background(), &chessdto.GameEvent{Type: chessdto.EventGameStarted})
	var rerr *chessdto.RelayError
	if !errors.As(err, &rerr) || rerr.Status != 400 || rerr.Retryable {
		t.Fatalf("err = %v", err)
	}
	testutil.AssertEqual(t, int(calls.Load()), 1)
}

func TestHealth(t *testing.T) {
	ln := serveInMemory(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == "/healthz" {
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	})
	testutil.AssertNoError(t, newInMemoryClient(ln).Health(context.Background()))
}

func TestRetryPolicyDelay(t *testing.T) {
	p := retryPolicy{attempts: 3, base: 100 * time.Millisecond, ceiling: 3200 * time.Millisecond}
	cases := []struct {
		attempt    int
		retryAfter time.Duration
		want       time.Duration
	}{
		{0, 0, 100 * time.Millisecond},
		{1, 0, 100 * time.Millisecond},
		{3, 0, 400 * time.Millisecond},
		{10, 0, 3200 * time.Millisecond},
		{64, 0, 3200 * time.Millisecond},
		{1, 2 * time.Second, 2 * time.Second},
		{1, time.Minute, 3200 * time.Millisecond},
	}
	for _, tc := range cases {
		testutil.AssertEqual(t, p.delay(tc.attempt, tc.retryAfter), tc.want, "attempt %d retry-after %s", tc.attempt, tc.retryAfter)
	}
}

func TestPublish_HonoursRetryAfter(t *testing.T) {
	var calls atomic.Int32
	ln := serveInMemory(t, func(ctx *fasthttp.RequestCtx) {
		if calls.Add(1) == 1 {
			ctx.Response.Header.Set("Retry-After", "1")
			ctx.SetStatusCode(fasthttp.StatusTooManyRequests)
			return
		}
		ctx.SetBodyString(`{"accepted":true}`)
	})
	start := time.Now()
	_, err := newInMemoryClient(ln, WithRetry(2)).Publish(context.Background(), &chessdto.GameEvent{Type: chessdto.EventGameEnded})
	testutil.AssertNoError(t, err)
	if waited := time.Since(start); waited < time.Second {
		t.Fatalf("retried after %s, want at least 1s", waited)
	}
	testutil.AssertEqual(t, int(calls.Load()), 2)
}

type wsRelay struct {
	mu     sync.Mutex
	events []chessdto.GameEvent
	got    chan struct{}
}

func (r *wsRelay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	for {
		var ev chessdto.GameEvent
		if err := wsjson.Read(req.Context(), conn, &ev); err != nil {
			return
		}
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
		_ = wsjson.Write(req.Context(), conn, chessdto.Ack{Accepted: true})
		r.got <- struct{}{}
	}
}

func TestWebSocketPublisher(t *testing.T) {
	relay := &wsRelay{got: make(chan struct{}, 4)}
	srv := httptest.NewServer(relay)
	defer srv.Close()

	ws := NewWebSocket("ws"+strings.TrimPrefix(srv.URL, "http"), 0, nil)
	testutil.AssertNoError(t, ws.Connect(context.Background()))
	defer ws.Close(context.Background())
	testutil.AssertEqual(t, ws.State(), StateConnected)

	pub := NewPublisher(ModeAuto, false, NewClient("http://unused.invalid"), ws, nil)
	testutil.AssertNoError(t, pub.Publish(context.Background(), &chessdto.GameEvent{Type: chessdto.EventGameEnded, Verdict: "checkmate"}))

	select {
	case <-relay.got:
	case <-time.After(2 * time.Second):
		t.Fatal("relay never received the event")
	}
	relay.mu.Lock()
	defer relay.mu.Unlock()
	testutil.AssertEqual(t, relay.events[0].Verdict, "checkmate")
}

func TestAutoPublisher_FallsBackToHTTP(t *testing.T) {
	var calls atomic.Int32
	ln := serveInMemory(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		ctx.SetBodyString(`{"accepted":true}`)
	})
	ws := NewWebSocket("ws://127.0.0.1:1/never", 0, nil)
	pub := NewPublisher(ModeAuto, false, newInMemoryClient(ln), ws, nil)
	testutil.AssertNoError(t, pub.Publish(context.Background(), &chessdto.GameEvent{Type: chessdto.EventHalfMove}))
	testutil.AssertEqual(t, int(calls.Load()), 1)

	if err := NewPublisher(ModeWS, false, nil, ws, nil).Publish(context.Background(), &chessdto.GameEvent{}); !errors.Is(err, errNotConnected) {
		t.Fatalf("ws publish err = %v", err)
	}
}

func TestDryrunPublishesNothing(t *testing.T) {
	pub := NewPublisher(ModeHTTP, true, nil, nil, nil)
	testutil.AssertNoError(t, pub.Publish(context.Background(), &chessdto.GameEvent{Type: chessdto.EventDesync}))
}
