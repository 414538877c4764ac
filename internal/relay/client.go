// Package relay publishes game events to an external relay over HTTP or WebSocket.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/chess-autopilot/pkg/chessdto"
)

// HeaderProvider injects per-request headers.
type HeaderProvider func() map[string]string

type retryPolicy struct {
	attempts int
	base     time.Duration
	ceiling  time.Duration
}

// delay doubles from base per attempt; a server Retry-After wins but is
// still capped.
func (p retryPolicy) delay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return min(retryAfter, p.ceiling)
	}
	attempt = min(max(attempt, 1), 16)
	d := p.base << (attempt - 1)
	if d <= 0 || d > p.ceiling {
		return p.ceiling
	}
	return d
}

// Client posts events to the relay's REST endpoint.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider
	timeout time.Duration
	retry   retryPolicy
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

// WithRetry sets the total number of attempts for event posts.
func WithRetry(attempts int) Option {
	return func(c *Client) { c.retry.attempts = attempts }
}

// WithDial replaces the TCP dialer, e.g. with an in-memory listener.
func WithDial(dial func(addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &fasthttp.Client{
			Name:            "chess-autopilot",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			MaxConnsPerHost: 4,
		},
		timeout: 5 * time.Second,
		retry:   retryPolicy{attempts: 3, base: 100 * time.Millisecond, ceiling: 3200 * time.Millisecond},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type call struct {
	method string
	path   string
	body   []byte
	out    any
	retry  bool
}

func (c *Client) Publish(ctx context.Context, ev *chessdto.GameEvent) (*chessdto.Ack, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	var ack chessdto.Ack
	if err := c.do(ctx, call{method: fasthttp.MethodPost, path: "/events", body: body, out: &ack, retry: true}); err != nil {
		return nil, err
	}
	return &ack, nil
}

// Health checks that the relay answers on /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, call{method: fasthttp.MethodGet, path: "/healthz"})
}

func (c *Client) do(ctx context.Context, cl call) error {
	attempts := 1
	if cl.retry {
		attempts = max(c.retry.attempts, 1)
	}
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait, retryable, err := c.once(ctx, cl)
		if err == nil || !retryable || attempt >= attempts {
			return err
		}
		if serr := sleepContext(ctx, c.retry.delay(attempt, wait)); serr != nil {
			return err
		}
	}
}

// once performs a single exchange. Transport failures and 429/5xx answers
// are retryable; everything else is final.
func (c *Client) once(ctx context.Context, cl call) (retryAfter time.Duration, retryable bool, err error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(cl.method)
	req.SetRequestURI(c.baseURL + cl.path)
	if cl.body != nil {
		req.Header.SetContentType("application/json")
		req.SetBodyRaw(cl.body)
	}
	if c.headers != nil {
		for k, v := range c.headers() {
			if k = strings.TrimSpace(k); k != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

	if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return 0, true, fmt.Errorf("relay %s %s: %w", cl.method, cl.path, err)
	}
	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		rerr := &chessdto.RelayError{Status: status, Body: clip(string(resp.Body()), 512), Retryable: retryableStatus(status)}
		return retryAfterHeader(resp), rerr.Retryable, rerr
	}
	if cl.out != nil && len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), cl.out); err != nil {
			return 0, false, fmt.Errorf("decode relay response: %w", err)
		}
	}
	return 0, false, nil
}

func (c *Client) deadline(ctx context.Context) time.Time {
	own := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(own) {
		return dl
	}
	return own
}

func retryableStatus(code int) bool {
	switch code {
	case fasthttp.StatusTooManyRequests,
		fasthttp.StatusInternalServerError,
		fasthttp.StatusBadGateway,
		fasthttp.StatusServiceUnavailable,
		fasthttp.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryAfterHeader reads the delta-seconds form; HTTP dates are ignored.
func retryAfterHeader(resp *fasthttp.Response) time.Duration {
	v := strings.TrimSpace(string(resp.Header.Peek("Retry-After")))
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
