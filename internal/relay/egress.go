package relay

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/pkg/chessdto"
)

// Publisher sends one event to the relay.
type Publisher interface {
	Publish(ctx context.Context, ev *chessdto.GameEvent) error
}

const (
	ModeHTTP = "http"
	ModeWS   = "ws"
	ModeAuto = "auto"
)

// NewPublisher picks the transport. Auto prefers the WebSocket while it is
// connected and falls back to HTTP once per event. Dry-run logs instead
// of sending.
func NewPublisher(mode string, dryrun bool, c *Client, ws *WebSocket, logger *zap.Logger) Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dryrun {
		return &dryrunPublisher{logger: logger}
	}
	switch mode {
	case ModeWS:
		return &wsPublisher{ws: ws}
	case ModeAuto:
		return &autoPublisher{ws: &wsPublisher{ws: ws}, http: &httpPublisher{c: c}, logger: logger}
	default:
		return &httpPublisher{c: c}
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, *chessdto.GameEvent) error { return nil }

type httpPublisher struct{ c *Client }

func (h *httpPublisher) Publish(ctx context.Context, ev *chessdto.GameEvent) error {
	if h == nil || h.c == nil {
		return errors.New("http relay not available")
	}
	_, err := h.c.Publish(ctx, ev)
	return err
}

type wsPublisher struct{ ws *WebSocket }

func (w *wsPublisher) connected() bool {
	return w != nil && w.ws != nil && w.ws.State() == StateConnected
}

func (w *wsPublisher) Publish(ctx context.Context, ev *chessdto.GameEvent) error {
	if w == nil || w.ws == nil {
		return errors.New("ws relay not available")
	}
	return w.ws.Send(ctx, ev)
}

type autoPublisher struct {
	ws     *wsPublisher
	http   *httpPublisher
	logger *zap.Logger
}

func (a *autoPublisher) Publish(ctx context.Context, ev *chessdto.GameEvent) error {
	if a.ws.connected() {
		err := a.ws.Publish(ctx, ev)
		if err == nil {
			return nil
		}
		a.logger.Warn("relay_fallback", zap.String("type", string(ev.Type)), zap.Error(err))
	}
	return a.http.Publish(ctx, ev)
}

type dryrunPublisher struct{ logger *zap.Logger }

func (d *dryrunPublisher) Publish(_ context.Context, ev *chessdto.GameEvent) error {
	d.logger.Info("relay_dryrun",
		zap.String("type", string(ev.Type)),
		zap.String("session", ev.SessionUUID),
		zap.String("text", ev.Text),
		zap.Bool("image", ev.Image != ""),
	)
	return nil
}
