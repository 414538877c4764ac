package autopilot

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/board"
	"github.com/park285/chess-autopilot/internal/domain"
	"github.com/park285/chess-autopilot/internal/geometry"
	"github.com/park285/chess-autopilot/internal/history"
	"github.com/park285/chess-autopilot/internal/msgcat"
	"github.com/park285/chess-autopilot/internal/relay"
	"github.com/park285/chess-autopilot/internal/render"
	"github.com/park285/chess-autopilot/pkg/chessdto"
)

// Observer is told about game progress. Observers never fail the game:
// they log their own errors.
type Observer interface {
	GameStarted(ctx context.Context, s *Session, m *board.Model)
	HalfMove(ctx context.Context, s *Session, m *board.Model, rec board.Record, own bool)
	GameEnded(ctx context.Context, s *Session, m *board.Model)
}

// SnapshotStore keeps the live session view. *store.Store implements it.
type SnapshotStore interface {
	Save(ctx context.Context, snap *domain.SessionSnapshot) error
	AppendMove(ctx context.Context, id, san string) error
	Finish(ctx context.Context, id string) error
}

type SnapshotObserver struct {
	store  SnapshotStore
	now    func() time.Time
	logger *zap.Logger
}

func NewSnapshotObserver(store SnapshotStore, logger *zap.Logger) *SnapshotObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotObserver{store: store, now: time.Now, logger: logger}
}

func (o *SnapshotObserver) save(ctx context.Context, s *Session, m *board.Model) {
	if err := o.store.Save(ctx, s.Snapshot(m, o.now())); err != nil {
		o.logger.Warn("snapshot_save_failed", zap.String("session", s.ID), zap.Error(err))
	}
}

func (o *SnapshotObserver) GameStarted(ctx context.Context, s *Session, m *board.Model) {
	o.save(ctx, s, m)
}

func (o *SnapshotObserver) HalfMove(ctx context.Context, s *Session, m *board.Model, rec board.Record, _ bool) {
	if err := o.store.AppendMove(ctx, s.ID, rec.SAN); err != nil {
		o.logger.Warn("snapshot_move_failed", zap.String("session", s.ID), zap.Error(err))
	}
	o.save(ctx, s, m)
}

func (o *SnapshotObserver) GameEnded(ctx context.Context, s *Session, m *board.Model) {
	o.save(ctx, s, m)
	if err := o.store.Finish(ctx, s.ID); err != nil {
		o.logger.Warn("snapshot_finish_failed", zap.String("session", s.ID), zap.Error(err))
	}
}

// ArchiveObserver stores every finished game.
type ArchiveObserver struct {
	repo   history.Repository
	logger *zap.Logger
}

func NewArchiveObserver(repo history.Repository, logger *zap.Logger) *ArchiveObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveObserver{repo: repo, logger: logger}
}

func (*ArchiveObserver) GameStarted(context.Context, *Session, *board.Model) {}

func (*ArchiveObserver) HalfMove(context.Context, *Session, *board.Model, board.Record, bool) {}

func (o *ArchiveObserver) GameEnded(ctx context.Context, s *Session, m *board.Model) {
	id, err := o.repo.SaveGame(ctx, s.Record(m))
	switch {
	case errors.Is(err, history.ErrDuplicateGame):
		o.logger.Debug("game_already_archived", zap.String("session", s.ID))
	case err != nil:
		o.logger.Warn("game_archive_failed", zap.String("session", s.ID), zap.Error(err))
	default:
		o.logger.Info("game_archived", zap.String("session", s.ID), zap.Int64("id", id))
	}
}

// RelayObserver publishes game events, attaching a board image to the final one.
type RelayObserver struct {
	pub      relay.Publisher
	catalog  *msgcat.Catalog
	renderer *render.Renderer
	channel  string
	now      func() time.Time
	logger   *zap.Logger
}

func NewRelayObserver(pub relay.Publisher, catalog *msgcat.Catalog, renderer *render.Renderer, channel string, logger *zap.Logger) *RelayObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelayObserver{pub: pub, catalog: catalog, renderer: renderer, channel: channel, now: time.Now, logger: logger}
}

func (o *RelayObserver) event(t chessdto.EventType, s *Session, m *board.Model) *chessdto.GameEvent {
	ev := &chessdto.GameEvent{Type: t, Channel: o.channel, SessionUUID: s.ID, HalfMove: s.HalfMoves, At: o.now()}
	if m != nil {
		ev.FEN = m.FEN()
	}
	return ev
}

func (o *RelayObserver) text(key string, data map[string]any) string {
	if o.catalog == nil {
		return ""
	}
	out, err := o.catalog.Render(key, data)
	if err != nil {
		o.logger.Warn("relay_template_failed", zap.String("key", key), zap.Error(err))
		return ""
	}
	return out
}

func (o *RelayObserver) publish(ctx context.Context, ev *chessdto.GameEvent) {
	if err := o.pub.Publish(ctx, ev); err != nil {
		o.logger.Warn("relay_publish_failed", zap.String("type", string(ev.Type)), zap.String("session", ev.SessionUUID), zap.Error(err))
	}
}

func (o *RelayObserver) GameStarted(ctx context.Context, s *Session, m *board.Model) {
	ev := o.event(chessdto.EventGameStarted, s, m)
	ev.Text = o.text("game.start", map[string]any{
		"Session": s.ID, "Color": colorName(s.Color), "Mode": s.modeName(), "Deceive": s.Deceive,
	})
	o.publish(ctx, ev)
}

func (o *RelayObserver) HalfMove(ctx context.Context, s *Session, m *board.Model, rec board.Record, own bool) {
	ev := o.event(chessdto.EventHalfMove, s, m)
	ev.HalfMove = rec.Ply
	ev.MoveSAN = rec.SAN
	ev.MoveUCI = rec.UCI
	mover := "opponent"
	if own {
		mover = "autopilot"
	}
	ev.Text = o.text("game.move", map[string]any{"HalfMove": rec.Ply, "Mover": mover, "SAN": rec.SAN})
	o.publish(ctx, ev)
}

func (o *RelayObserver) GameEnded(ctx context.Context, s *Session, m *board.Model) {
	t, key := chessdto.EventGameEnded, "game.end"
	data := map[string]any{"Session": s.ID, "Verdict": s.Verdict.String(), "HalfMoves": s.HalfMoves, "Result": "*"}
	if m != nil {
		if out := m.Outcome(); out != "" {
			data["Result"] = out
		}
	}
	if s.Desynced() {
		t, key = chessdto.EventDesync, "game.desync"
		data["Reason"] = s.Failure()
	}
	ev := o.event(t, s, m)
	ev.Verdict = s.Verdict.String()
	ev.Text = o.text(key, data)
	if o.renderer != nil && m != nil {
		img, err := o.renderer.RenderPNG(ctx, m.Board(), boardOptions(s, m))
		if err != nil {
			o.logger.Warn("relay_render_failed", zap.Error(err))
		} else {
			ev.Image = base64.StdEncoding.EncodeToString(img)
		}
	}
	o.publish(ctx, ev)
}

// DesyncObserver dumps the authoritative board when a game ends on a desync.
type DesyncObserver struct {
	dumper *render.Dumper
	logger *zap.Logger
}

func NewDesyncObserver(dumper *render.Dumper, logger *zap.Logger) *DesyncObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DesyncObserver{dumper: dumper, logger: logger}
}

func (*DesyncObserver) GameStarted(context.Context, *Session, *board.Model) {}

func (*DesyncObserver) HalfMove(context.Context, *Session, *board.Model, board.Record, bool) {}

func (o *DesyncObserver) GameEnded(ctx context.Context, s *Session, m *board.Model) {
	if !s.Desynced() || m == nil || !o.dumper.Enabled() {
		return
	}
	path, err := o.dumper.Dump(ctx, s.ID, s.Failure(), m.Board(), boardOptions(s, m))
	if err != nil {
		o.logger.Warn("desync_dump_failed", zap.String("session", s.ID), zap.Error(err))
		return
	}
	o.logger.Info("desync_dumped", zap.String("session", s.ID), zap.String("path", path), zap.String("fen", m.FEN()))
}

func boardOptions(s *Session, m *board.Model) render.Options {
	opts := render.Options{
		Orientation: geometry.OrientationFor(s.Color),
		Caption:     colorName(s.Color) + " | " + s.modeName() + " | " + s.Verdict.String(),
	}
	if from, to, ok := m.LastMove(); ok {
		opts.Highlight = &render.Highlight{From: from, To: to}
	}
	return opts
}
