// Package chessbuilder wires the autopilot's collaborators from configuration.
package chessbuilder

import (
	"context"
	"errors"
	"fmt"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/autopilot"
	corechess "github.com/park285/chess-autopilot/internal/chess"
	"github.com/park285/chess-autopilot/internal/chess/openingbook"
	"github.com/park285/chess-autopilot/internal/config"
	"github.com/park285/chess-autopilot/internal/domhost"
	"github.com/park285/chess-autopilot/internal/history"
	"github.com/park285/chess-autopilot/internal/msgcat"
	"github.com/park285/chess-autopilot/internal/relay"
	"github.com/park285/chess-autopilot/internal/render"
	"github.com/park285/chess-autopilot/internal/store"
)

const wsConnectTimeout = 10 * time.Second

// Deps holds everything one autopilot run needs. Close releases all of it.
type Deps struct {
	Mode      corechess.SpeedMode
	Engine    *corechess.Engine
	Host      *domhost.Lichess
	Store     *store.Store
	History   history.Repository
	Publisher relay.Publisher
	WS        *relay.WebSocket
	Catalog   *msgcat.Catalog
	Renderer  *render.Renderer
	Dumper    *render.Dumper

	cfg    *config.AppConfig
	logger *zap.Logger
}

// ResolveMode loads the speed profiles and applies the ENGINE_* overrides to
// the normal mode.
func ResolveMode(cfg *config.AppConfig) (corechess.SpeedMode, error) {
	profiles, err := corechess.LoadProfiles(cfg.SpeedProfileFile)
	if err != nil {
		return nil, err
	}
	if cfg.EngineDepth > 0 {
		profiles.Normal.Depth = cfg.EngineDepth
	}
	if cfg.EngineSkill >= 0 {
		profiles.Normal.Skill = cfg.EngineSkill
	}
	mode, err := corechess.ModeByName(cfg.SpeedMode, profiles)
	if err != nil {
		return nil, err
	}
	return mode, corechess.ValidateMode(mode)
}

// New builds every dependency except the browser tab. On error, whatever was
// already opened is closed.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (deps *Deps, err error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deps{cfg: cfg, logger: logger, Publisher: relay.Nop{}}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	if d.Mode, err = ResolveMode(cfg); err != nil {
		return nil, fmt.Errorf("speed mode: %w", err)
	}

	book, err := openBook(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening book: %w", err)
	}
	d.Engine, err = corechess.NewEngine(corechess.EngineConfig{
		BinaryPath: cfg.StockfishPath,
		Threads:    cfg.EngineThreads,
		HashMB:     cfg.EngineHashMB,
		Book:       book,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	if cfg.RedisURL != "" {
		if d.Store, err = store.Open(ctx, cfg.RedisURL); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
	}
	if d.History, err = history.Open(ctx, cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	d.Renderer = render.New(render.DefaultSquareSize)
	d.Dumper = render.NewDumper(cfg.SnapshotDir, d.Renderer)

	if cfg.RelayEnabled() {
		if d.Catalog, err = msgcat.New(cfg.RelayTemplatesDir); err != nil {
			return nil, fmt.Errorf("relay templates: %w", err)
		}
		d.Publisher = d.buildPublisher(ctx)
	}
	return d, nil
}

func openBook(cfg *config.AppConfig) (*openingbook.Book, error) {
	if cfg.PolyglotBookPath != "" {
		return openingbook.Load(cfg.PolyglotBookPath, cfg.ChessOpeningMaxPly)
	}
	return openingbook.Discover(cfg.ChessOpeningMaxPly)
}

func (d *Deps) headers() map[string]string {
	if d.cfg.RelayToken == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + d.cfg.RelayToken}
}

// buildPublisher never fails: an unreachable WebSocket is logged and the
// publisher falls back (auto) or reports per event (ws).
func (d *Deps) buildPublisher(ctx context.Context) relay.Publisher {
	var client *relay.Client
	if d.cfg.RelayBaseURL != "" {
		client = relay.NewClient(d.cfg.RelayBaseURL, relay.WithHeaderProvider(d.headers))
	}
	if d.cfg.RelayWSURL != "" && !d.cfg.RelayDryrun && d.cfg.RelayMode != relay.ModeHTTP {
		d.WS = relay.NewWebSocket(d.cfg.RelayWSURL, 5, d.logger)
		d.WS.SetHeaderProvider(d.headers)
		cctx, cancel := context.WithTimeout(ctx, wsConnectTimeout)
		if err := d.WS.Connect(cctx); err != nil {
			d.logger.Warn("relay_ws_connect_failed", zap.String("url", d.cfg.RelayWSURL), zap.Error(err))
		}
		cancel()
	}
	mode := d.cfg.RelayMode
	switch {
	case d.cfg.RelayDryrun:
	case client == nil && d.WS == nil:
		return relay.Nop{}
	case client == nil:
		mode = relay.ModeWS
	case d.WS == nil:
		mode = relay.ModeHTTP
	}
	return relay.NewPublisher(mode, d.cfg.RelayDryrun, client, d.WS, d.logger)
}

// OpenHost starts or attaches to the browser.
func (d *Deps) OpenHost(ctx context.Context) (*domhost.Lichess, error) {
	opts := []domhost.Option{
		domhost.WithURL(d.cfg.LichessURL),
		domhost.WithHeadless(d.cfg.ChromeHeadless),
		domhost.WithLogger(d.logger),
	}
	if d.cfg.ChromeWSURL != "" {
		opts = append(opts, domhost.WithRemoteAllocator(d.cfg.ChromeWSURL))
	}
	host, err := domhost.NewLichess(ctx, opts...)
	if err != nil {
		return nil, err
	}
	d.Host = host
	return host, nil
}

// Observers returns the observers for the configured backends.
func (d *Deps) Observers() []autopilot.Observer {
	var out []autopilot.Observer
	if d.Store != nil {
		out = append(out, autopilot.NewSnapshotObserver(d.Store, d.logger))
	}
	if d.History != nil {
		out = append(out, autopilot.NewArchiveObserver(d.History, d.logger))
	}
	if _, nop := d.Publisher.(relay.Nop); !nop && d.Publisher != nil {
		out = append(out, autopilot.NewRelayObserver(d.Publisher, d.Catalog, d.Renderer, d.cfg.RelayChannel, d.logger))
	}
	if d.Dumper.Enabled() {
		out = append(out, autopilot.NewDesyncObserver(d.Dumper, d.logger))
	}
	return out
}

func (d *Deps) ControllerConfig(color nchess.Color) autopilot.Config {
	return autopilot.Config{
		Color:            color,
		Mode:             d.Mode,
		Deceive:          d.cfg.Deceive,
		Evaluation:       d.cfg.Evaluation,
		Level:            d.cfg.ComputerLevel,
		WatchTimeout:     d.cfg.WatchTimeout,
		PollInterval:     d.cfg.PollInterval,
		PromotionTimeout: d.cfg.PromotionTimeout,
		Logger:           d.logger,
	}
}

func (d *Deps) Close() {
	if d.WS != nil {
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = d.WS.Close(cctx)
		cancel()
	}
	if d.Host != nil {
		d.Host.Close()
	}
	if d.Engine != nil {
		if err := d.Engine.Close(); err != nil {
			d.logger.Warn("engine_close_failed", zap.Error(err))
		}
	}
	if d.Store != nil {
		_ = d.Store.Close()
	}
	if d.History != nil {
		_ = d.History.Close()
	}
}
