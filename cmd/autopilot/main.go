package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/autopilot"
	"github.com/park285/chess-autopilot/internal/chessbuilder"
	appcfg "github.com/park285/chess-autopilot/internal/config"
	"github.com/park285/chess-autopilot/internal/obslog"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.Sync() }()

	if err := run(); err != nil {
		obslog.L().Error("autopilot_failed", zap.Error(err))
		_ = obslog.Sync()
		os.Exit(1)
	}
}

func run() error {
	logger := obslog.L()
	cfg, err := appcfg.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := chessbuilder.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	host, err := deps.OpenHost(ctx)
	if err != nil {
		return fmt.Errorf("browser: %w", err)
	}
	if cfg.SkipNavigation {
		logger.Info("navigation_skipped")
	} else if err := host.StartComputerGame(ctx, cfg.ComputerLevel, cfg.PlayAs); err != nil {
		return err
	}
	color, err := host.PlayedColor(ctx)
	if err != nil {
		return fmt.Errorf("played color: %w", err)
	}

	oracle, err := deps.Engine.NewOracle(ctx, deps.Mode)
	if err != nil {
		return err
	}
	ctrl := autopilot.New(host, oracle, deps.ControllerConfig(color), deps.Observers()...)
	sess, err := ctrl.Play(ctx)
	if err != nil {
		return err
	}
	logger.Info("autopilot_done",
		zap.String("session", sess.ID),
		zap.String("verdict", sess.Verdict.String()),
		zap.Int("half_moves", sess.HalfMoves),
	)
	return nil
}
