// Package obslog owns the process logger.
package obslog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger = zap.NewNop()
	closeFile    = func() error { return nil }
)

// L returns the process logger; a no-op logger until InitFromEnv runs.
func L() *zap.Logger { return globalLogger }

// Options mirrors the LOG_* variables.
type Options struct {
	Level   zapcore.Level
	Format  string // legacy, json or console
	Console bool
	File    string // empty disables the file core
	Caller  bool
}

func OptionsFromEnv() Options {
	opts := Options{
		Level:   parseLevel(getenvDefault("LOG_LEVEL", "info")),
		Format:  strings.ToLower(strings.TrimSpace(getenvDefault("LOG_FORMAT", "legacy"))),
		Console: strings.EqualFold(getenvDefault("LOG_TO_CONSOLE", "true"), "true"),
		Caller:  strings.EqualFold(getenvDefault("LOG_CALLER", "false"), "true"),
	}
	if strings.EqualFold(getenvDefault("LOG_TO_FILE", "true"), "true") {
		opts.File = strings.TrimSpace(getenvDefault("LOG_FILE", filepath.Join("logs", "autopilot.log")))
	}
	return opts
}

// InitFromEnv builds the process logger from LOG_* variables.
func InitFromEnv() error {
	logger, closer, err := Build(OptionsFromEnv(), os.Stdout)
	if err != nil {
		return err
	}
	globalLogger = logger
	closeFile = closer
	return nil
}

// Sync flushes the process logger and closes its log file.
func Sync() error {
	_ = globalLogger.Sync()
	return closeFile()
}

// Build assembles a tee of the console core (written to out) and the file core.
// The returned func closes the log file.
func Build(opts Options, out io.Writer) (*zap.Logger, func() error, error) {
	switch opts.Format {
	case "legacy", "json", "console":
	default:
		opts.Format = "legacy"
	}
	closer := func() error { return nil }
	var cores []zapcore.Core
	if opts.Console {
		cores = append(cores, zapcore.NewCore(newEncoder(opts.Format), zapcore.AddSync(out), opts.Level))
	}
	if opts.File != "" {
		if err := ensureDir(filepath.Dir(opts.File)); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		closer = f.Close
		cores = append(cores, zapcore.NewCore(newEncoder(opts.Format), zapcore.AddSync(f), opts.Level))
	}
	if len(cores) == 0 {
		enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(out), opts.Level))
	}

	zopts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if opts.Caller || opts.Format == "legacy" {
		zopts = append(zopts, zap.AddCaller())
	}
	return zap.New(zapcore.NewTee(cores...), zopts...), closer, nil
}

func newEncoder(format string) zapcore.Encoder {
	switch format {
	case "json":
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(cfg)
	case "console":
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	default:
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.ConsoleSeparator = " | "
		return zapcore.NewConsoleEncoder(cfg)
	}
}

func ensureDir(dir string) error {
	if strings.TrimSpace(dir) == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		if strings.EqualFold(strings.TrimSpace(s), "warning") {
			return zapcore.WarnLevel
		}
		return zapcore.InfoLevel
	}
	return lvl
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
