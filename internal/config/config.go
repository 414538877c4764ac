package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	StockfishPath string
	EngineDepth   int
	EngineSkill   int
	EngineThreads int
	EngineHashMB  int

	PlayAs           string
	SpeedMode        string
	Deceive          bool
	Evaluation       bool
	WatchTimeout     time.Duration
	PollInterval     time.Duration
	PromotionTimeout time.Duration

	ComputerLevel  int
	LichessURL     string
	ChromeWSURL    string
	ChromeHeadless bool
	SkipNavigation bool

	SpeedProfileFile   string
	PolyglotBookPath   string
	ChessOpeningMaxPly int

	RedisURL    string
	DatabaseURL string
	SnapshotDir string

	RelayBaseURL string
	RelayWSURL   string
	RelayMode    string
	RelayChannel string
	RelayDryrun  bool
	RelayToken   string

	RelayTemplatesDir string
}

// RelayEnabled reports whether any relay transport is configured.
func (c *AppConfig) RelayEnabled() bool {
	return c.RelayBaseURL != "" || c.RelayWSURL != "" || c.RelayDryrun
}

// loader collects every malformed value so that one run reports all of them.
type loader struct {
	errs []error
}

func (l *loader) str(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func (l *loader) int(key string, def int) int {
	v := l.str(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (l *loader) bool(key string, def bool) bool {
	v := l.str(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return def
	}
	return b
}

// duration accepts Go durations ("1.5s") or plain milliseconds ("1500").
func (l *loader) duration(key string, def time.Duration) time.Duration {
	v := l.str(key)
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return def
	}
	return d
}

func Load() (*AppConfig, error) {
	l := &loader{}
	cfg := &AppConfig{
		StockfishPath: l.str("STOCKFISH_PATH"),
		EngineDepth:   l.int("ENGINE_DEPTH", 0),
		EngineSkill:   l.int("ENGINE_SKILL", -1),
		EngineThreads: l.int("ENGINE_THREADS", 1),
		EngineHashMB:  l.int("ENGINE_HASH_MB", 64),

		PlayAs:           strings.ToLower(l.str("PLAY_AS")),
		SpeedMode:        strings.ToLower(l.str("SPEED_MODE")),
		Deceive:          l.bool("DECEIVE", false),
		Evaluation:       l.bool("EVALUATION", false),
		WatchTimeout:     l.duration("WATCH_TIMEOUT", 10*time.Second),
		PollInterval:     l.duration("POLL_INTERVAL", 100*time.Millisecond),
		PromotionTimeout: l.duration("PROMOTION_TIMEOUT", 10*time.Second),

		ComputerLevel:  l.int("COMPUTER_LEVEL", 3),
		LichessURL:     l.str("LICHESS_URL"),
		ChromeWSURL:    l.str("CHROME_WS_URL"),
		ChromeHeadless: l.bool("CHROME_HEADLESS", false),
		SkipNavigation: l.bool("SKIP_NAVIGATION", false),

		SpeedProfileFile:   l.str("SPEED_PROFILE_FILE"),
		PolyglotBookPath:   l.str("CHESS_POLYGLOT_BOOK_PATH"),
		ChessOpeningMaxPly: l.int("CHESS_OPENING_MAX_PLY", 0),

		RedisURL:    l.str("REDIS_URL"),
		DatabaseURL: l.str("DATABASE_URL"),
		SnapshotDir: l.str("SNAPSHOT_DIR"),

		RelayBaseURL: strings.TrimRight(l.str("RELAY_BASE_URL"), "/"),
		RelayWSURL:   l.str("RELAY_WS_URL"),
		RelayMode:    strings.ToLower(l.str("RELAY_MODE")),
		RelayChannel: l.str("RELAY_CHANNEL"),
		RelayDryrun:  l.bool("RELAY_DRYRUN", false),
		RelayToken:   l.str("RELAY_TOKEN"),

		RelayTemplatesDir: l.str("RELAY_TEMPLATES_DIR"),
	}

	if cfg.LichessURL == "" {
		cfg.LichessURL = "https://lichess.org/"
	}
	if cfg.SpeedMode == "" {
		cfg.SpeedMode = "normal"
	}
	if cfg.PlayAs == "" {
		cfg.PlayAs = "white"
	}
	if cfg.RelayChannel == "" {
		cfg.RelayChannel = "autopilot"
	}
	if cfg.RelayMode == "" {
		switch {
		case cfg.RelayBaseURL != "" && cfg.RelayWSURL != "":
			cfg.RelayMode = "auto"
		case cfg.RelayWSURL != "":
			cfg.RelayMode = "ws"
		default:
			cfg.RelayMode = "http"
		}
	}

	if err := errors.Join(l.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	var errs []error
	if c.StockfishPath == "" {
		errs = append(errs, errors.New("STOCKFISH_PATH is required"))
	}
	switch c.PlayAs {
	case "white", "black", "random":
	default:
		errs = append(errs, fmt.Errorf("PLAY_AS: unknown color %q", c.PlayAs))
	}
	switch c.SpeedMode {
	case "normal", "bullet", "ultrabullet":
	default:
		errs = append(errs, fmt.Errorf("SPEED_MODE: unknown mode %q", c.SpeedMode))
	}
	switch c.RelayMode {
	case "http", "ws", "auto":
	default:
		errs = append(errs, fmt.Errorf("RELAY_MODE: unknown mode %q", c.RelayMode))
	}
	if c.RelayMode == "ws" && c.RelayWSURL == "" && !c.RelayDryrun {
		errs = append(errs, errors.New("RELAY_MODE=ws requires RELAY_WS_URL"))
	}
	if c.ComputerLevel < 1 || c.ComputerLevel > 8 {
		errs = append(errs, fmt.Errorf("COMPUTER_LEVEL %d out of range 1..8", c.ComputerLevel))
	}
	if c.EngineSkill > 20 {
		errs = append(errs, fmt.Errorf("ENGINE_SKILL %d out of range 0..20", c.EngineSkill))
	}
	if c.EngineDepth < 0 {
		errs = append(errs, fmt.Errorf("ENGINE_DEPTH must be >= 0"))
	}
	if c.EngineThreads < 1 {
		errs = append(errs, fmt.Errorf("ENGINE_THREADS must be >= 1"))
	}
	if c.WatchTimeout <= 0 {
		errs = append(errs, errors.New("WATCH_TIMEOUT must be positive"))
	}
	if c.PollInterval <= 0 || c.PollInterval >= c.WatchTimeout {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive and below WATCH_TIMEOUT"))
	}
	return errors.Join(errs...)
}
