// Package uci talks to a Stockfish-compatible engine over stdin/stdout.
package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	handshakeTimeout = 4 * time.Second
	stopGrace        = 300 * time.Millisecond
	quitGrace        = 500 * time.Millisecond
	lineBuffer       = 256

	// MateScore is the centipawn stand-in reported for forced mates.
	MateScore = 30000
)

// ErrExited is returned once the engine's stdout is closed.
var ErrExited = errors.New("engine process exited")

type Options struct {
	Threads    int
	SkillLevel int
	HashMB     int
	MultiPV    int
	// Elo > 0 enables UCI_LimitStrength.
	Elo int
}

func (o Options) validate() error {
	switch {
	case o.SkillLevel < 0 || o.SkillLevel > 20:
		return fmt.Errorf("skill level %d out of range 0-20", o.SkillLevel)
	case o.HashMB <= 0:
		return fmt.Errorf("hash size must be > 0: %d", o.HashMB)
	case o.MultiPV <= 0:
		return fmt.Errorf("multipv must be > 0: %d", o.MultiPV)
	case o.Elo < 0:
		return fmt.Errorf("elo must be >= 0: %d", o.Elo)
	}
	return nil
}

// commands renders every option explicitly so that a reused process does not
// keep settings from its previous owner.
func (o Options) commands() []string {
	threads := o.Threads
	if threads <= 0 {
		threads = 1
	}
	set := func(name string, value any) string {
		return fmt.Sprintf("setoption name %s value %v", name, value)
	}
	cmds := []string{
		set("Threads", threads),
		set("Hash", o.HashMB),
		set("Skill Level", o.SkillLevel),
		set("MultiPV", o.MultiPV),
		set("Minimum Thinking Time", 10),
		set("Move Overhead", 100),
		set("UCI_LimitStrength", o.Elo > 0),
	}
	if o.Elo > 0 {
		cmds = append(cmds, set("UCI_Elo", o.Elo))
	}
	return cmds
}

// Limits bound one search. A zero field is not sent.
type Limits struct {
	Depth    int
	MoveTime time.Duration
}

func (l Limits) goCommand() (string, error) {
	args := []string{"go"}
	if l.Depth > 0 {
		args = append(args, "depth", strconv.Itoa(l.Depth))
	}
	if ms := l.MoveTime.Milliseconds(); ms > 0 {
		args = append(args, "movetime", strconv.FormatInt(ms, 10))
	}
	if len(args) == 1 {
		return "", fmt.Errorf("no search limits specified")
	}
	return strings.Join(args, " "), nil
}

// watchdog bounds a search whose engine never answers.
func (l Limits) watchdog() time.Duration {
	if l.MoveTime > 0 {
		return l.MoveTime + 2*time.Second
	}
	d := time.Duration(l.Depth) * 500 * time.Millisecond
	return min(max(d, 6*time.Second), 30*time.Second)
}

type Candidate struct {
	Move  string
	Depth int
	// EvalCP is from the side to move; mates map to ±MateScore.
	EvalCP int
	// Mate is the signed distance to mate in moves, 0 when the score is in centipawns.
	Mate      int
	Principal []string
}

type SearchRequest struct {
	FEN    string
	Moves  []string
	Limits Limits
}

type SearchResponse struct {
	Candidates []Candidate
	BestMove   string
}

// Best returns the first principal variation, if any was reported.
func (r SearchResponse) Best() (Candidate, bool) {
	if len(r.Candidates) == 0 {
		return Candidate{}, false
	}
	return r.Candidates[0], true
}

// Process is one running engine. Searches are serialized.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *zap.Logger
	opt    Options

	lines   chan string
	done    chan struct{}
	quit    chan struct{}
	readErr error

	writeMu   sync.Mutex
	searchMu  sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Start launches binaryPath, completes the uci handshake and applies opt.
// The process is not bound to ctx; only the handshake is.
func Start(ctx context.Context, binaryPath string, opt Options, logger *zap.Logger) (*Process, error) {
	if err := opt.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cmd := exec.Command(binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		logger: logger,
		lines:  make(chan string, lineBuffer),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
	}
	go p.pump(stdout)

	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	if err := p.send("uci"); err != nil {
		_ = p.Close()
		return nil, err
	}
	if err := p.await(hctx, "uciok"); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("wait uciok: %w", err)
	}
	if err := p.apply(hctx, opt); err != nil {
		_ = p.Close()
		return nil, err
	}
	logger.Debug("uci_process_started", zap.Int("pid", cmd.Process.Pid))
	return p, nil
}

func (p *Process) pump(r io.Reader) {
	defer close(p.done)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		select {
		case p.lines <- line:
		case <-p.quit:
			return
		}
	}
	p.readErr = sc.Err()
}

func (p *Process) next(ctx context.Context) (string, error) {
	select {
	case line := <-p.lines:
		return line, nil
	case <-p.done:
		select {
		case line := <-p.lines:
			return line, nil
		default:
		}
		if p.readErr != nil {
			return "", fmt.Errorf("%w: %w", ErrExited, p.readErr)
		}
		return "", ErrExited
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *Process) send(cmd string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := io.WriteString(p.stdin, cmd+"\n"); err != nil {
		return fmt.Errorf("send %q: %w", strings.Fields(cmd)[0], err)
	}
	return nil
}

func (p *Process) await(ctx context.Context, token string) error {
	for {
		line, err := p.next(ctx)
		if err != nil {
			return err
		}
		if line == token {
			return nil
		}
	}
}

func (p *Process) apply(ctx context.Context, opt Options) error {
	for _, cmd := range opt.commands() {
		if err := p.send(cmd); err != nil {
			return err
		}
	}
	p.opt = opt
	return p.ready(ctx)
}

func (p *Process) ready(ctx context.Context) error {
	if err := p.send("isready"); err != nil {
		return err
	}
	if err := p.await(ctx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

// Configure prepares a reused process for a new owner: options are re-sent
// only when they differ, and the engine must answer isready.
func (p *Process) Configure(ctx context.Context, opt Options) error {
	if err := opt.validate(); err != nil {
		return err
	}
	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	if opt == p.opt {
		return p.ready(hctx)
	}
	return p.apply(hctx, opt)
}

func (p *Process) NewGame(ctx context.Context) error {
	if err := p.send("ucinewgame"); err != nil {
		return err
	}
	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	return p.ready(hctx)
}

// Search runs one go command. When ctx ends first the engine is told to
// stop and its bestmove is drained so the process stays in sync.
func (p *Process) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	p.searchMu.Lock()
	defer p.searchMu.Unlock()

	goCmd, err := req.Limits.goCommand()
	if err != nil {
		return SearchResponse{}, err
	}
	if err := p.send(positionCommand(req.FEN, req.Moves)); err != nil {
		return SearchResponse{}, err
	}
	if err := p.send(goCmd); err != nil {
		return SearchResponse{}, err
	}

	sctx, cancel := context.WithTimeout(ctx, req.Limits.watchdog())
	defer cancel()
	byPV := make(map[int]Candidate)
	for {
		line, err := p.next(sctx)
		if err != nil {
			if sctx.Err() != nil {
				p.stop()
			}
			p.logger.Warn("uci_search_aborted", zap.String("go", goCmd), zap.Error(err))
			return SearchResponse{}, fmt.Errorf("search: %w", err)
		}
		if strings.HasPrefix(line, "info ") {
			if pv, c, ok := parseInfo(line); ok {
				byPV[pv] = c
			}
			continue
		}
		if strings.HasPrefix(line, "bestmove") {
			return SearchResponse{Candidates: ordered(byPV), BestMove: field(line, 1)}, nil
		}
	}
}

func (p *Process) stop() {
	if err := p.send("stop"); err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()
	for {
		line, err := p.next(ctx)
		if err != nil || strings.HasPrefix(line, "bestmove") {
			return
		}
	}
}

// Close asks the engine to quit and kills it if it does not exit in time.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		close(p.quit)
		_ = p.send("quit")
		_ = p.stdin.Close()

		waited := make(chan error, 1)
		go func() { waited <- p.cmd.Wait() }()
		select {
		case p.closeErr = <-waited:
		case <-time.After(quitGrace):
			_ = p.cmd.Process.Kill()
			<-waited
		}
	})
	return p.closeErr
}

func positionCommand(fen string, moves []string) string {
	cmd := "position startpos"
	if fen = strings.TrimSpace(fen); fen != "" && fen != "startpos" {
		cmd = "position fen " + fen
	}
	if len(moves) > 0 {
		cmd += " moves " + strings.Join(moves, " ")
	}
	return cmd
}

// parseInfo extracts one principal variation from an info line. Lines
// without a pv (currmove, string, hashfull) are skipped.
func parseInfo(line string) (multipv int, c Candidate, ok bool) {
	f := strings.Fields(line)
	multipv = 1
	num := func(i int) int {
		if i >= len(f) {
			return 0
		}
		n, _ := strconv.Atoi(f[i])
		return n
	}
	for i := 1; i < len(f); i++ {
		switch f[i] {
		case "depth":
			c.Depth = num(i + 1)
			i++
		case "multipv":
			if n := num(i + 1); n > 0 {
				multipv = n
			}
			i++
		case "score":
			if i+2 >= len(f) {
				return 0, Candidate{}, false
			}
			v, err := strconv.Atoi(f[i+2])
			if err != nil {
				return 0, Candidate{}, false
			}
			switch f[i+1] {
			case "cp":
				c.EvalCP = v
			case "mate":
				c.Mate = v
				c.EvalCP = MateScore
				if v < 0 {
					c.EvalCP = -MateScore
				}
			}
			i += 2
		case "pv":
			if i+1 >= len(f) {
				return 0, Candidate{}, false
			}
			c.Principal = append([]string(nil), f[i+1:]...)
			c.Move = c.Principal[0]
			return multipv, c, true
		}
	}
	return 0, Candidate{}, false
}

func ordered(byPV map[int]Candidate) []Candidate {
	if len(byPV) == 0 {
		return nil
	}
	keys := make([]int, 0, len(byPV))
	for k := range byPV {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]Candidate, len(keys))
	for i, k := range keys {
		out[i] = byPV[k]
	}
	return out
}

func field(line string, i int) string {
	f := strings.Fields(line)
	if i < len(f) {
		return f[i]
	}
	return ""
}
