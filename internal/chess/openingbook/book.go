// Package openingbook answers early-game positions from a Polyglot book.
package openingbook

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

const DefaultMaxPly = 12

// SearchPaths are tried in order by Discover.
var SearchPaths = []string{
	filepath.Join("resources", "opening", "book.bin"),
	filepath.Join("resources", "opening", "Cerebellum3Merge.bin"),
}

type Result struct {
	Move   string
	Weight uint16
}

// Book is read-only after Load and safe for concurrent lookups.
type Book struct {
	poly   *nchess.PolyglotBook
	maxPly int
}

// Discover loads the first book found on SearchPaths. It returns (nil, nil)
// when none exists.
func Discover(maxPly int) (*Book, error) {
	for _, p := range SearchPaths {
		if _, err := os.Stat(p); err == nil {
			return Load(p, maxPly)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
	}
	return nil, nil
}

func Load(path string, maxPly int) (*Book, error) {
	if path == "" {
		return nil, errors.New("polyglot book path required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open polyglot book: %w", err)
	}
	defer f.Close()
	poly, err := nchess.LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("load polyglot book %s: %w", path, err)
	}
	if maxPly <= 0 {
		maxPly = DefaultMaxPly
	}
	return &Book{poly: poly, maxPly: maxPly}, nil
}

// Lookup picks a book move for fen weighted by entry weight. A zero Result
// means the position is out of book or past the ply cutoff. With r nil the
// heaviest entry wins.
func (b *Book) Lookup(fen string, ply int, r *rand.Rand) (Result, error) {
	if b == nil || b.poly == nil || ply >= b.maxPly {
		return Result{}, nil
	}
	moves, err := b.legalEntries(fen)
	if err != nil || len(moves) == 0 {
		return Result{}, err
	}
	return pickWeighted(moves, r), nil
}

// legalEntries returns the book entries for fen that are legal there,
// heaviest first. Zero-weight entries are dropped.
func (b *Book) legalEntries(fen string) ([]Result, error) {
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen: %w", err)
	}
	hash, err := nchess.NewZobristHasher().HashPosition(fen)
	if err != nil {
		return nil, fmt.Errorf("polyglot hash: %w", err)
	}
	legal := legalSet(nchess.NewGame(opt).Position())

	var out []Result
	for _, e := range b.poly.FindMoves(nchess.ZobristHashToUint64(hash)) {
		if e.Weight == 0 {
			continue
		}
		mv := nchess.DecodeMove(e.Move).ToMove()
		uci := mv.String()
		if !legal[uci] {
			// Polyglot encodes castling as king-takes-rook.
			if alt, ok := polyglotCastles[uci]; ok && legal[alt] {
				uci = alt
			} else {
				continue
			}
		}
		out = append(out, Result{Move: uci, Weight: e.Weight})
	}
	slices.SortStableFunc(out, func(a, b Result) int { return int(b.Weight) - int(a.Weight) })
	return out, nil
}

var polyglotCastles = map[string]string{
	"e1h1": "e1g1", "e1a1": "e1c1",
	"e8h8": "e8g8", "e8a8": "e8c8",
}

func legalSet(pos *nchess.Position) map[string]bool {
	moves := pos.ValidMoves()
	set := make(map[string]bool, len(moves))
	for i := range moves {
		set[strings.ToLower(nchess.UCINotation{}.Encode(pos, &moves[i]))] = true
	}
	return set
}

// pickWeighted expects moves sorted heaviest first.
func pickWeighted(moves []Result, r *rand.Rand) Result {
	if r == nil || len(moves) == 1 {
		return moves[0]
	}
	cumulative := make([]int, len(moves))
	total := 0
	for i, m := range moves {
		total += int(m.Weight)
		cumulative[i] = total
	}
	x := r.Intn(total)
	return moves[sort.SearchInts(cumulative, x+1)]
}
