package chess

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/park285/chess-autopilot/internal/chess/uci"
)

func limitsFor(b Budget) uci.Limits {
	if b.Timed() {
		return uci.Limits{MoveTime: b.MoveTime}
	}
	return uci.Limits{Depth: b.Depth}
}

// BuildGoCommand renders the go command a budget translates to.
func BuildGoCommand(b Budget) ([]string, error) {
	args := []string{"go"}
	if b.Timed() {
		msec := b.MoveTime.Milliseconds()
		if msec <= 0 {
			return nil, fmt.Errorf("move time %s rounds to zero", b.MoveTime)
		}
		args = append(args, "movetime", strconv.FormatInt(msec, 10))
	} else if b.Depth > 0 {
		args = append(args, "depth", strconv.Itoa(b.Depth))
	}
	if len(args) == 1 {
		return nil, fmt.Errorf("budget defines no search limit")
	}
	return args, nil
}

func FormatGoCommand(b Budget) (string, error) {
	args, err := BuildGoCommand(b)
	if err != nil {
		return "", err
	}
	return strings.Join(args, " "), nil
}
