package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/chess-autopilot/internal/domain"
)

const (
	pgnEvent = "Autopilot"
	pgnSite  = "lichess.org"
	botName  = "autopilot"
)

// BuildPGN renders rec as a PGN game with the seven-tag roster plus the
// opening and termination tags that are known.
func BuildPGN(rec *domain.GameRecord) string {
	if rec == nil {
		return ""
	}
	result := strings.TrimSpace(rec.Result)
	if result == "" {
		result = "*"
	}
	date := rec.StartedAt
	if date.IsZero() {
		date = time.Now()
	}
	opponent := "lichess AI"
	if rec.Level > 0 {
		opponent = fmt.Sprintf("lichess AI level %d", rec.Level)
	}
	white, black := botName, opponent
	if strings.EqualFold(rec.PlayedAs, "black") {
		white, black = opponent, botName
	}

	var b strings.Builder
	tag := func(name, value string) {
		fmt.Fprintf(&b, "[%s \"%s\"]\n", name, sanitizePGN(value))
	}
	tag("Event", pgnEvent)
	tag("Site", pgnSite)
	tag("Date", fmt.Sprintf("%04d.%02d.%02d", date.Year(), int(date.Month()), date.Day()))
	tag("Round", "-")
	tag("White", white)
	tag("Black", black)
	tag("Result", result)
	if rec.ECO != "" {
		tag("ECO", rec.ECO)
	}
	if rec.Opening != "" {
		tag("Opening", rec.Opening)
	}
	if rec.SpeedMode != "" {
		tag("Mode", rec.SpeedMode)
	}
	if rec.Verdict != "" {
		tag("Termination", strings.ToLower(rec.Verdict))
	}
	b.WriteString("\n")

	for i := 0; i < len(rec.MovesSAN); i += 2 {
		fmt.Fprintf(&b, "%d. %s ", i/2+1, strings.TrimSpace(rec.MovesSAN[i]))
		if i+1 < len(rec.MovesSAN) {
			b.WriteString(strings.TrimSpace(rec.MovesSAN[i+1]))
			b.WriteString(" ")
		}
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
