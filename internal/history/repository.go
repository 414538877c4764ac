// Package history archives finished games.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/chess-autopilot/internal/domain"
)

var ErrDuplicateGame = errors.New("game already archived")

type Repository interface {
	SaveGame(ctx context.Context, rec *domain.GameRecord) (int64, error)
	GameBySession(ctx context.Context, sessionUUID string) (*domain.GameRecord, error)
	RecentGames(ctx context.Context, limit int) ([]*domain.GameRecord, error)
	Close() error
}

// Open returns the Postgres repository, or the in-memory one when
// databaseURL is empty.
func Open(ctx context.Context, databaseURL string) (Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryRepository(), nil
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if err := Migrate(pctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return NewRepository(db), nil
}

const schema = `
CREATE TABLE IF NOT EXISTS autopilot_games (
	id            BIGSERIAL PRIMARY KEY,
	session_uuid  TEXT NOT NULL UNIQUE,
	played_as     TEXT NOT NULL,
	speed_mode    TEXT NOT NULL,
	deceive       BOOLEAN NOT NULL,
	level         INTEGER NOT NULL,
	result        TEXT NOT NULL,
	verdict       TEXT NOT NULL,
	method        TEXT NOT NULL,
	eco           TEXT NOT NULL,
	opening       TEXT NOT NULL,
	moves_uci     JSONB NOT NULL,
	moves_san     JSONB NOT NULL,
	pgn           TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT NOT NULL,
	engine_ms     BIGINT NOT NULL,
	failure       TEXT NOT NULL
)`

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// Migrate creates the archive table if it does not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

func (r *repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *repository) SaveGame(ctx context.Context, rec *domain.GameRecord) (int64, error) {
	if rec == nil {
		return 0, fmt.Errorf("nil game record")
	}
	movesUCI, err := json.Marshal(nonNil(rec.MovesUCI))
	if err != nil {
		return 0, fmt.Errorf("marshal moves_uci: %w", err)
	}
	movesSAN, err := json.Marshal(nonNil(rec.MovesSAN))
	if err != nil {
		return 0, fmt.Errorf("marshal moves_san: %w", err)
	}
	pgn := rec.PGN
	if pgn == "" {
		pgn = BuildPGN(rec)
	}

	const query = `
		INSERT INTO autopilot_games (
			session_uuid, played_as, speed_mode, deceive, level,
			result, verdict, method, eco, opening,
			moves_uci, moves_san, pgn,
			started_at, ended_at, duration_ms, engine_ms, failure
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::jsonb,$12::jsonb,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (session_uuid) DO NOTHING
		RETURNING id`

	var id sql.NullInt64
	err = r.db.QueryRowContext(ctx, query,
		rec.SessionUUID, rec.PlayedAs, rec.SpeedMode, rec.Deceive, rec.Level,
		rec.Result, rec.Verdict, rec.Method, rec.ECO, rec.Opening,
		string(movesUCI), string(movesSAN), pgn,
		rec.StartedAt, rec.EndedAt, rec.Duration.Milliseconds(), rec.EngineTime.Milliseconds(), rec.Failure,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return 0, ErrDuplicateGame
	}
	if err != nil {
		return 0, fmt.Errorf("insert game: %w", err)
	}
	return id.Int64, nil
}

const selectColumns = `
	id, session_uuid, played_as, speed_mode, deceive, level,
	result, verdict, method, eco, opening,
	moves_uci, moves_san, pgn,
	started_at, ended_at, duration_ms, engine_ms, failure`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.GameRecord, error) {
	var (
		rec              domain.GameRecord
		movesUCI         []byte
		movesSAN         []byte
		durationMS, engM int64
	)
	if err := row.Scan(
		&rec.ID, &rec.SessionUUID, &rec.PlayedAs, &rec.SpeedMode, &rec.Deceive, &rec.Level,
		&rec.Result, &rec.Verdict, &rec.Method, &rec.ECO, &rec.Opening,
		&movesUCI, &movesSAN, &rec.PGN,
		&rec.StartedAt, &rec.EndedAt, &durationMS, &engM, &rec.Failure,
	); err != nil {
		return nil, err
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	rec.EngineTime = time.Duration(engM) * time.Millisecond
	if err := json.Unmarshal(movesUCI, &rec.MovesUCI); err != nil {
		return nil, fmt.Errorf("unmarshal moves_uci: %w", err)
	}
	if err := json.Unmarshal(movesSAN, &rec.MovesSAN); err != nil {
		return nil, fmt.Errorf("unmarshal moves_san: %w", err)
	}
	return &rec, nil
}

func (r *repository) GameBySession(ctx context.Context, sessionUUID string) (*domain.GameRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+selectColumns+` FROM autopilot_games WHERE session_uuid = $1`, strings.TrimSpace(sessionUUID))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select game: %w", err)
	}
	return rec, nil
}

func (r *repository) RecentGames(ctx context.Context, limit int) ([]*domain.GameRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `SELECT`+selectColumns+` FROM autopilot_games ORDER BY ended_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select games: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.GameRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
