// Package store keeps the live session snapshot in Redis.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/chess-autopilot/internal/domain"
)

const ttlSession = 24 * time.Hour

type Store struct{ rdb *redis.Client }

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

// Open connects to redisURL (redis:// or rediss://) and pings it.
func Open(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewStore(rdb), nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func keySession(id string) string { return "autopilot:session:" + strings.TrimSpace(id) }
func keyMoves(id string) string   { return keySession(id) + ":moves" }

const keyActive = "autopilot:active"

// Save writes the snapshot and marks it as the active session until Finish.
func (s *Store) Save(ctx context.Context, snap *domain.SessionSnapshot) error {
	if snap == nil || strings.TrimSpace(snap.SessionUUID) == "" {
		return errors.New("snapshot without session id")
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, keySession(snap.SessionUUID), raw, ttlSession)
	pipe.Set(ctx, keyActive, snap.SessionUUID, ttlSession)
	_, err = pipe.Exec(ctx)
	return err
}

// AppendMove records one half-move in the session's move list.
func (s *Store) AppendMove(ctx context.Context, id, san string) error {
	if strings.TrimSpace(san) == "" {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, keyMoves(id), san)
	pipe.Expire(ctx, keyMoves(id), ttlSession)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) Moves(ctx context.Context, id string) ([]string, error) {
	return s.rdb.LRange(ctx, keyMoves(id), 0, -1).Result()
}

func (s *Store) Load(ctx context.Context, id string) (*domain.SessionSnapshot, error) {
	raw, err := s.rdb.Get(ctx, keySession(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap domain.SessionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Active returns the snapshot of the game currently being played, if any.
func (s *Store) Active(ctx context.Context) (*domain.SessionSnapshot, error) {
	id, err := s.rdb.Get(ctx, keyActive).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, id)
}

// Finish clears the active marker if it still points at id. The snapshot
// itself stays until its TTL runs out.
func (s *Store) Finish(ctx context.Context, id string) error {
	cur, err := s.rdb.Get(ctx, keyActive).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if cur != strings.TrimSpace(id) {
		return nil
	}
	return s.rdb.Del(ctx, keyActive).Err()
}

func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
