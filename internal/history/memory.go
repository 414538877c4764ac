package history

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/park285/chess-autopilot/internal/domain"
)

// memrepo keeps the archive in process memory; used when no database is configured.
type memrepo struct {
	mu        sync.RWMutex
	nextID    int64
	byID      map[int64]*domain.GameRecord
	bySession map[string]*domain.GameRecord
}

func NewMemoryRepository() Repository {
	return &memrepo{
		byID:      make(map[int64]*domain.GameRecord),
		bySession: make(map[string]*domain.GameRecord),
	}
}

func (m *memrepo) SaveGame(_ context.Context, rec *domain.GameRecord) (int64, error) {
	if rec == nil {
		return 0, ErrDuplicateGame
	}
	key := strings.TrimSpace(rec.SessionUUID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bySession[key]; exists {
		return 0, ErrDuplicateGame
	}
	m.nextID++
	stored := *rec
	stored.ID = m.nextID
	if stored.PGN == "" {
		stored.PGN = BuildPGN(&stored)
	}
	m.byID[stored.ID] = &stored
	m.bySession[key] = &stored
	return stored.ID, nil
}

func (m *memrepo) GameBySession(_ context.Context, sessionUUID string) (*domain.GameRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.bySession[strings.TrimSpace(sessionUUID)]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

func (m *memrepo) RecentGames(_ context.Context, limit int) ([]*domain.GameRecord, error) {
	m.mu.RLock()
	items := make([]*domain.GameRecord, 0, len(m.byID))
	for _, rec := range m.byID {
		out := *rec
		items = append(items, &out)
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].EndedAt.Equal(items[j].EndedAt) {
			return items[i].EndedAt.After(items[j].EndedAt)
		}
		return items[i].ID > items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memrepo) Close() error { return nil }
