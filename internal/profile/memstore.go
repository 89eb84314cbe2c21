package profile

import (
	"context"
	"sync"
	"time"

	"github.com/valorforge/arena-server/internal/domain"
)

// MemStore is a development and test implementation used when no database is
// configured. Same additive-delta semantics as the Postgres repository.
type MemStore struct {
	mu sync.RWMutex

	profiles map[string]*Profile
	results  map[string]*domain.BattleResult
}

func NewMemStore() *MemStore {
	return &MemStore{
		profiles: make(map[string]*Profile),
		results:  make(map[string]*domain.BattleResult),
	}
}

func (m *MemStore) ApplyDelta(ctx context.Context, delta domain.ProfileDelta) (domain.ProfileTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[delta.PlayerID]
	if !ok {
		p = &Profile{PlayerID: delta.PlayerID}
		m.profiles[delta.PlayerID] = p
	}
	p.TotalXP += delta.ExperienceDelta
	p.BattleRating += delta.RatingDelta
	p.BattlesPlayed += delta.BattlesPlayed
	p.BattlesWon += delta.BattlesWon
	p.QuestsCompleted += delta.QuestsCompleted
	p.LastBattleAt = time.Now()
	return domain.ProfileTotals{
		TotalXP:         p.TotalXP,
		BattleRating:    p.BattleRating,
		BattlesWon:      p.BattlesWon,
		QuestsCompleted: p.QuestsCompleted,
	}, nil
}

// SaveBattleResult keeps the first write, matching ON CONFLICT DO NOTHING.
func (m *MemStore) SaveBattleResult(ctx context.Context, result *domain.BattleResult) error {
	if result == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.results[result.BattleID]; !exists {
		copied := *result
		m.results[result.BattleID] = &copied
	}
	return nil
}

func (m *MemStore) GetProfile(ctx context.Context, playerID string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[playerID]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (m *MemStore) GetBattleResult(ctx context.Context, battleID string) (*domain.BattleResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[battleID]
	if !ok {
		return nil, nil
	}
	copied := *r
	return &copied, nil
}
