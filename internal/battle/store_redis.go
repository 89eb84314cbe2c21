package battle

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store wraps the Redis document layout for battle sessions. Live records
// carry a TTL; archive records are cold storage and never expire.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) keyBattle(id string) string { return "arena:battle:" + strings.TrimSpace(id) }
func (s *Store) keyPlayer(id, uid string) string {
	return s.keyBattle(id) + ":player:" + strings.TrimSpace(uid)
}
func (s *Store) keyActions(id string) string { return s.keyBattle(id) + ":actions" }
func (s *Store) keyArchiveBattle(id string) string {
	return "arena:archive:battle:" + strings.TrimSpace(id)
}
func (s *Store) keyArchivePlayer(id, uid string) string {
	return s.keyArchiveBattle(id) + ":player:" + strings.TrimSpace(uid)
}

// isSessionKey filters SCAN results down to root session documents.
func isSessionKey(key string) bool {
	rest := strings.TrimPrefix(key, "arena:battle:")
	return rest != key && !strings.Contains(rest, ":")
}

// CreateSession writes the session only if the id is unclaimed.
func (s *Store) CreateSession(ctx context.Context, sess *Session) (bool, error) {
	raw, err := json.Marshal(sess)
	if err != nil {
		return false, err
	}
	return s.rdb.SetNX(ctx, s.keyBattle(sess.ID), raw, s.ttl).Result()
}

func (s *Store) SaveSession(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.keyBattle(sess.ID), raw, s.ttl).Err()
}

func (s *Store) LoadSession(ctx context.Context, id string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, s.keyBattle(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) SavePlayerState(ctx context.Context, ps *PlayerState) error {
	raw, err := json.Marshal(ps)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.keyPlayer(ps.BattleID, ps.PlayerID), raw, s.ttl).Err()
}

func (s *Store) LoadPlayerState(ctx context.Context, battleID, playerID string) (*PlayerState, error) {
	raw, err := s.rdb.Get(ctx, s.keyPlayer(battleID, playerID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ps PlayerState
	if err := json.Unmarshal(raw, &ps); err != nil {
		return nil, err
	}
	return &ps, nil
}

// AppendAction pushes one audit record onto the battle's action log.
func (s *Store) AppendAction(ctx context.Context, battleID string, rec *ActionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.rdb.RPush(ctx, s.keyActions(battleID), raw).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, s.keyActions(battleID), s.ttl).Err()
}

// Actions returns the full action log in submission order.
func (s *Store) Actions(ctx context.Context, battleID string) ([]ActionRecord, error) {
	raws, err := s.rdb.LRange(ctx, s.keyActions(battleID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ActionRecord, 0, len(raws))
	for _, raw := range raws {
		var rec ActionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ArchivePlayerState writes the cold copy. Same target key on every retry,
// so a rerun after partial failure overwrites rather than duplicates.
func (s *Store) ArchivePlayerState(ctx context.Context, ps *PlayerState) error {
	raw, err := json.Marshal(ps)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.keyArchivePlayer(ps.BattleID, ps.PlayerID), raw, 0).Err()
}

func (s *Store) DeletePlayerState(ctx context.Context, battleID, playerID string) error {
	return s.rdb.Del(ctx, s.keyPlayer(battleID, playerID)).Err()
}

func (s *Store) ClearActions(ctx context.Context, battleID string) error {
	return s.rdb.Del(ctx, s.keyActions(battleID)).Err()
}

// ArchiveSession copies the full session record to cold storage.
func (s *Store) ArchiveSession(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.keyArchiveBattle(sess.ID), raw, 0).Err()
}

// DeleteSession removes the live record; reports whether it still existed.
func (s *Store) DeleteSession(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Del(ctx, s.keyBattle(id)).Result()
	return n > 0, err
}

func (s *Store) LoadArchivedSession(ctx context.Context, id string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, s.keyArchiveBattle(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) LoadArchivedPlayerState(ctx context.Context, battleID, playerID string) (*PlayerState, error) {
	raw, err := s.rdb.Get(ctx, s.keyArchivePlayer(battleID, playerID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ps PlayerState
	if err := json.Unmarshal(raw, &ps); err != nil {
		return nil, err
	}
	return &ps, nil
}

// ScanSessions walks live session keys in batches. Returns ids and the
// cursor for the next call.
func (s *Store) ScanSessions(ctx context.Context, cursor uint64, count int) ([]string, uint64, error) {
	keys, next, err := s.rdb.Scan(ctx, cursor, "arena:battle:*", int64(count)).Result()
	if err != nil {
		return nil, 0, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if isSessionKey(k) {
			ids = append(ids, strings.TrimPrefix(k, "arena:battle:"))
		}
	}
	return ids, next, nil
}
