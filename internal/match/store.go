package match

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kapu/checkers-live/internal/game"
)

// Store wraps the Redis keys backing live games: the record itself, the
// append-only move log, and the per-user game index. Every helper accepts a
// Cmdable so the same code path serves both plain reads and WATCH bodies.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) keyGame(id string) string     { return "game:" + id }
func (s *Store) keyLog(id string) string      { return s.keyGame(id) + ":log" }
func (s *Store) keyUserIdx(uid string) string { return "game:index:user:" + uid }

// LoadGame reads a record; nil without error when the key is missing.
func (s *Store) LoadGame(ctx context.Context, c redis.Cmdable, id string) (*game.Game, error) {
	raw, err := c.Get(ctx, s.keyGame(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var g game.Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// SaveGame writes the record and refreshes the companion TTLs.
func (s *Store) SaveGame(ctx context.Context, c redis.Cmdable, g *game.Game) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	if err := c.Set(ctx, s.keyGame(g.ID), raw, s.ttl).Err(); err != nil {
		return err
	}
	_ = c.Expire(ctx, s.keyLog(g.ID), s.ttl).Err()
	return nil
}

// AppendLog pushes one accepted move. The list offset of an entry always
// equals its MoveIndex while the game is live: version and move count only
// diverge on the terminal draw/resign bump, after which no move is appended.
func (s *Store) AppendLog(ctx context.Context, c redis.Cmdable, e *game.MoveLogEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := c.RPush(ctx, s.keyLog(e.GameID), raw).Err(); err != nil {
		return err
	}
	return c.Expire(ctx, s.keyLog(e.GameID), s.ttl).Err()
}

// LogSince returns every entry with MoveIndex >= from, in order.
func (s *Store) LogSince(ctx context.Context, c redis.Cmdable, gameID string, from int) ([]game.MoveLogEntry, error) {
	if from < 0 {
		from = 0
	}
	raws, err := c.LRange(ctx, s.keyLog(gameID), int64(from), -1).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out := make([]game.MoveLogEntry, 0, len(raws))
	for _, raw := range raws {
		var e game.MoveLogEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// IndexParticipant records the user -> game edge for lookup.
func (s *Store) IndexParticipant(ctx context.Context, c redis.Cmdable, gameID, userID string) error {
	if userID == "" {
		return nil
	}
	key := s.keyUserIdx(userID)
	if err := c.SAdd(ctx, key, gameID).Err(); err != nil {
		return err
	}
	return c.Expire(ctx, key, s.ttl).Err()
}

// GamesByUser lists game ids the user participates in.
func (s *Store) GamesByUser(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.keyUserIdx(userID)).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	return ids, nil
}
