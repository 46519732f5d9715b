package games

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/park285/chess-indexer/internal/domain"
	"github.com/park285/chess-indexer/internal/kv"
)

// RecentKind selects a recency index.
type RecentKind string

const (
	RecentNew      RecentKind = "new"
	RecentFinished RecentKind = "finished"
)

func (k RecentKind) Valid() bool { return k == RecentNew || k == RecentFinished }

func (k RecentKind) key() string {
	if k == RecentFinished {
		return "finishedGameIds"
	}
	return "newGameIds"
}

// ParseRecentKind maps "new" and "finished" to their index.
func ParseRecentKind(s string) (RecentKind, error) {
	k := RecentKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown recent kind %q", domain.ErrInvalidEvent, s)
	}
	return k, nil
}

// ListRecent returns up to limit games of the index, most recent first.
// Index entries whose game can no longer be found are skipped.
func (s *Store) ListRecent(ctx context.Context, kind RecentKind, limit int, includeMoves bool) ([]*domain.Game, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown recent kind %q", domain.ErrInvalidEvent, kind)
	}
	if limit <= 0 || limit > MaxRecent {
		limit = MaxRecent
	}
	ids := s.RecentIDs(kind)
	out := make([]*domain.Game, 0, min(limit, len(ids)))
	for _, id := range ids {
		if len(out) == limit {
			break
		}
		g, err := s.read(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Debug("recent_stale_reference",
				zap.String("kind", string(kind)),
				zap.String("game_id", id.Key()),
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		if includeMoves {
			out = append(out, g.Clone())
		} else {
			out = append(out, g.WithoutMoves())
		}
	}
	return out, nil
}

// RecentIDs returns a snapshot of the index.
func (s *Store) RecentIDs(kind RecentKind) []domain.GameID {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	return append([]domain.GameID(nil), s.recent[kind]...)
}

// pushRecent prepends id, evicting the tail beyond the cap. An id already present moves to the head.
func (s *Store) pushRecent(ctx context.Context, kind RecentKind, id domain.GameID) error {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	cur := s.recent[kind]
	next := make([]domain.GameID, 0, s.cap)
	next = append(next, id)
	for _, existing := range cur {
		if len(next) == s.cap {
			break
		}
		if existing != id {
			next = append(next, existing)
		}
	}
	return s.storeRecent(ctx, kind, next)
}

func (s *Store) removeRecent(ctx context.Context, kind RecentKind, id domain.GameID) error {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	cur := s.recent[kind]
	next := make([]domain.GameID, 0, len(cur))
	for _, existing := range cur {
		if existing != id {
			next = append(next, existing)
		}
	}
	if len(next) == len(cur) {
		return nil
	}
	return s.storeRecent(ctx, kind, next)
}

// storeRecent must run under idxMu. Memory is swapped only after the write succeeds.
func (s *Store) storeRecent(ctx context.Context, kind RecentKind, ids []domain.GameID) error {
	if err := kv.PutJSON(ctx, s.kv, kind.key(), ids); err != nil {
		s.logger.Error("recent_save_failed", zap.String("kind", string(kind)), zap.Error(err))
		return fmt.Errorf("save %s index: %w", kind, err)
	}
	s.recent[kind] = ids
	return nil
}

// hydrate loads both indexes and warms the cache with their games.
func (s *Store) hydrate(ctx context.Context) error {
	for _, kind := range []RecentKind{RecentNew, RecentFinished} {
		var ids []domain.GameID
		err := kv.GetJSON(ctx, s.kv, kind.key(), &ids)
		switch {
		case errors.Is(err, kv.ErrNotFound):
			ids = []domain.GameID{}
		case err != nil:
			return fmt.Errorf("hydrate %s index: %w", kind, err)
		}
		if len(ids) > s.cap {
			ids = ids[:s.cap]
		}
		s.recent[kind] = ids
		for _, id := range ids {
			if _, err := s.read(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
				s.logger.Warn("hydrate_game_failed", zap.String("game_id", id.Key()), zap.Error(err))
			}
		}
	}
	s.logger.Info("games_hydrated",
		zap.Int("new", len(s.recent[RecentNew])),
		zap.Int("finished", len(s.recent[RecentFinished])),
	)
	return nil
}
