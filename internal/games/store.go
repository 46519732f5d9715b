package games

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/park285/chess-indexer/internal/domain"
	"github.com/park285/chess-indexer/internal/keylock"
	"github.com/park285/chess-indexer/internal/kv"
)

const (
	// MaxRecent bounds both recency indexes and the ListRecent limit.
	MaxRecent        = 25
	defaultCacheSize = 1024
)

// AccountRecorder receives finished games for each human participant.
type AccountRecorder interface {
	RecordFinishedGame(ctx context.Context, accountID string, gameID domain.GameID) error
}

type Options struct {
	RecentCap int
	CacheSize int
	Logger    *zap.Logger
}

// Store is the single owner of game state and of the "new" and "finished" indexes.
// Every mutation of one game runs under that game's lock and writes through to kv
// before the cached copy is replaced.
type Store struct {
	kv       kv.Store
	accounts AccountRecorder
	locks    *keylock.Registry[domain.GameID]
	cache    *lru.Cache[domain.GameID, *domain.Game]
	logger   *zap.Logger
	cap      int

	idxMu  sync.Mutex
	recent map[RecentKind][]domain.GameID
}

var _ domain.EventHandler = (*Store)(nil)

func gameKey(id domain.GameID) string { return "game:" + id.Key() }

// NewStore builds the store and hydrates both recency indexes from kv.
func NewStore(ctx context.Context, store kv.Store, accounts AccountRecorder, opts Options) (*Store, error) {
	if store == nil {
		return nil, fmt.Errorf("games: kv store required")
	}
	if accounts == nil {
		return nil, fmt.Errorf("games: account recorder required")
	}
	capacity := opts.RecentCap
	if capacity <= 0 || capacity > MaxRecent {
		capacity = MaxRecent
	}
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[domain.GameID, *domain.Game](size)
	if err != nil {
		return nil, fmt.Errorf("games cache: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		kv:       store,
		accounts: accounts,
		locks:    keylock.New[domain.GameID](),
		cache:    cache,
		logger:   logger,
		cap:      capacity,
		recent:   make(map[RecentKind][]domain.GameID, 2),
	}
	if err := s.hydrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Apply validates ev and dispatches it to the matching operation.
func (s *Store) Apply(ctx context.Context, ev domain.Event) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", domain.ErrInvalidEvent)
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	return ev.Accept(ctx, s)
}

// CreateGame fails with ErrAlreadyExists when the id is taken.
func (s *Store) CreateGame(ctx context.Context, ev domain.CreateGameEvent) error {
	unlock, err := s.locks.Lock(ctx, ev.GameID)
	if err != nil {
		return err
	}
	defer unlock()

	_, err = s.load(ctx, ev.GameID)
	switch {
	case err == nil:
		return fmt.Errorf("create game %s: %w", ev.GameID, domain.ErrAlreadyExists)
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}

	g := &domain.Game{
		ID:    ev.GameID,
		White: ev.White,
		Black: ev.Black,
		Board: ev.Board,
		Moves: []domain.Move{},
	}
	if err := s.save(ctx, g); err != nil {
		return err
	}
	s.logger.Info("game_create",
		zap.String("game_id", g.ID.Key()),
		zap.Stringer("white", g.White),
		zap.Stringer("black", g.Black),
	)
	return s.pushRecent(ctx, RecentNew, g.ID)
}

// PlayMove appends a move. A move arriving after the outcome is a no-op.
func (s *Store) PlayMove(ctx context.Context, ev domain.PlayMoveEvent) error {
	unlock, err := s.locks.Lock(ctx, ev.GameID)
	if err != nil {
		return err
	}
	defer unlock()

	cur, err := s.load(ctx, ev.GameID)
	if err != nil {
		return err
	}
	if cur.Finished() {
		s.logger.Info("game_move_after_outcome",
			zap.String("game_id", cur.ID.Key()),
			zap.Stringer("outcome", *cur.Outcome),
			zap.String("mv", ev.Mv),
		)
		return nil
	}
	if turn := cur.Turn(); turn != ev.Color {
		// 체인에서 이미 검증된 수이므로 기록만 남기고 적용
		s.logger.Warn("game_move_out_of_turn",
			zap.String("game_id", cur.ID.Key()),
			zap.String("expected", string(turn)),
			zap.String("color", string(ev.Color)),
		)
	}

	next := cur.Clone()
	mv := domain.Move{Color: ev.Color, Mv: ev.Mv, Board: ev.Board}
	if ev.Outcome != nil {
		o := *ev.Outcome
		mv.Outcome = &o
		next.Outcome = &o
	}
	next.Moves = append(next.Moves, mv)
	next.Board = ev.Board
	if err := s.save(ctx, next); err != nil {
		return err
	}
	s.logger.Debug("game_move",
		zap.String("game_id", next.ID.Key()),
		zap.String("color", string(ev.Color)),
		zap.String("mv", ev.Mv),
		zap.Int("ply", len(next.Moves)),
	)
	if next.Finished() {
		return s.conclude(ctx, next)
	}
	return nil
}

// ResignGame records the resignation. Resigning a finished game is a no-op.
func (s *Store) ResignGame(ctx context.Context, ev domain.ResignGameEvent) error {
	unlock, err := s.locks.Lock(ctx, ev.GameID)
	if err != nil {
		return err
	}
	defer unlock()

	cur, err := s.load(ctx, ev.GameID)
	if err != nil {
		return err
	}
	if cur.Finished() {
		s.logger.Info("game_resign_after_outcome",
			zap.String("game_id", cur.ID.Key()),
			zap.Stringer("outcome", *cur.Outcome),
		)
		return nil
	}
	next := cur.Clone()
	o := ev.Outcome
	r := ev.Resigner
	next.Outcome = &o
	next.Resigner = &r
	if err := s.save(ctx, next); err != nil {
		return err
	}
	s.logger.Info("game_resign",
		zap.String("game_id", next.ID.Key()),
		zap.String("resigner", string(r)),
	)
	return s.conclude(ctx, next)
}

// CancelGame deletes the game and drops it from the "new" index. The "finished" index is never touched.
func (s *Store) CancelGame(ctx context.Context, ev domain.CancelGameEvent) error {
	unlock, err := s.locks.Lock(ctx, ev.GameID)
	if err != nil {
		return err
	}
	defer unlock()

	cur, err := s.load(ctx, ev.GameID)
	if err != nil {
		return err
	}
	if cur.Finished() {
		s.logger.Warn("game_cancel_after_outcome",
			zap.String("game_id", cur.ID.Key()),
			zap.Stringer("outcome", *cur.Outcome),
		)
	}
	if err := s.kv.Delete(ctx, gameKey(ev.GameID)); err != nil {
		s.logger.Error("game_delete_failed", zap.String("game_id", ev.GameID.Key()), zap.Error(err))
		return fmt.Errorf("delete game %s: %w", ev.GameID, err)
	}
	s.cache.Remove(ev.GameID)
	s.logger.Info("game_cancel",
		zap.String("game_id", ev.GameID.Key()),
		zap.String("cancelled_by", ev.CancelledBy),
	)
	return s.removeRecent(ctx, RecentNew, ev.GameID)
}

// GetGame returns a copy of the game or ErrNotFound.
func (s *Store) GetGame(ctx context.Context, id domain.GameID) (*domain.Game, error) {
	g, err := s.read(ctx, id)
	if err != nil {
		return nil, err
	}
	return g.Clone(), nil
}

// conclude runs the terminal side effects: finished index first, then every human account.
func (s *Store) conclude(ctx context.Context, g *domain.Game) error {
	s.logger.Info("game_finished",
		zap.String("game_id", g.ID.Key()),
		zap.Stringer("outcome", *g.Outcome),
	)
	var errs []error
	if err := s.pushRecent(ctx, RecentFinished, g.ID); err != nil {
		errs = append(errs, err)
	}
	for _, acc := range g.HumanAccounts() {
		if err := s.accounts.RecordFinishedGame(ctx, acc, g.ID); err != nil {
			s.logger.Error("game_account_update_failed",
				zap.String("game_id", g.ID.Key()),
				zap.String("account_id", acc),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// read serves from the cache or loads under the game lock.
func (s *Store) read(ctx context.Context, id domain.GameID) (*domain.Game, error) {
	if g, ok := s.cache.Get(id); ok {
		return g, nil
	}
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.load(ctx, id)
}

// load must run under the game lock. The result is shared and must not be mutated.
func (s *Store) load(ctx context.Context, id domain.GameID) (*domain.Game, error) {
	if g, ok := s.cache.Get(id); ok {
		return g, nil
	}
	var g domain.Game
	if err := kv.GetJSON(ctx, s.kv, gameKey(id), &g); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("game %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load game %s: %w", id, err)
	}
	if g.Moves == nil {
		g.Moves = []domain.Move{}
	}
	s.cache.Add(id, &g)
	return &g, nil
}

func (s *Store) save(ctx context.Context, g *domain.Game) error {
	if err := kv.PutJSON(ctx, s.kv, gameKey(g.ID), g); err != nil {
		s.logger.Error("game_save_failed", zap.String("game_id", g.ID.Key()), zap.Error(err))
		return fmt.Errorf("save game %s: %w", g.ID, err)
	}
	s.cache.Add(g.ID, g)
	return nil
}
