package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/park285/chess-indexer/internal/domain"
	"github.com/park285/chess-indexer/internal/keylock"
	"github.com/park285/chess-indexer/internal/kv"
)

const defaultCacheSize = 1024

func accountKey(id string) string { return "account:" + id }

type Options struct {
	CacheSize int
	Logger    *zap.Logger
}

// Store owns Account aggregates. Writes to one account are serialized through a per-account lock.
type Store struct {
	kv     kv.Store
	locks  *keylock.Registry[string]
	cache  *lru.Cache[string, *domain.Account]
	logger *zap.Logger
}

func NewStore(store kv.Store, opts Options) (*Store, error) {
	if store == nil {
		return nil, fmt.Errorf("accounts: kv store required")
	}
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, *domain.Account](size)
	if err != nil {
		return nil, fmt.Errorf("accounts cache: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{kv: store, locks: keylock.New[string](), cache: cache, logger: logger}, nil
}

// GetAccount returns the account or a fresh empty one. Unknown accounts are not persisted.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, fmt.Errorf("%w: empty account id", domain.ErrInvalidEvent)
	}
	acc, err := s.read(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return acc.Clone(), nil
}

// RecordFinishedGame appends gameID to the account. Duplicate calls append duplicates.
func (s *Store) RecordFinishedGame(ctx context.Context, accountID string, gameID domain.GameID) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("%w: empty account id", domain.ErrInvalidEvent)
	}
	unlock, err := s.locks.Lock(ctx, accountID)
	if err != nil {
		return err
	}
	defer unlock()

	cur, err := s.load(ctx, accountID)
	if err != nil {
		return err
	}
	next := cur.Clone()
	next.FinishedGameIDs = append(next.FinishedGameIDs, gameID)
	if err := kv.PutJSON(ctx, s.kv, accountKey(accountID), next); err != nil {
		s.logger.Error("account_save_failed",
			zap.String("account_id", accountID),
			zap.String("game_id", gameID.Key()),
			zap.Error(err),
		)
		return fmt.Errorf("save account %s: %w", accountID, err)
	}
	s.cache.Add(accountID, next)
	s.logger.Debug("account_finished_game",
		zap.String("account_id", accountID),
		zap.String("game_id", gameID.Key()),
		zap.Int("finished", len(next.FinishedGameIDs)),
	)
	return nil
}

// read fills the cache under the account lock so a stale load cannot overwrite a newer append.
func (s *Store) read(ctx context.Context, accountID string) (*domain.Account, error) {
	if acc, ok := s.cache.Get(accountID); ok {
		return acc, nil
	}
	unlock, err := s.locks.Lock(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.load(ctx, accountID)
}

// load must run under the account lock. Callers must not mutate the result.
func (s *Store) load(ctx context.Context, accountID string) (*domain.Account, error) {
	if acc, ok := s.cache.Get(accountID); ok {
		return acc, nil
	}
	var acc domain.Account
	err := kv.GetJSON(ctx, s.kv, accountKey(accountID), &acc)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		acc = domain.Account{AccountID: accountID, FinishedGameIDs: []domain.GameID{}}
	case err != nil:
		return nil, fmt.Errorf("load account %s: %w", accountID, err)
	}
	if acc.AccountID == "" {
		acc.AccountID = accountID
	}
	if acc.FinishedGameIDs == nil {
		acc.FinishedGameIDs = []domain.GameID{}
	}
	s.cache.Add(accountID, &acc)
	return &acc, nil
}
