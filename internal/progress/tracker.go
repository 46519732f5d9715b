package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/chess-indexer/internal/domain"
	"github.com/park285/chess-indexer/internal/kv"
)

const infoKey = "info"

// Tracker records the height of the last ingested batch.
type Tracker struct {
	kv     kv.Store
	logger *zap.Logger

	mu     sync.Mutex
	loaded bool
	height uint64
}

func NewTracker(store kv.Store, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{kv: store, logger: logger}
}

// RecordHeight overwrites the stored height unconditionally. Lower heights are logged, not refused.
func (t *Tracker) RecordHeight(ctx context.Context, h uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loaded && h < t.height {
		t.logger.Warn("progress_height_regressed",
			zap.Uint64("previous", t.height),
			zap.Uint64("height", h),
		)
	}
	if err := kv.PutJSON(ctx, t.kv, infoKey, domain.Info{LastBlockHeight: h}); err != nil {
		return fmt.Errorf("record height %d: %w", h, err)
	}
	t.height = h
	t.loaded = true
	return nil
}

// GetHeight returns the last recorded height, 0 when nothing was recorded.
func (t *Tracker) GetHeight(ctx context.Context) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.loaded {
		return t.height, nil
	}
	var info domain.Info
	err := kv.GetJSON(ctx, t.kv, infoKey, &info)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		info.LastBlockHeight = 0
	case err != nil:
		return 0, fmt.Errorf("load height: %w", err)
	}
	t.height = info.LastBlockHeight
	t.loaded = true
	return t.height, nil
}

func (t *Tracker) Info(ctx context.Context) (domain.Info, error) {
	h, err := t.GetHeight(ctx)
	if err != nil {
		return domain.Info{}, err
	}
	return domain.Info{LastBlockHeight: h}, nil
}
