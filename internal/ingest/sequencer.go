package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/chess-indexer/internal/domain"
	"github.com/park285/chess-indexer/internal/kv"
)

const defaultConcurrency = 16

// Applier applies a single validated event.
type Applier interface {
	Apply(ctx context.Context, ev domain.Event) error
}

type HeightRecorder interface {
	RecordHeight(ctx context.Context, h uint64) error
}

type Options struct {
	// Concurrency bounds the number of events in flight across games.
	Concurrency int
	Logger      *zap.Logger
}

// Result summarizes one batch. It is for logging only.
type Result struct {
	BatchID  string
	Height   uint64
	Events   int
	Applied  int
	Failed   int
	Skipped  int
	Duration time.Duration
}

// Sequencer applies a batch with one ordered chain per game id. Chains of different games run concurrently.
type Sequencer struct {
	applier     Applier
	heights     HeightRecorder
	concurrency int
	logger      *zap.Logger
}

func NewSequencer(applier Applier, heights HeightRecorder, opts Options) *Sequencer {
	c := opts.Concurrency
	if c <= 0 {
		c = defaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequencer{applier: applier, heights: heights, concurrency: c, logger: logger}
}

type chain struct {
	done    chan struct{}
	aborted atomic.Bool
}

// Ingest applies every event and then records the batch height.
//
// A failing event is logged and the rest of its game's chain still runs. A storage failure
// stops the remaining events of that game only. Cancellation of ctx aborts the batch and
// the height is not recorded.
func (s *Sequencer) Ingest(ctx context.Context, b *domain.Batch) (*Result, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil batch", domain.ErrInvalidEvent)
	}
	start := time.Now()
	batchID := uuid.NewString()
	logger := s.logger.With(zap.String("batch_id", batchID), zap.Uint64("height", b.BlockHeight))

	var applied, failed, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	tails := make(map[domain.GameID]*chain)
	chains := make(map[domain.GameID]*chain)
	for i, ev := range b.Events {
		id := ev.Game()
		prev := tails[id]
		c, ok := chains[id]
		if !ok {
			c = &chain{}
			chains[id] = c
		}
		link := &chain{done: make(chan struct{})}
		tails[id] = link

		idx, event := i, ev
		g.Go(func() error {
			defer close(link.done)
			if prev != nil {
				select {
				case <-prev.done:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if c.aborted.Load() {
				skipped.Add(1)
				return nil
			}
			err := s.applier.Apply(gctx, event)
			switch {
			case err == nil:
				applied.Add(1)
				return nil
			case gctx.Err() != nil:
				return gctx.Err()
			case errors.Is(err, kv.ErrStorage):
				failed.Add(1)
				c.aborted.Store(true)
				logger.Error("ingest_game_aborted",
					zap.Int("index", idx),
					zap.String("event", string(event.Kind())),
					zap.String("game_id", id.Key()),
					zap.Error(err),
				)
				return nil
			default:
				failed.Add(1)
				logger.Warn("ingest_event_failed",
					zap.Int("index", idx),
					zap.String("event", string(event.Kind())),
					zap.String("game_id", id.Key()),
					zap.Error(err),
				)
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("batch_aborted", zap.Error(err))
		return nil, fmt.Errorf("ingest batch %d: %w", b.BlockHeight, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ingest batch %d: %w", b.BlockHeight, err)
	}
	if err := s.heights.RecordHeight(ctx, b.BlockHeight); err != nil {
		logger.Error("batch_height_failed", zap.Error(err))
		return nil, err
	}

	res := &Result{
		BatchID:  batchID,
		Height:   b.BlockHeight,
		Events:   len(b.Events),
		Applied:  int(applied.Load()),
		Failed:   int(failed.Load()),
		Skipped:  int(skipped.Load()),
		Duration: time.Since(start),
	}
	logger.Info("batch_ingested",
		zap.Int("events", res.Events),
		zap.Int("applied", res.Applied),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Int("games", len(chains)),
		zap.Duration("took", res.Duration),
	)
	return res, nil
}
