package progress

import (
	"context"
	"errors"
	"fmt"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/park285/chess-indexer/internal/kv"
	"github.com/park285/chess-indexer/internal/kv/kvtest"
)

func TestTrackerDefaultsToZero(t *testing.T) {
	tr := NewTracker(kv.NewMemoryStore(), nil)
	h, err := tr.GetHeight(context.Background())
	if err != nil || h != 0 {
		t.Fatalf("GetHeight = %d, %v", h, err)
	}
}

func TestTrackerPersistsAcrossRestart(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	ctx := context.Background()
	backend, err := kv.NewRedisStore(ctx, fmt.Sprintf("redis://%s/0", mr.Addr()), "")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}

	tr := NewTracker(backend, nil)
	for _, h := range []uint64{10, 12, 11} {
		if err := tr.RecordHeight(ctx, h); err != nil {
			t.Fatalf("RecordHeight(%d): %v", h, err)
		}
	}
	raw, err := mr.Get("idx:info")
	if err != nil || raw != `{"lastBlockHeight":11}` {
		t.Fatalf("stored info = %q, %v", raw, err)
	}

	restarted := NewTracker(backend, nil)
	info, err := restarted.Info(ctx)
	if err != nil || info.LastBlockHeight != 11 {
		t.Fatalf("Info after restart = %+v, %v", info, err)
	}
}

func TestTrackerWriteFailureKeepsPrevious(t *testing.T) {
	backend := kvtest.Wrap(kv.NewMemoryStore())
	tr := NewTracker(backend, nil)
	ctx := context.Background()
	if err := tr.RecordHeight(ctx, 5); err != nil {
		t.Fatalf("RecordHeight: %v", err)
	}
	backend.FailPut("info")
	if err := tr.RecordHeight(ctx, 6); !errors.Is(err, kv.ErrStorage) {
		t.Fatalf("want ErrStorage, got %v", err)
	}
	if h, _ := tr.GetHeight(ctx); h != 5 {
		t.Fatalf("height after failed write = %d, want 5", h)
	}
}
