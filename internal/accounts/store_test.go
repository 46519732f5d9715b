package accounts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/park285/chess-indexer/internal/domain"
	"github.com/park285/chess-indexer/internal/kv"
	"github.com/park285/chess-indexer/internal/kv/kvtest"
)

func newTestStore(t *testing.T, backend kv.Store) *Store {
	t.Helper()
	s, err := NewStore(backend, Options{CacheSize: 8})
	if err != nil {
		t.Fatalf("accounts.NewStore: %v", err)
	}
	return s
}

func TestGetAccountUnknownIsEmpty(t *testing.T) {
	backend := kv.NewMemoryStore()
	s := newTestStore(t, backend)
	acc, err := s.GetAccount(context.Background(), "nobody.near")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acc.AccountID != "nobody.near" || acc.FinishedGameIDs == nil || len(acc.FinishedGameIDs) != 0 {
		t.Fatalf("unexpected account: %+v", acc)
	}
	if backend.Len() != 0 {
		t.Fatalf("reading an unknown account should not persist it")
	}
}

func TestRecordFinishedGameAppendsAndPersists(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	backend, err := kv.NewRedisStore(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()), "")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	ctx := context.Background()
	s := newTestStore(t, backend)

	g1 := domain.GameID{Height: 1, Creator: "alice.near", Opponent: "bob.near"}
	g2 := domain.GameID{Height: 2, Creator: "alice.near"}
	for _, id := range []domain.GameID{g1, g2, g2} {
		if err := s.RecordFinishedGame(ctx, "alice.near", id); err != nil {
			t.Fatalf("RecordFinishedGame: %v", err)
		}
	}

	// fresh store over the same backend sees the persisted record
	reopened := newTestStore(t, backend)
	acc, err := reopened.GetAccount(ctx, "alice.near")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	want := []domain.GameID{g1, g2, g2}
	if len(acc.FinishedGameIDs) != len(want) {
		t.Fatalf("finished ids = %v, want %v", acc.FinishedGameIDs, want)
	}
	for i := range want {
		if acc.FinishedGameIDs[i] != want[i] {
			t.Fatalf("finished[%d] = %v, want %v", i, acc.FinishedGameIDs[i], want[i])
		}
	}
}

func TestRecordFinishedGameConcurrentNoLostAppend(t *testing.T) {
	s := newTestStore(t, kv.NewMemoryStore())
	ctx := context.Background()
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(h uint64) {
			defer wg.Done()
			if err := s.RecordFinishedGame(ctx, "carol.near", domain.GameID{Height: h, Creator: "carol.near"}); err != nil {
				t.Errorf("RecordFinishedGame: %v", err)
			}
		}(uint64(i))
	}
	wg.Wait()
	acc, _ := s.GetAccount(ctx, "carol.near")
	if len(acc.FinishedGameIDs) != n {
		t.Fatalf("lost appends: got %d, want %d", len(acc.FinishedGameIDs), n)
	}
}

func TestRecordFinishedGameStorageFailure(t *testing.T) {
	backend := kvtest.Wrap(kv.NewMemoryStore())
	s := newTestStore(t, backend)
	ctx := context.Background()
	backend.FailPut("account:")
	err := s.RecordFinishedGame(ctx, "dave.near", domain.GameID{Height: 9, Creator: "dave.near"})
	if !errors.Is(err, kv.ErrStorage) {
		t.Fatalf("want ErrStorage, got %v", err)
	}
	acc, err := s.GetAccount(ctx, "dave.near")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if len(acc.FinishedGameIDs) != 0 {
		t.Fatalf("failed write leaked into cache: %+v", acc)
	}
}

func TestGetAccountReturnsCopy(t *testing.T) {
	s := newTestStore(t, kv.NewMemoryStore())
	ctx := context.Background()
	_ = s.RecordFinishedGame(ctx, "erin.near", domain.GameID{Height: 1, Creator: "erin.near"})
	acc, _ := s.GetAccount(ctx, "erin.near")
	acc.FinishedGameIDs[0].Height = 99
	again, _ := s.GetAccount(ctx, "erin.near")
	if again.FinishedGameIDs[0].Height != 1 {
		t.Fatalf("caller mutation reached the cache")
	}
}

// stallStore blocks the first Get of key until release is closed.
type stallStore struct {
	kv.Store
	key     string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *stallStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == s.key {
		stalled := false
		s.once.Do(func() { stalled = true })
		if stalled {
			close(s.entered)
			<-s.release
		}
	}
	return s.Store.Get(ctx, key)
}

func TestGetAccountRacingRecordKeepsAppends(t *testing.T) {
	backend := &stallStore{
		Store:   kv.NewMemoryStore(),
		key:     accountKey("alice"),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := newTestStore(t, backend)
	ctx := context.Background()
	g1 := domain.GameID{Height: 1, Creator: "alice"}
	g2 := domain.GameID{Height: 2, Creator: "alice"}

	readDone := make(chan error, 1)
	go func() {
		_, err := s.GetAccount(ctx, "alice")
		readDone <- err
	}()
	<-backend.entered

	writeDone := make(chan error, 1)
	go func() { writeDone <- s.RecordFinishedGame(ctx, "alice", g1) }()
	// a writer that bypasses the account lock would finish here
	select {
	case err := <-writeDone:
		writeDone <- err
	case <-time.After(50 * time.Millisecond):
	}
	close(backend.release)

	if err := <-readDone; err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if err := <-writeDone; err != nil {
		t.Fatalf("RecordFinishedGame g1: %v", err)
	}
	if err := s.RecordFinishedGame(ctx, "alice", g2); err != nil {
		t.Fatalf("RecordFinishedGame g2: %v", err)
	}

	var stored domain.Account
	if err := kv.GetJSON(ctx, backend.Store, accountKey("alice"), &stored); err != nil {
		t.Fatalf("stored account: %v", err)
	}
	want := []domain.GameID{g1, g2}
	if len(stored.FinishedGameIDs) != len(want) || stored.FinishedGameIDs[0] != g1 || stored.FinishedGameIDs[1] != g2 {
		t.Fatalf("lost append: got %v, want %v", stored.FinishedGameIDs, want)
	}
	acc, err := s.GetAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if len(acc.FinishedGameIDs) != 2 {
		t.Fatalf("cached account is stale: %v", acc.FinishedGameIDs)
	}
}

func TestGetAccountConcurrentWithWriters(t *testing.T) {
	s := newTestStore(t, kv.NewMemoryStore())
	ctx := context.Background()
	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(h uint64) {
			defer wg.Done()
			if err := s.RecordFinishedGame(ctx, "frank", domain.GameID{Height: h, Creator: "frank"}); err != nil {
				t.Errorf("RecordFinishedGame: %v", err)
			}
		}(uint64(i))
		go func() {
			defer wg.Done()
			if _, err := s.GetAccount(ctx, "frank"); err != nil {
				t.Errorf("GetAccount: %v", err)
			}
		}()
	}
	wg.Wait()
	acc, err := s.GetAccount(ctx, "frank")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if len(acc.FinishedGameIDs) != n {
		t.Fatalf("lost appends: got %d, want %d", len(acc.FinishedGameIDs), n)
	}
}
