package kv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	s, err := NewRedisStore(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()), "test:")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: want ErrNotFound, got %v", err)
	}
	if err := s.Put(ctx, "info", []byte(`{"lastBlockHeight":7}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "info", []byte(`{"lastBlockHeight":8}`)); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	var info struct {
		LastBlockHeight uint64 `json:"lastBlockHeight"`
	}
	if err := GetJSON(ctx, s, "info", &info); err != nil || info.LastBlockHeight != 8 {
		t.Fatalf("GetJSON: %+v %v", info, err)
	}
	if err := s.Delete(ctx, "info"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "info"); err != nil {
		t.Fatalf("Delete twice: %v", err)
	}
	if _, err := s.Get(ctx, "info"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete: %v", err)
	}
	key := `game:[1,"alice.near",null]`
	if err := PutJSON(ctx, s, key, []int{1, 2}); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}
	var got []int
	if err := GetJSON(ctx, s, key, &got); err != nil || len(got) != 2 {
		t.Fatalf("GetJSON tuple key: %v %v", got, err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	v := []byte("abc")
	_ = s.Put(ctx, "k", v)
	v[0] = 'x'
	got, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("stored value aliased caller buffer: %q", got)
	}
}

func TestRedisStore(t *testing.T) {
	s, mr := newTestRedisStore(t)
	exerciseStore(t, s)
	_ = s.Put(context.Background(), "newGameIds", []byte(`[]`))
	if !mr.Exists("test:newGameIds") {
		t.Fatalf("expected prefixed key in redis, keys=%v", mr.Keys())
	}
}

func TestRedisStoreFailureIsStorageError(t *testing.T) {
	s, mr := newTestRedisStore(t)
	mr.Close()
	err := s.Put(context.Background(), "info", []byte("{}"))
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("want ErrStorage, got %v", err)
	}
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "put" || se.Key != "info" {
		t.Fatalf("unexpected storage error: %#v", err)
	}
}

func TestGetJSONCorruptValue(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Put(context.Background(), "info", []byte("{"))
	var v map[string]any
	if err := GetJSON(context.Background(), s, "info", &v); !errors.Is(err, ErrStorage) {
		t.Fatalf("want ErrStorage for corrupt value, got %v", err)
	}
}

func TestParseRedisURL(t *testing.T) {
	opts, err := parseRedisURL("redis://:secret@localhost:6380/3")
	if err != nil {
		t.Fatalf("parseRedisURL: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.Password != "secret" || opts.DB != 3 {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if _, err := parseRedisURL("http://localhost"); err == nil {
		t.Fatalf("expected scheme error")
	}
	if _, err := parseRedisURL("redis://localhost/abc"); err == nil {
		t.Fatalf("expected db error")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	for _, u := range []string{"", "memory://"} {
		s, err := Open(ctx, u)
		if err != nil {
			t.Fatalf("Open(%q): %v", u, err)
		}
		if _, ok := s.(*MemoryStore); !ok {
			t.Fatalf("Open(%q) returned %T", u, s)
		}
	}
	if _, err := Open(ctx, "mysql://x"); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	s, err := Open(ctx, "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("Open redis: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	s, err := NewPostgresStore(context.Background(), dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}
