package objectstore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "missing"); err != nil {
		t.Fatalf("delete of missing key should succeed, got %v", err)
	}

	if err := store.Put(ctx, "job-1", []byte("first")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := store.Put(ctx, "job-1", []byte("second")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	got, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !bytes.Equal(got, []byte("second")) {
		t.Fatalf("expected overwritten value, got %q", got)
	}

	if err := store.Delete(ctx, "job-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "job-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

type takingStore interface {
	Store
	Taker
}

func exerciseTake(t *testing.T, store takingStore) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.Take(ctx, "job.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing key, got %v", err)
	}
	if err := store.Put(ctx, "job.json", []byte("{}")); err != nil {
		t.Fatal(err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		hits int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if data, err := store.Take(ctx, "job.json"); err == nil && string(data) == "{}" {
				mu.Lock()
				hits++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if hits != 1 {
		t.Fatalf("expected exactly one successful take, got %d", hits)
	}
	if _, err := store.Get(ctx, "job.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected object to be gone after take, got %v", err)
	}
}

func TestMemoryStoreTakeIsConsumeOnce(t *testing.T) {
	store := NewMemoryStore()
	exerciseTake(t, store)
	if store.Len() != 0 {
		t.Fatalf("expected store to be empty, got %d objects", store.Len())
	}
}

func TestFileStoreTakeIsConsumeOnce(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	exerciseTake(t, store)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no leftover claim files, got %v", entries)
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	data := []byte("abc")
	if err := store.Put(ctx, "k", data); err != nil {
		t.Fatal(err)
	}
	data[0] = 'z'
	got, _ := store.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("stored value was mutated through caller slice: %q", got)
	}
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	exerciseStore(t, store)

	if err := store.Put(context.Background(), "abc.json", []byte("{}")); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "abc.json" {
		t.Fatalf("expected only the final object on disk, got %v", entries)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "objects"))
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"", "..", "../escape", "a/../../escape"} {
		if err := store.Put(context.Background(), key, []byte("x")); err == nil {
			t.Errorf("expected key %q to be rejected", key)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "escape")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("traversal wrote outside the store: %v", err)
	}
}

func TestNewFileStoreRequiresPath(t *testing.T) {
	if _, err := NewFileStore("  "); err == nil {
		t.Fatal("expected error for empty base path")
	}
}
