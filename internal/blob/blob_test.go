package blob

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), Options{}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "results/2026-08-01/digest.json", []byte(`{"ok":true}`)); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "results/2026-08-01/digest.json")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"ok":true}` {
		t.Errorf("got %q", got)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), "nope.json")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPutOverwritesAtomically(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "digest.json", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "digest.json", []byte("v2")); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, "digest.json")
	if string(got) != "v2" {
		t.Errorf("got %q, want v2", got)
	}

	// No temp files may be left behind.
	entries, err := os.ReadDir(s.root)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestPutCreatesNestedDirectories(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, "a/b/c/d.json", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(s.root, "a", "b", "c", "d.json")); err != nil {
		t.Errorf("nested blob missing: %v", err)
	}
}

func TestGetHonorsCancellation(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Get(ctx, "whatever"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// flakyStore fails a fixed number of Puts before succeeding.
type flakyStore struct {
	inner    Store
	failures int
	calls    int
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	return f.inner.Get(ctx, key)
}

func (f *flakyStore) Put(ctx context.Context, key string, data []byte) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("transient write failure")
	}
	return f.inner.Put(ctx, key, data)
}

func TestPutWithRetryRecovers(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff sleeps")
	}
	f := &flakyStore{inner: newStore(t), failures: 2}

	err := PutWithRetry(context.Background(), f, "x.json", []byte("x"), testLogger())
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if f.calls != 3 {
		t.Errorf("calls = %d, want 3", f.calls)
	}
}

func TestPutWithRetryGivesUp(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff sleeps")
	}
	f := &flakyStore{inner: newStore(t), failures: 100}

	if err := PutWithRetry(context.Background(), f, "x.json", []byte("x"), testLogger()); err == nil {
		t.Fatal("expected persistent failure to surface")
	}
	if f.calls != 4 {
		t.Errorf("calls = %d, want 4 (initial + 3 retries)", f.calls)
	}
}
