package cache

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestGetMissingKey(t *testing.T) {
	store := openTestStore(t)
	res, err := store.Get("yields|none", 0)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if res.Hit {
		t.Fatalf("Get() = %+v, want miss", res)
	}
}

func TestSetGetFreshnessClassification(t *testing.T) {
	store := openTestStore(t)

	if err := store.Set("yields|sonic", []byte(`[{"apy":7.9}]`), time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	res, err := store.Get("yields|sonic", 5*time.Second)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !res.Hit || res.Stale || res.TooStale {
		t.Fatalf("Get() = %+v, want fresh hit", res)
	}
	if string(res.Value) != `[{"apy":7.9}]` {
		t.Fatalf("Value = %s, want stored payload", res.Value)
	}

	time.Sleep(1200 * time.Millisecond)

	res, err = store.Get("yields|sonic", 5*time.Second)
	if err != nil {
		t.Fatalf("Get() after ttl error = %v", err)
	}
	if !res.Hit || !res.Stale || res.TooStale {
		t.Fatalf("Get() after ttl = %+v, want stale within budget", res)
	}

	res, err = store.Get("yields|sonic", 0)
	if err != nil {
		t.Fatalf("Get() zero budget error = %v", err)
	}
	if !res.TooStale {
		t.Fatalf("Get() zero budget = %+v, want too stale", res)
	}
}

func TestSetOverwritesValue(t *testing.T) {
	store := openTestStore(t)

	if err := store.Set("k", []byte("old"), time.Minute); err != nil {
		t.Fatalf("Set(old) error = %v", err)
	}
	if err := store.Set("k", []byte("new"), time.Minute); err != nil {
		t.Fatalf("Set(new) error = %v", err)
	}
	res, err := store.Get("k", 0)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(res.Value) != "new" {
		t.Fatalf("Value = %s, want overwritten payload", res.Value)
	}
}

func TestConcurrentSetsDoNotCorrupt(t *testing.T) {
	store := openTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Set("shared", []byte("payload"), time.Minute)
		}()
	}
	wg.Wait()

	res, err := store.Get("shared", 0)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !res.Hit || string(res.Value) != "payload" {
		t.Fatalf("Get() = %+v, want intact payload", res)
	}
}
