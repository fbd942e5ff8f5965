package journal

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "runs.db"), filepath.Join(dir, "runs.lock"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewRunIDIsUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := NewRunID()
		if !strings.HasPrefix(id, "run-") {
			t.Fatalf("NewRunID() = %q, want run- prefix", id)
		}
		if seen[id] {
			t.Fatalf("NewRunID() produced duplicate %q", id)
		}
		seen[id] = true
	}
}

func TestSaveGetRoundTrip(t *testing.T) {
	store := openTestStore(t)

	entry := NewEntry("deposit", "silo", "0xVault", "0xToken", "1500000")
	if entry.Status != "running" {
		t.Fatalf("NewEntry status = %q, want running", entry.Status)
	}
	if err := store.Save(entry); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Get(entry.RunID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Kind != "deposit" || got.Protocol != "silo" || got.Vault != "0xVault" || got.Amount != "1500000" {
		t.Fatalf("Get() = %+v, want saved entry fields", got)
	}
}

func TestSaveOverwritesExistingRun(t *testing.T) {
	store := openTestStore(t)

	entry := NewEntry("deposit", "silo", "0xVault", "0xToken", "100")
	if err := store.Save(entry); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	entry.Status = "rolled_back"
	entry.ErrorType = "rolled_back"
	entry.ErrorMessage = "protocol reverted"
	entry.TxHashes = []string{"0xabc"}
	entry.RollbackTx = "0xdef"
	entry.Touch()
	if err := store.Save(entry); err != nil {
		t.Fatalf("Save() update error = %v", err)
	}

	got, err := store.Get(entry.RunID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != "rolled_back" || got.RollbackTx != "0xdef" {
		t.Fatalf("Get() after update = %+v, want rolled_back with rollback tx", got)
	}
	if len(got.TxHashes) != 1 || got.TxHashes[0] != "0xabc" {
		t.Fatalf("Get() tx hashes = %v, want [0xabc]", got.TxHashes)
	}
}

func TestSaveRejectsMissingRunID(t *testing.T) {
	store := openTestStore(t)
	if err := store.Save(Entry{Kind: "deposit"}); err == nil {
		t.Fatal("Save() with empty run id should fail")
	}
}

func TestGetUnknownRun(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get("run-missing")
	if err == nil || !strings.Contains(err.Error(), "run not found") {
		t.Fatalf("Get() error = %v, want run not found", err)
	}
}

func TestListFiltersByStatusAndOrdersByRecency(t *testing.T) {
	store := openTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	statuses := []string{"succeeded", "rolled_back", "succeeded", "critical"}
	ids := make([]string, len(statuses))
	for i, status := range statuses {
		entry := NewEntry("deposit", "silo", "0xVault", "0xToken", "1")
		entry.Status = status
		entry.CreatedAt = base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339)
		entry.UpdatedAt = entry.CreatedAt
		if err := store.Save(entry); err != nil {
			t.Fatalf("Save(%d) error = %v", i, err)
		}
		ids[i] = entry.RunID
	}

	all, err := store.List("", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("List() returned %d entries, want 4", len(all))
	}
	if all[0].RunID != ids[3] {
		t.Fatalf("List() first entry = %s, want most recent %s", all[0].RunID, ids[3])
	}

	succeeded, err := store.List("succeeded", 10)
	if err != nil {
		t.Fatalf("List(succeeded) error = %v", err)
	}
	if len(succeeded) != 2 {
		t.Fatalf("List(succeeded) returned %d entries, want 2", len(succeeded))
	}
	for _, entry := range succeeded {
		if entry.Status != "succeeded" {
			t.Fatalf("List(succeeded) included status %q", entry.Status)
		}
	}

	limited, err := store.List("", 2)
	if err != nil {
		t.Fatalf("List(limit 2) error = %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("List(limit 2) returned %d entries, want 2", len(limited))
	}
}
