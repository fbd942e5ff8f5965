package metastore

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "vaults.db"), filepath.Join(dir, "vaults.lock"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndFind(t *testing.T) {
	store := openTestStore(t)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := Record{
		WalletAddress:   "0xAbCd000000000000000000000000000000000001",
		VaultAddress:    "0x0000000000000000000000000000000000000b01",
		UserID:          "user-7",
		TransactionHash: "0xfeed",
		CreatedAt:       created,
	}
	if err := store.Record(rec); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, err := store.Find(rec.WalletAddress)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if got == nil {
		t.Fatal("Find() returned nil for recorded wallet")
	}
	if got.VaultAddress != rec.VaultAddress || got.UserID != "user-7" || got.TransactionHash != "0xfeed" {
		t.Fatalf("Find() = %+v, want recorded fields", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("Find() created at = %v, want %v", got.CreatedAt, created)
	}
}

func TestFindIsCaseInsensitiveOnWallet(t *testing.T) {
	store := openTestStore(t)

	rec := Record{
		WalletAddress: "0xABCD000000000000000000000000000000000001",
		VaultAddress:  "0x0000000000000000000000000000000000000b01",
	}
	if err := store.Record(rec); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, err := store.Find("0xabcd000000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if got == nil {
		t.Fatal("Find() with lowercased wallet returned nil")
	}
}

func TestRecordUpsertsExistingWallet(t *testing.T) {
	store := openTestStore(t)

	wallet := "0xAbCd000000000000000000000000000000000001"
	first := Record{WalletAddress: wallet, VaultAddress: "0x01", UserID: "old"}
	if err := store.Record(first); err != nil {
		t.Fatalf("Record(first) error = %v", err)
	}
	second := Record{WalletAddress: wallet, VaultAddress: "0x02", UserID: "new"}
	if err := store.Record(second); err != nil {
		t.Fatalf("Record(second) error = %v", err)
	}

	got, err := store.Find(wallet)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if got == nil || got.VaultAddress != "0x02" || got.UserID != "new" {
		t.Fatalf("Find() after upsert = %+v, want replaced record", got)
	}
}

func TestFindMissingWalletReturnsNil(t *testing.T) {
	store := openTestStore(t)

	got, err := store.Find("0x0000000000000000000000000000000000000009")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if got != nil {
		t.Fatalf("Find() = %+v, want nil for unknown wallet", got)
	}
}

func TestRecordRejectsMissingFields(t *testing.T) {
	store := openTestStore(t)

	if err := store.Record(Record{VaultAddress: "0x01"}); err == nil {
		t.Fatal("Record() without wallet should fail")
	}
	if err := store.Record(Record{WalletAddress: "0x01"}); err == nil {
		t.Fatal("Record() without vault should fail")
	}
}
