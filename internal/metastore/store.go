package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Record associates a wallet with its vault. Advisory cache only: the
// on-chain factory lookup stays authoritative, this just saves a round trip
// when building context.
type Record struct {
	WalletAddress   string    `json:"wallet_address"`
	VaultAddress    string    `json:"vault_address"`
	UserID          string    `json:"user_id"`
	TransactionHash string    `json:"transaction_hash,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create metastore directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create metastore lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metastore sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS vault_records (
			wallet_address TEXT PRIMARY KEY,
			vault_address TEXT NOT NULL,
			user_id TEXT NOT NULL,
			transaction_hash TEXT,
			created_at INTEGER NOT NULL
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init metastore schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record stores the wallet-vault association, overwriting any prior entry
// for the wallet.
func (s *Store) Record(rec Record) error {
	wallet := normalizeAddress(rec.WalletAddress)
	if wallet == "" {
		return fmt.Errorf("record vault: missing wallet address")
	}
	if strings.TrimSpace(rec.VaultAddress) == "" {
		return fmt.Errorf("record vault: missing vault address")
	}
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock metastore: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock metastore: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.Exec(`
		INSERT INTO vault_records (wallet_address, vault_address, user_id, transaction_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(wallet_address) DO UPDATE SET
			vault_address=excluded.vault_address,
			user_id=excluded.user_id,
			transaction_hash=excluded.transaction_hash
	`, wallet, rec.VaultAddress, rec.UserID, rec.TransactionHash, createdAt.Unix())
	if err != nil {
		return fmt.Errorf("record vault: %w", err)
	}
	return nil
}

// Find returns the record for wallet, or (nil, nil) when none exists.
func (s *Store) Find(walletAddress string) (*Record, error) {
	wallet := normalizeAddress(walletAddress)
	if wallet == "" {
		return nil, fmt.Errorf("find vault: missing wallet address")
	}
	var (
		rec     Record
		created int64
		txHash  sql.NullString
	)
	err := s.db.QueryRow(
		"SELECT wallet_address, vault_address, user_id, transaction_hash, created_at FROM vault_records WHERE wallet_address = ?",
		wallet,
	).Scan(&rec.WalletAddress, &rec.VaultAddress, &rec.UserID, &txHash, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find vault: %w", err)
	}
	rec.TransactionHash = txHash.String
	rec.CreatedAt = time.Unix(created, 0).UTC()
	return &rec, nil
}

func normalizeAddress(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
