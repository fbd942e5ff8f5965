package journal

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Entry is one audited custody pipeline run. Entries are append-then-update:
// saved when a run starts and overwritten with the outcome.
type Entry struct {
	RunID        string   `json:"run_id"`
	Kind         string   `json:"kind"`
	Protocol     string   `json:"protocol"`
	Vault        string   `json:"vault"`
	Token        string   `json:"token"`
	Amount       string   `json:"amount"`
	Status       string   `json:"status"`
	ErrorType    string   `json:"error_type,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
	TxHashes     []string `json:"tx_hashes,omitempty"`
	RollbackTx   string   `json:"rollback_tx,omitempty"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

func NewRunID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("run-%d", time.Now().UTC().UnixNano())
	}
	return "run-" + hex.EncodeToString(buf)
}

func NewEntry(kind, protocol, vault, token, amount string) Entry {
	now := time.Now().UTC().Format(time.RFC3339)
	return Entry{
		RunID:     NewRunID(),
		Kind:      kind,
		Protocol:  protocol,
		Vault:     vault,
		Token:     token,
		Amount:    amount,
		Status:    "running",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (e *Entry) Touch() {
	e.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create journal lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			vault TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_runs_status_updated ON runs(status, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init journal schema: %w", err)
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

func (s *Store) Save(entry Entry) error {
	if strings.TrimSpace(entry.RunID) == "" {
		return fmt.Errorf("save run: missing run id")
	}
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock journal: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock journal: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	createdUnix, _ := parseRFC3339Unix(entry.CreatedAt)
	updatedUnix, _ := parseRFC3339Unix(entry.UpdatedAt)
	if createdUnix == 0 {
		createdUnix = time.Now().UTC().Unix()
	}
	if updatedUnix == 0 {
		updatedUnix = time.Now().UTC().Unix()
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (run_id, kind, status, vault, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			kind=excluded.kind,
			status=excluded.status,
			vault=excluded.vault,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, entry.RunID, entry.Kind, entry.Status, entry.Vault, createdUnix, updatedUnix, payload)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (s *Store) Get(runID string) (Entry, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM runs WHERE run_id = ?", runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, fmt.Errorf("run not found: %s", runID)
		}
		return Entry{}, fmt.Errorf("read run: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode run payload: %w", err)
	}
	return entry, nil
}

func (s *Store) List(status string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(status) == "" {
		rows, err = s.db.Query("SELECT payload FROM runs ORDER BY updated_at DESC LIMIT ?", limit)
	} else {
		rows, err = s.db.Query("SELECT payload FROM runs WHERE status = ? ORDER BY updated_at DESC LIMIT ?", status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		var entry Entry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, fmt.Errorf("decode run row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return entries, nil
}

func parseRFC3339Unix(v string) (int64, bool) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, false
	}
	return t.UTC().Unix(), true
}
