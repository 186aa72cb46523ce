package peer

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/fsevents/pkg/fsevents/wire"
)

// SQLiteStore persists receipts to SQLite, so duplicates are still
// recognised after the peer restarts.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens or creates a receipt database.
// The path should be a file path (e.g., "./receipts.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// A :memory: database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS receipts (
			client_id TEXT NOT NULL,
			delivery_id INTEGER NOT NULL,
			file_id TEXT NOT NULL,
			type TEXT NOT NULL,
			counter INTEGER NOT NULL,
			size INTEGER NOT NULL,
			received_at TEXT NOT NULL,
			body BLOB NOT NULL,
			PRIMARY KEY (client_id, delivery_id)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_receipts_file_id
		ON receipts(file_id)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Record implements Store.
func (s *SQLiteStore) Record(client string, msg wire.Emission) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	body, err := wire.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("encode receipt: %w", err)
	}

	// SQLite integers are signed; ids and counters are stored by bit pattern.
	res, err := s.db.Exec(`
		INSERT INTO receipts (client_id, delivery_id, file_id, type, counter, size, received_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id, delivery_id) DO NOTHING
	`, client, int64(msg.DeliveryID), msg.FileID, string(msg.Type), int64(msg.Counter), int64(msg.Size),
		time.Now().UTC().Format(time.RFC3339Nano), body)
	if err != nil {
		return false, fmt.Errorf("record receipt: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record receipt: %w", err)
	}
	return n == 1, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(client string, id uint64) (wire.Emission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return wire.Emission{}, ErrStoreClosed
	}

	var body []byte
	err := s.db.QueryRow(`
		SELECT body FROM receipts WHERE client_id = ? AND delivery_id = ?
	`, client, int64(id)).Scan(&body)

	if errors.Is(err, sql.ErrNoRows) {
		return wire.Emission{}, ErrNotFound
	}
	if err != nil {
		return wire.Emission{}, fmt.Errorf("load receipt: %w", err)
	}

	var msg wire.Emission
	if err := wire.Unmarshal(body, &msg); err != nil {
		return wire.Emission{}, fmt.Errorf("decode receipt %s/%d: %w", client, id, err)
	}
	return msg, nil
}

// List implements Store.
func (s *SQLiteStore) List() ([]Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT client_id, delivery_id, file_id, type, counter, size, received_at
		FROM receipts
		ORDER BY client_id, delivery_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []Receipt
	for rows.Next() {
		var r Receipt
		var id, counter, size int64
		var timestamp string
		if err := rows.Scan(&r.ClientID, &id, &r.FileID, &r.Type, &counter, &size, &timestamp); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		r.DeliveryID = uint64(id)
		r.Counter = uint64(counter)
		r.Size = uint64(size)
		r.ReceivedAt, _ = time.Parse(time.RFC3339Nano, timestamp)
		receipts = append(receipts, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}

	return receipts, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
