// Package storage persists order updates so local state survives a restart.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"github.com/danehansen3/algo-trading/internal/domain"
)

// Journal is an append-only SQLite log of applied order updates. On startup
// the reconciliation engine replays it to rebuild order records before the
// first venue snapshot arrives.
type Journal struct {
	db *sql.DB
}

// NewJournal opens (or creates) the journal database with WAL mode enabled.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS order_updates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_order_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create order_updates table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS intents (
			client_order_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create intents table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata table: %w", err)
	}

	return &Journal{db: db}, nil
}

// SaveIntent records a submitted order intent, keyed by its client order id.
func (j *Journal) SaveIntent(ctx context.Context, intent domain.OrderIntent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("failed to marshal intent: %w", err)
	}

	_, err = j.db.ExecContext(ctx,
		"INSERT INTO intents (client_order_id, payload) VALUES (?, ?) ON CONFLICT(client_order_id) DO UPDATE SET payload=excluded.payload",
		intent.ClientOrderID, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert intent: %w", err)
	}
	return nil
}

// Append logs one applied order update.
func (j *Journal) Append(ctx context.Context, u domain.OrderUpdate) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	_, err = j.db.ExecContext(ctx,
		"INSERT INTO order_updates (client_order_id, version, ts, payload) VALUES (?, ?, ?, ?)",
		u.ClientOrderID, u.Version, u.Ts.UnixMilli(), payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert update: %w", err)
	}
	return nil
}

// LoadIntents returns every recorded intent, keyed by client order id.
func (j *Journal) LoadIntents(ctx context.Context) (map[string]domain.OrderIntent, error) {
	rows, err := j.db.QueryContext(ctx, "SELECT payload FROM intents")
	if err != nil {
		return nil, fmt.Errorf("failed to query intents: %w", err)
	}
	defer rows.Close()

	intents := make(map[string]domain.OrderIntent)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan intent: %w", err)
		}
		var intent domain.OrderIntent
		if err := json.Unmarshal(payload, &intent); err != nil {
			return nil, fmt.Errorf("failed to unmarshal intent: %w", err)
		}
		intents[intent.ClientOrderID] = intent
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return intents, nil
}

// LoadUpdates returns every logged update in append order.
func (j *Journal) LoadUpdates(ctx context.Context) ([]domain.OrderUpdate, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT id, payload FROM order_updates ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query updates: %w", err)
	}
	defer rows.Close()

	var updates []domain.OrderUpdate
	for rows.Next() {
		var id int64
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan update: %w", err)
		}
		var u domain.OrderUpdate
		if err := json.Unmarshal(payload, &u); err != nil {
			return nil, fmt.Errorf("failed to unmarshal update %d: %w", id, err)
		}
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return updates, nil
}

// UpsertMetadata saves a key-value pair to the metadata table.
func (j *Journal) UpsertMetadata(ctx context.Context, key, value string, ts int64) error {
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		key, value, ts,
	)
	return err
}

// GetMetadata retrieves a value from the metadata table. Missing keys return
// an empty string.
func (j *Journal) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := j.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}
