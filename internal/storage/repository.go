package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/snapshot"

	_ "modernc.org/sqlite"
)

// SQLiteRepository keeps every domain record as a JSON document row. It is the
// durable backing of store.Store and the reminder log of the facade.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens dbPath, creating its directory, and migrates the
// schema before returning.
func NewSQLiteRepository(ctx context.Context, dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	version, err := Migrate(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Database schema ready", "path", dbPath, "version", version)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Load implements store.Persister
func (r *SQLiteRepository) Load(ctx context.Context) ([]core.Entity, []core.Tombstone, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT table_name, id, payload FROM records ORDER BY table_name, id`)
	if err != nil {
		return nil, nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var entities []core.Entity
	for rows.Next() {
		var (
			table   string
			id      int64
			payload string
		)
		if err := rows.Scan(&table, &id, &payload); err != nil {
			return nil, nil, fmt.Errorf("scan record: %w", err)
		}
		var fields snapshot.Fields
		if err := json.Unmarshal([]byte(payload), &fields); err != nil {
			return nil, nil, fmt.Errorf("decode record %s/%d: %w", table, id, err)
		}
		e, err := snapshot.Decode(core.Table(table), id, fields)
		if err != nil {
			return nil, nil, fmt.Errorf("decode record %s/%d: %w", table, id, err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate records: %w", err)
	}

	tombstones, err := r.loadTombstones(ctx)
	if err != nil {
		return nil, nil, err
	}

	slog.DebugContext(ctx, "Records loaded from SQLite", "records", len(entities), "tombstones", len(tombstones))
	return entities, tombstones, nil
}

func (r *SQLiteRepository) loadTombstones(ctx context.Context) ([]core.Tombstone, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT table_name, id, deleted_at FROM tombstones ORDER BY table_name, id`)
	if err != nil {
		return nil, fmt.Errorf("query tombstones: %w", err)
	}
	defer rows.Close()

	var out []core.Tombstone
	for rows.Next() {
		var (
			table     string
			id        int64
			deletedAt int64
		)
		if err := rows.Scan(&table, &id, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan tombstone: %w", err)
		}
		out = append(out, core.Tombstone{Table: core.Table(table), ID: id, DeletedAt: time.UnixMilli(deletedAt)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tombstones: %w", err)
	}
	return out, nil
}

// Save implements store.Persister
func (r *SQLiteRepository) Save(ctx context.Context, e core.Entity) error {
	fields, err := snapshot.Encode(e)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO records (table_name, id, updated_at, payload) VALUES (?, ?, ?, ?)
		ON CONFLICT (table_name, id) DO UPDATE SET updated_at = excluded.updated_at, payload = excluded.payload`,
		string(e.EntityTable()), e.EntityID(), e.Updated().UnixMilli(), string(payload))
	if err != nil {
		return fmt.Errorf("save record %s/%d: %w", e.EntityTable(), e.EntityID(), err)
	}
	return nil
}

// Remove implements store.Persister
func (r *SQLiteRepository) Remove(ctx context.Context, table core.Table, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE table_name = ? AND id = ?`, string(table), id); err != nil {
		return fmt.Errorf("remove record %s/%d: %w", table, id, err)
	}
	return nil
}

// SaveTombstone implements store.Persister
func (r *SQLiteRepository) SaveTombstone(ctx context.Context, t core.Tombstone) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tombstones (table_name, id, deleted_at) VALUES (?, ?, ?)
		ON CONFLICT (table_name, id) DO UPDATE SET deleted_at = excluded.deleted_at`,
		string(t.Table), t.ID, t.DeletedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save tombstone %s/%d: %w", t.Table, t.ID, err)
	}
	return nil
}

// ClearTombstone implements store.Persister
func (r *SQLiteRepository) ClearTombstone(ctx context.Context, table core.Table, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM tombstones WHERE table_name = ? AND id = ?`, string(table), id); err != nil {
		return fmt.Errorf("clear tombstone %s/%d: %w", table, id, err)
	}
	return nil
}

// MarkReminded records that the reminder for paymentID was sent on day. It
// returns false when a reminder for that day was already recorded.
func (r *SQLiteRepository) MarkReminded(ctx context.Context, paymentID int64, day string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO reminders_sent (payment_id, day, sent_at) VALUES (?, ?, ?)`,
		paymentID, day, at.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("mark reminder %d on %s: %w", paymentID, day, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark reminder rows affected: %w", err)
	}
	return n == 1, nil
}
