package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	feederrors "kitefeed/internal/errors"
	"kitefeed/internal/models"
)

// SQLiteStore implements WatchStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed watchlist store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS watchlist (
		token INTEGER PRIMARY KEY,
		symbol TEXT NOT NULL DEFAULT '',
		mode TEXT,
		added_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Add inserts or updates a watchlist entry.
func (s *SQLiteStore) Add(ctx context.Context, item WatchItem) error {
	addedAt := item.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now().UTC()
	}

	var mode sql.NullString
	if item.Mode != nil {
		mode = sql.NullString{String: item.Mode.String(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watchlist (token, symbol, mode, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			symbol = excluded.symbol,
			mode = excluded.mode`,
		item.Token, item.Symbol, mode, addedAt)
	if err != nil {
		return feederrors.Wrap(feederrors.ErrDatabaseError, err.Error())
	}
	return nil
}

// Remove deletes an entry by instrument token.
func (s *SQLiteStore) Remove(ctx context.Context, token uint32) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM watchlist WHERE token = ?`, token)
	if err != nil {
		return feederrors.Wrap(feederrors.ErrDatabaseError, err.Error())
	}
	return nil
}

// SetMode updates the detail level for an existing entry.
func (s *SQLiteStore) SetMode(ctx context.Context, token uint32, mode models.Mode) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE watchlist SET mode = ? WHERE token = ?`, mode.String(), token)
	if err != nil {
		return feederrors.Wrap(feederrors.ErrDatabaseError, err.Error())
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return feederrors.Wrap(feederrors.ErrDatabaseError, err.Error())
	}
	if affected == 0 {
		return fmt.Errorf("token %d not in watchlist", token)
	}
	return nil
}

// List returns all entries ordered by token.
func (s *SQLiteStore) List(ctx context.Context) ([]WatchItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token, symbol, mode, added_at FROM watchlist ORDER BY token`)
	if err != nil {
		return nil, feederrors.Wrap(feederrors.ErrDatabaseError, err.Error())
	}
	defer rows.Close()

	var items []WatchItem
	for rows.Next() {
		var item WatchItem
		var mode sql.NullString
		if err := rows.Scan(&item.Token, &item.Symbol, &mode, &item.AddedAt); err != nil {
			return nil, feederrors.Wrap(feederrors.ErrDatabaseError, err.Error())
		}
		if mode.Valid {
			m := models.Mode(mode.String)
			item.Mode = &m
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Close releases the underlying resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ WatchStore = (*SQLiteStore)(nil)
