// Package sqlite persists alert state in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/Alias1177/VolumeSpike/internal/alert"
)

// Store keeps the alerted set in one table and the reset day in a single-row table.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database file and its tables
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		log.Warn().Err(err).Str("component", "sqlite").Msg("Failed to set WAL mode")
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) createTables() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS alert_day (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			day TEXT NOT NULL
		)
	`); err != nil {
		return errors.Wrap(err, "create alert_day")
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS alerted_candles (
			identity TEXT PRIMARY KEY
		)
	`); err != nil {
		return errors.Wrap(err, "create alerted_candles")
	}
	return nil
}

// Load reads the reset day and the alerted identities
func (s *Store) Load(ctx context.Context) (alert.State, error) {
	var state alert.State

	var day string
	err := s.db.QueryRowContext(ctx, `SELECT day FROM alert_day WHERE id = 1`).Scan(&day)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return state, nil
	case err != nil:
		return state, errors.Wrap(err, "read alert day")
	}
	state.Day = alert.DayEpoch(day)

	rows, err := s.db.QueryContext(ctx, `SELECT identity FROM alerted_candles ORDER BY identity`)
	if err != nil {
		return alert.State{}, errors.Wrap(err, "read alerted candles")
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return alert.State{}, errors.Wrap(err, "scan alerted candle")
		}
		state.Alerted = append(state.Alerted, id)
	}

	return state, errors.Wrap(rows.Err(), "iterate alerted candles")
}

// Save replaces the stored state in one transaction
func (s *Store) Save(ctx context.Context, state alert.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin alert state tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO alert_day (id, day) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET day = excluded.day
	`, string(state.Day)); err != nil {
		return errors.Wrap(err, "store alert day")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM alerted_candles`); err != nil {
		return errors.Wrap(err, "reset alerted candles")
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO alerted_candles (identity) VALUES (?)`)
	if err != nil {
		return errors.Wrap(err, "prepare alerted candle insert")
	}
	defer stmt.Close()

	for _, id := range state.Alerted {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return errors.Wrap(err, "store alerted candle")
		}
	}

	return errors.Wrap(tx.Commit(), "commit alert state")
}

// Clear drops the stored day and identities
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin alert clear tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM alerted_candles`); err != nil {
		return errors.Wrap(err, "clear alerted candles")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM alert_day`); err != nil {
		return errors.Wrap(err, "clear alert day")
	}

	return errors.Wrap(tx.Commit(), "commit alert clear")
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
