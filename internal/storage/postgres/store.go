// Package postgres persists alert state in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/Alias1177/VolumeSpike/internal/alert"
)

// ConnectionParams holds PostgreSQL connection parameters
type ConnectionParams struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the lib/pq connection string
func (p ConnectionParams) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode,
	)
}

// Store keeps alert state in two tables, one row per alerted candle
type Store struct {
	db *sqlx.DB
}

// New connects to PostgreSQL and creates the tables if needed
func New(params ConnectionParams) (*Store, error) {
	return Open(params.DSN())
}

// Open connects with a raw DSN
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}

	// Check connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// createTables creates the necessary tables if they don't exist
func createTables(db *sqlx.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS alert_day (
			id SMALLINT PRIMARY KEY CHECK (id = 1),
			day TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT now()
		)
	`); err != nil {
		return errors.Wrap(err, "create alert_day")
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS alerted_candles (
			identity TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL DEFAULT now()
		)
	`); err != nil {
		return errors.Wrap(err, "create alerted_candles")
	}

	return nil
}

// Load reads the alert state
func (s *Store) Load(ctx context.Context) (alert.State, error) {
	var day string
	err := s.db.GetContext(ctx, &day, `SELECT day FROM alert_day WHERE id = 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return alert.State{}, nil
		}
		return alert.State{}, errors.Wrap(err, "read alert day")
	}

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT identity FROM alerted_candles ORDER BY identity`); err != nil {
		return alert.State{}, errors.Wrap(err, "read alerted candles")
	}

	return alert.State{Day: alert.DayEpoch(day), Alerted: ids}, nil
}

// Save replaces the stored state in one transaction
func (s *Store) Save(ctx context.Context, state alert.State) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin alert state tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO alert_day (id, day, updated_at) VALUES (1, $1, now())
		ON CONFLICT (id)
		DO UPDATE SET
			day = EXCLUDED.day,
			updated_at = EXCLUDED.updated_at
	`, string(state.Day)); err != nil {
		return errors.Wrap(err, "store alert day")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM alerted_candles`); err != nil {
		return errors.Wrap(err, "reset alerted candles")
	}

	for _, id := range state.Alerted {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO alerted_candles (identity) VALUES ($1)
			ON CONFLICT (identity) DO NOTHING
		`, id); err != nil {
			return errors.Wrap(err, "store alerted candle")
		}
	}

	return errors.Wrap(tx.Commit(), "commit alert state")
}

// Clear removes all alert state
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE alerted_candles, alert_day`)
	return errors.Wrap(err, "clear alert state")
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}
