// Package storage provides SQLite-backed persistence for strategies and the
// alert journal.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/candlesentry/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db        *sql.DB
	maxAlerts int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/candlesentry/data.db.
func New(maxAlerts int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "candlesentry", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxAlerts: maxAlerts}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS strategies (
			name            TEXT PRIMARY KEY,
			symbol          TEXT NOT NULL,
			timeframe       TEXT NOT NULL,
			poll_interval   INTEGER NOT NULL DEFAULT 0,
			enabled         INTEGER NOT NULL DEFAULT 1,
			detectors       TEXT,
			updated_at      INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id              TEXT PRIMARY KEY,
			strategy        TEXT,
			symbol          TEXT NOT NULL,
			timeframe       TEXT NOT NULL,
			rule            TEXT NOT NULL,
			message         TEXT NOT NULL,
			trigger_value   REAL NOT NULL,
			chart_path      TEXT,
			created_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_symbol ON alerts(symbol, timeframe)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertStrategy inserts or replaces a strategy keyed by name. An empty name
// defaults to the strategy key.
func (s *Storage) UpsertStrategy(st models.Strategy) error {
	if err := st.Validate(); err != nil {
		return fmt.Errorf("invalid strategy: %w", err)
	}
	if st.Name == "" {
		st.Name = st.Key()
	}

	var detectors sql.NullString
	if st.Detectors != nil {
		b, err := json.Marshal(st.Detectors)
		if err != nil {
			return fmt.Errorf("failed to marshal detectors: %w", err)
		}
		detectors = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO strategies
			(name, symbol, timeframe, poll_interval, enabled, detectors, updated_at)
		VALUES (?,?,?,?,?,?,?)`,
		st.Name, strings.ToUpper(st.Symbol), string(st.Timeframe), int64(st.PollInterval),
		boolToInt(st.Enabled), detectors, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert strategy: %w", err)
	}
	return nil
}

// ListStrategies returns strategies ordered by name.
func (s *Storage) ListStrategies(enabledOnly bool) ([]models.Strategy, error) {
	query := `SELECT name, symbol, timeframe, poll_interval, enabled, detectors FROM strategies`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY name`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategies: %w", err)
	}
	defer rows.Close()

	strategies := []models.Strategy{}
	for rows.Next() {
		var st models.Strategy
		var tf string
		var interval int64
		var enabled int
		var detectors sql.NullString

		if err := rows.Scan(&st.Name, &st.Symbol, &tf, &interval, &enabled, &detectors); err != nil {
			return nil, fmt.Errorf("failed to scan strategy: %w", err)
		}
		st.Timeframe = models.Timeframe(tf)
		st.PollInterval = time.Duration(interval)
		st.Enabled = enabled != 0
		if detectors.Valid && detectors.String != "" {
			st.Detectors = &models.DetectorFlags{}
			if err := json.Unmarshal([]byte(detectors.String), st.Detectors); err != nil {
				return nil, fmt.Errorf("failed to unmarshal detectors for %s: %w", st.Name, err)
			}
		}
		strategies = append(strategies, st)
	}
	return strategies, rows.Err()
}

// DeleteStrategy removes a strategy by name.
func (s *Storage) DeleteStrategy(name string) error {
	res, err := s.db.Exec(`DELETE FROM strategies WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete strategy: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("strategy not found: %s", name)
	}
	return nil
}

// Notify journals an alert, making Storage usable as a notifier sink.
func (s *Storage) Notify(ctx context.Context, event models.AlertEvent) error {
	_, err := s.AddAlert(ctx, event)
	return err
}

// AddAlert persists an alert and enforces the journal cap. An alert without
// an ID gets a fresh UUID, which is returned.
func (s *Storage) AddAlert(ctx context.Context, event models.AlertEvent) (string, error) {
	if err := event.Validate(); err != nil {
		return "", fmt.Errorf("invalid alert: %w", err)
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO alerts
			(id, strategy, symbol, timeframe, rule, message, trigger_value, chart_path, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		event.ID, event.StrategyName, strings.ToUpper(event.Symbol), string(event.Timeframe),
		string(event.Rule), event.Message, event.TriggerValue, event.ChartPath,
		event.CreatedAt.UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert alert: %w", err)
	}

	if s.maxAlerts > 0 {
		if _, err = tx.ExecContext(ctx, rotateAlertsSQL, s.maxAlerts); err != nil {
			return "", fmt.Errorf("failed to enforce alert cap: %w", err)
		}
	}

	return event.ID, tx.Commit()
}

// RecentAlerts returns the newest k alerts, newest first.
func (s *Storage) RecentAlerts(k int) ([]models.AlertEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, strategy, symbol, timeframe, rule, message, trigger_value, chart_path, created_at
		FROM alerts ORDER BY created_at DESC LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.AlertEvent
	for rows.Next() {
		var a models.AlertEvent
		var strategy, chartPath sql.NullString
		var tf, rule string
		var createdAtNano int64

		err := rows.Scan(
			&a.ID, &strategy, &a.Symbol, &tf, &rule, &a.Message, &a.TriggerValue,
			&chartPath, &createdAtNano,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}

		a.StrategyName = strategy.String
		a.ChartPath = chartPath.String
		a.Timeframe = models.Timeframe(tf)
		a.Rule = models.Rule(rule)
		a.CreatedAt = time.Unix(0, createdAtNano)
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

func (s *Storage) ClearAlerts() error {
	if _, err := s.db.Exec(`DELETE FROM alerts`); err != nil {
		return fmt.Errorf("failed to clear alerts: %w", err)
	}
	return nil
}

// RotateAlerts keeps at most maxAlerts newest alerts by created_at.
func (s *Storage) RotateAlerts() error {
	if s.maxAlerts <= 0 {
		return nil
	}
	if _, err := s.db.Exec(rotateAlertsSQL, s.maxAlerts); err != nil {
		return fmt.Errorf("failed to rotate alerts: %w", err)
	}
	return nil
}

const rotateAlertsSQL = `
	DELETE FROM alerts WHERE id NOT IN (
		SELECT id FROM alerts ORDER BY created_at DESC LIMIT ?
	)`

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
