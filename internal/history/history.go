// Package history persists finished candles and per-candle indicator
// values in an embedded SQLite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"xts-terminal/internal/models"
)

// DefaultFileName is the database file created under the app data
// directory when no explicit path is configured.
const DefaultFileName = "chart_history.db"

// Store is the SQLite-backed candle archive. Every operation serializes
// on one mutex: the access pattern is a single writer (the aggregator's
// completion pass) plus occasional range reads, and SQLite rewards not
// interleaving them.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
	log  zerolog.Logger
}

// NewStore opens (creating if needed) the candle database.
func NewStore(dbPath string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: dbPath, log: log.With().Str("component", "history").Logger()}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS candles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		segment INTEGER NOT NULL,
		timeframe TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		open_interest INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, segment, timeframe, timestamp)
	);

	CREATE TABLE IF NOT EXISTS indicator_values (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		candle_id INTEGER NOT NULL,
		indicator_name TEXT NOT NULL,
		value REAL NOT NULL,
		metadata TEXT,
		FOREIGN KEY (candle_id) REFERENCES candles(id)
	);

	CREATE INDEX IF NOT EXISTS idx_candles_key ON candles(symbol, segment, timeframe, timestamp);
	CREATE INDEX IF NOT EXISTS idx_indicator_candle ON indicator_values(candle_id, indicator_name);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// SaveCandle upserts one finished candle, keyed by the unique
// (symbol, segment, timeframe, timestamp) tuple. Returns the candle row
// id.
func (s *Store) SaveCandle(ctx context.Context, symbol string, segment int, timeframe models.Timeframe, c models.Candle) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, segment, timeframe, timestamp, open, high, low, close, volume, open_interest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, symbol, segment, string(timeframe), c.Timestamp.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume, c.OpenInterest)
	if err != nil {
		return 0, fmt.Errorf("failed to save candle: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// SaveCandleBatch upserts many candles in one transaction and returns the
// count written.
func (s *Store) SaveCandleBatch(ctx context.Context, symbol string, segment int, timeframe models.Timeframe, candles []models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, segment, timeframe, timestamp, open, high, low, close, volume, open_interest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, c := range candles {
		if !c.Valid() {
			continue
		}
		if _, err := stmt.ExecContext(ctx, symbol, segment, string(timeframe), c.Timestamp.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume, c.OpenInterest); err != nil {
			return written, fmt.Errorf("failed to insert candle: %w", err)
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return written, nil
}

// GetCandles returns candles in [start, end], ascending by timestamp.
func (s *Store) GetCandles(ctx context.Context, symbol string, segment int, timeframe models.Timeframe, start, end time.Time) ([]models.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume, open_interest
		FROM candles
		WHERE symbol = ? AND segment = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, symbol, segment, string(timeframe), start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

// GetRecentCandles returns the latest n candles, ascending by timestamp.
func (s *Store) GetRecentCandles(ctx context.Context, symbol string, segment int, timeframe models.Timeframe, n int) ([]models.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume, open_interest
		FROM candles
		WHERE symbol = ? AND segment = ? AND timeframe = ?
		ORDER BY timestamp DESC LIMIT ?
	`, symbol, segment, string(timeframe), n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent candles: %w", err)
	}
	defer rows.Close()
	candles, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	// Flip the descending LIMIT window back to ascending.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// GetLastCandle returns the most recent candle for a key.
func (s *Store) GetLastCandle(ctx context.Context, symbol string, segment int, timeframe models.Timeframe) (models.Candle, bool, error) {
	candles, err := s.GetRecentCandles(ctx, symbol, segment, timeframe, 1)
	if err != nil {
		return models.Candle{}, false, err
	}
	if len(candles) == 0 {
		return models.Candle{}, false, nil
	}
	return candles[0], true, nil
}

// CandleExists reports whether a candle is stored for the exact key tuple.
func (s *Store) CandleExists(ctx context.Context, symbol string, segment int, timeframe models.Timeframe, ts time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM candles WHERE symbol = ? AND segment = ? AND timeframe = ? AND timestamp = ?
	`, symbol, segment, string(timeframe), ts.UTC()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check candle: %w", err)
	}
	return true, nil
}

// SaveIndicatorValue stores one indicator reading against a candle row.
func (s *Store) SaveIndicatorValue(ctx context.Context, candleID int64, name string, value float64, metadata map[string]interface{}) error {
	var metaJSON []byte
	if metadata != nil {
		metaJSON, _ = json.Marshal(metadata)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indicator_values (candle_id, indicator_name, value, metadata)
		VALUES (?, ?, ?, ?)
	`, candleID, name, value, string(metaJSON))
	if err != nil {
		return fmt.Errorf("failed to save indicator value: %w", err)
	}
	return nil
}

// IndicatorValue is one stored indicator reading.
type IndicatorValue struct {
	CandleID int64
	Name     string
	Value    float64
	Metadata map[string]interface{}
}

// GetIndicatorValues returns every indicator reading for a candle row.
func (s *Store) GetIndicatorValues(ctx context.Context, candleID int64) ([]IndicatorValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT candle_id, indicator_name, value, COALESCE(metadata, '')
		FROM indicator_values WHERE candle_id = ? ORDER BY indicator_name ASC
	`, candleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query indicator values: %w", err)
	}
	defer rows.Close()

	var out []IndicatorValue
	for rows.Next() {
		var iv IndicatorValue
		var metaJSON string
		if err := rows.Scan(&iv.CandleID, &iv.Name, &iv.Value, &metaJSON); err != nil {
			return nil, fmt.Errorf("failed to scan indicator value: %w", err)
		}
		if metaJSON != "" {
			json.Unmarshal([]byte(metaJSON), &iv.Metadata)
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// DeleteOldCandles removes candles older than the cutoff, returning the
// number deleted. Their indicator rows go with them.
func (s *Store) DeleteOldCandles(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM indicator_values WHERE candle_id IN (SELECT id FROM candles WHERE timestamp < ?)
	`, olderThan.UTC()); err != nil {
		return 0, fmt.Errorf("failed to delete old indicator values: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM candles WHERE timestamp < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old candles: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Statistics summarizes the archive.
type Statistics struct {
	CandleCount    int64
	IndicatorCount int64
	DistinctKeys   int64
	OldestCandle   time.Time
	NewestCandle   time.Time
	FileSizeBytes  int64
}

// GetStatistics returns archive-wide row counts and bounds.
func (s *Store) GetStatistics(ctx context.Context) (Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats Statistics
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM candles`).Scan(&stats.CandleCount)
	if err != nil {
		return stats, fmt.Errorf("failed to count candles: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM indicator_values`).Scan(&stats.IndicatorCount); err != nil {
		return stats, fmt.Errorf("failed to count indicators: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT symbol || '|' || segment || '|' || timeframe) FROM candles
	`).Scan(&stats.DistinctKeys); err != nil {
		return stats, fmt.Errorf("failed to count keys: %w", err)
	}
	// MIN()/MAX() strip the column's DATETIME affinity, so the driver
	// would hand back a bare string; selecting the column keeps the
	// time.Time conversion.
	err = s.db.QueryRowContext(ctx, `SELECT timestamp FROM candles ORDER BY timestamp ASC LIMIT 1`).Scan(&stats.OldestCandle)
	if err != nil && err != sql.ErrNoRows {
		return stats, fmt.Errorf("failed to query oldest candle: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT timestamp FROM candles ORDER BY timestamp DESC LIMIT 1`).Scan(&stats.NewestCandle)
	if err != nil && err != sql.ErrNoRows {
		return stats, fmt.Errorf("failed to query newest candle: %w", err)
	}
	if fi, err := os.Stat(s.path); err == nil {
		stats.FileSizeBytes = fi.Size()
	}
	return stats, nil
}

func scanCandles(rows *sql.Rows) ([]models.Candle, error) {
	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.OpenInterest); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}
	return candles, nil
}
