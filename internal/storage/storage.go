package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// SchemaVersion is the current schema version; migrations below it
	// are applied in order at open time.
	SchemaVersion = 1

	// RetentionDays bounds how much history a shard keeps. Rows older
	// than this are deleted on every insert.
	RetentionDays = 7
)

// retentionTables are pruned together on every insert.
var retentionTables = []string{
	"ticker", "orderbook", "trades", "ohlcv", "funding_rate", "mark_price",
}

var symbolSanitizer = strings.NewReplacer("/", "_", ":", "_")

// Store is the storage engine for one symbol's shard.
type Store struct {
	symbol string
	path   string
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the shard for symbol under basePath, ensures
// the directory exists, enables WAL mode, and applies any pending
// schema migrations. The migration is checkpointed so the new schema is
// immediately visible to other connections to the same file.
func Open(basePath, symbol string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	path := filepath.Join(basePath, symbolSanitizer.Replace(symbol)+".db")

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open shard: %w", err)
	}

	// One writer per shard; readers go through WAL.
	db.SetMaxOpenConns(1)

	s := &Store{
		symbol: symbol,
		path:   path,
		db:     db,
		logger: logger.With("symbol", symbol),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate shard %s: %w", symbol, err)
	}

	s.logger.Info("storage shard opened", "path", path)
	return s, nil
}

// Symbol returns the symbol this shard stores.
func (s *Store) Symbol() string { return s.symbol }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close releases the pooled database handle. Individual operations
// acquire and release their connections from the pool, so Close is only
// needed at end of life.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate ensures the bookkeeping table, applies pending migrations,
// and forces a full WAL checkpoint.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS _schema_version (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("ensure schema version table: %w", err)
	}

	var current int
	err := s.db.QueryRow(
		`SELECT version FROM _schema_version ORDER BY version DESC LIMIT 1`,
	).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read schema version: %w", err)
	}

	if current < 1 {
		if err := s.applyV1(); err != nil {
			return fmt.Errorf("apply migration v1: %w", err)
		}
	}

	// Make the schema visible to any other connection to this file.
	if _, err := s.db.Exec(`PRAGMA wal_checkpoint(FULL)`); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}

	return nil
}

// applyV1 creates the six record tables plus timestamp indices.
func (s *Store) applyV1() error {
	s.logger.Info("applying schema migration", "version", 1)

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ticker (
			timestamp INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			high REAL,
			low REAL,
			bid REAL,
			bid_volume REAL,
			ask REAL,
			ask_volume REAL,
			vwap REAL,
			open REAL,
			close REAL,
			last REAL,
			previous_close REAL,
			change REAL,
			percentage REAL,
			average REAL,
			base_volume REAL,
			quote_volume REAL,
			info TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ticker_timestamp ON ticker(timestamp)`,

		`CREATE TABLE IF NOT EXISTS orderbook (
			timestamp INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			bids TEXT NOT NULL,
			asks TEXT NOT NULL,
			nonce INTEGER,
			datetime TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orderbook_timestamp ON orderbook(timestamp)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			timestamp INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			amount REAL NOT NULL,
			cost REAL,
			order_id TEXT,
			taker_or_maker TEXT,
			fee_cost REAL,
			fee_currency TEXT,
			info TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp)`,

		`CREATE TABLE IF NOT EXISTS ohlcv (
			timestamp INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL,
			volume REAL NOT NULL,
			PRIMARY KEY (timestamp, timeframe)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ohlcv_timestamp ON ohlcv(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_ohlcv_timeframe ON ohlcv(timeframe)`,

		`CREATE TABLE IF NOT EXISTS funding_rate (
			timestamp INTEGER NOT NULL PRIMARY KEY,
			symbol TEXT NOT NULL,
			funding_rate REAL NOT NULL,
			funding_timestamp INTEGER,
			info TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_funding_timestamp ON funding_rate(timestamp)`,

		`CREATE TABLE IF NOT EXISTS mark_price (
			timestamp INTEGER NOT NULL PRIMARY KEY,
			symbol TEXT NOT NULL,
			mark_price REAL NOT NULL,
			index_price REAL,
			info TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mark_price_timestamp ON mark_price(timestamp)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO _schema_version (version, applied_at) VALUES (?, ?)`,
		1, time.Now().UnixMilli(),
	); err != nil {
		return err
	}

	return tx.Commit()
}

// retentionCutoff returns the oldest timestamp (ms) a row may carry and
// still survive the next pruning sweep.
func retentionCutoff(now time.Time) int64 {
	return now.AddDate(0, 0, -RetentionDays).UnixMilli()
}

// pruneExpired deletes rows older than the retention boundary from all
// record tables. Runs inside the caller's transaction so pruning and
// the triggering insert commit together.
func (s *Store) pruneExpired(tx *sql.Tx) error {
	cutoff := retentionCutoff(time.Now())
	for _, table := range retentionTables {
		res, err := tx.Exec(`DELETE FROM `+table+` WHERE timestamp < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("prune %s: %w", table, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.logger.Debug("pruned expired rows", "table", table, "rows", n)
		}
	}
	return nil
}
