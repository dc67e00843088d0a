package database

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds the generation history database settings
type Config struct {
	Enabled         bool          `json:"enabled" toml:"enabled"`
	DatabasePath    string        `json:"database_path" toml:"database_path"`
	MaxConnections  int           `json:"max_connections" toml:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" toml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" toml:"conn_max_idle_time"`
	// Retention is how long generation records are kept. Zero keeps them forever.
	Retention time.Duration `json:"retention" toml:"retention"`
}

// DefaultConfig returns the production database configuration
// FUNCTIONAL DISCOVERY: history writes are one row per generation, a small
// pool is plenty for the dashboard reads
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		DatabasePath:    "./data/vibepie.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
		Retention:       7 * 24 * time.Hour,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.Retention < 0 {
		return errors.New("retention cannot be negative")
	}
	return nil
}

// SQLite pragmas
// ARCHITECTURAL DISCOVERY: WAL mode keeps dashboard reads off the single
// writer's path
const sqliteOptimizations = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA cache_size = -16000;
	PRAGMA temp_store = MEMORY;
	PRAGMA busy_timeout = 5000;
`

// Open opens the SQLite file, sizes the pool and applies the pragmas.
func Open(cfg *Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections / 2)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func applySQLiteOptimizations(db *sql.DB) error {
	_, err := db.Exec(sqliteOptimizations)
	return err
}
