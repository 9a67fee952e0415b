// Package cache persists the raw coverage dataset and its long form in an
// embedded sqlite database and answers read-only queries over the long
// table.
//
// The database holds exactly two tables, the raw passthrough table and the
// long fact table, plus lookup indexes on location, technology and area
// type. Build is the only writer.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/jalad-shrimali/coverage-cache/coverage"
)

const (
	// DriverCGO is github.com/mattn/go-sqlite3.
	DriverCGO = "sqlite3"
	// DriverPure is modernc.org/sqlite, usable with CGO_ENABLED=0.
	DriverPure = "sqlite"

	DefaultPath      = "data/coverage.db"
	DefaultRawTable  = "coverage_raw"
	DefaultLongTable = "coverage_long"
)

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type StoreConfig struct {
	Logger       *slog.Logger
	Path         string
	Driver       string
	RawTable     string
	LongTable    string
	Technologies []string
	Identity     coverage.IdentityColumns
	Clock        clockwork.Clock
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Path == "" {
		return errors.New("database path is required")
	}
	switch cfg.Driver {
	case "":
		cfg.Driver = DriverCGO
	case DriverCGO, DriverPure:
	default:
		return fmt.Errorf("unsupported driver %q (want %q or %q)", cfg.Driver, DriverCGO, DriverPure)
	}
	if cfg.RawTable == "" {
		cfg.RawTable = DefaultRawTable
	}
	if cfg.LongTable == "" {
		cfg.LongTable = DefaultLongTable
	}
	for _, name := range []string{cfg.RawTable, cfg.LongTable} {
		if !identRE.MatchString(name) {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	if cfg.RawTable == cfg.LongTable {
		return errors.New("raw and long tables must differ")
	}
	if cfg.Identity.Location == "" {
		return errors.New("location column is required")
	}
	cfg.Technologies = coverage.NormalizeTechnologies(cfg.Technologies)
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Store is an open handle on the cache database. It is safe for concurrent
// readers; builds are serialized.
type Store struct {
	log *slog.Logger
	cfg StoreConfig
	db  *sql.DB
	mu  sync.Mutex
}

// Open validates cfg, creates the database directory if needed and opens a
// connection pool configured for one writer and many readers.
func Open(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	memory := cfg.Path == ":memory:"
	if !memory {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, &StorageError{Op: "create database directory", Err: err}
			}
		}
	}

	db, err := sql.Open(driverName(cfg.Driver), dsn(cfg.Driver, cfg.Path))
	if err != nil {
		return nil, &StorageError{Op: "open database", Err: err}
	}
	if memory {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &StorageError{Op: "open database", Err: err}
	}

	cfg.Logger.Debug("cache/store: opened database", "path", cfg.Path, "driver", cfg.Driver)
	return &Store{log: cfg.Logger, cfg: cfg, db: db}, nil
}

// dsn enables WAL with relaxed durability and in-memory temp storage: the
// cache can always be rebuilt from its source. go-sqlite3 has no DSN
// parameter for temp_store; its registered driver sets it on connect.
func dsn(driver, path string) string {
	switch driver {
	case DriverPure:
		return "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=temp_store(MEMORY)"
	default:
		return "file:" + path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}
}

func driverName(driver string) string {
	if driver == DriverPure {
		return DriverPure
	}
	return cgoDriverName
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Config returns the validated configuration.
func (s *Store) Config() StoreConfig { return s.cfg }

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
