package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "modernc.org/sqlite"             // SQLite driver

	"github.com/MeKo-Tech/labelscan/internal/records"
	"github.com/MeKo-Tech/labelscan/internal/store/migrations"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects the database and the storage schema.
type Config struct {
	Driver string
	// DSN is the connection string for postgres.
	DSN string
	// Path is the database file for sqlite.
	Path   string
	Schema records.Schema
}

// DefaultConfig returns a sqlite store in the working directory.
func DefaultConfig() Config {
	return Config{Driver: DriverSQLite, Path: "labelscan.db", Schema: records.DefaultSchema}
}

// Batch is one submission: the records of a single reviewed label.
type Batch struct {
	Vendor string
	// Qty overrides the stored barcode count when > 0.
	Qty      int
	ResultID string
	Records  []records.LabelRecord
}

// Receipt describes a committed batch.
type Receipt struct {
	// BatchID identifies the stored rows. The header-detail schema reuses the
	// analysis result id when given; the normalized schema always mints one.
	BatchID string `json:"batch_id"`
	// Revision is the vendor's label revision; zero for the normalized schema.
	Revision     int `json:"revision,omitempty"`
	BarcodeCount int `json:"barcode_count"`
	Records      int `json:"records"`
}

// Store is a database-backed persistence sink.
type Store struct {
	db     *sql.DB
	driver string
	schema records.Schema
	writer schemaWriter
}

// Open connects to the configured database and applies pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	var (
		sqlDriver string
		dsn       string
	)
	switch strings.ToLower(cfg.Driver) {
	case "", DriverSQLite:
		cfg.Driver = DriverSQLite
		if cfg.Path == "" {
			return nil, errors.New("sqlite path is empty")
		}
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		sqlDriver = "sqlite"
		dsn = cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	case DriverPostgres, "postgresql", "pgx":
		cfg.Driver = DriverPostgres
		if cfg.DSN == "" {
			return nil, errors.New("postgres dsn is empty")
		}
		sqlDriver, dsn = "pgx", cfg.DSN
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	w, err := writerFor(cfg.Schema)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, unavailable("open", err)
	}
	if cfg.Driver == DriverSQLite {
		// One writer at a time; avoids SQLITE_BUSY between pooled connections.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("open", err)
	}

	s := &Store{db: db, driver: cfg.Driver, schema: cfg.Schema, writer: w}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	slog.Debug("Label store opened", "driver", cfg.Driver, "schema", cfg.Schema.String())
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Schema returns the storage schema records must be assembled for.
func (s *Store) Schema() records.Schema { return s.schema }

// Driver returns the normalized driver name.
func (s *Store) Driver() string { return s.driver }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// migrate runs all pending migrations for the store's dialect.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	dir := s.driver
	entries, err := fs.ReadDir(migrations.FS, dir)
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(migrations.FS, dir+"/"+name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO schema_migrations (version) VALUES (?)"), version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
		slog.Debug("Applied migration", "name", name, "driver", s.driver)
	}
	return nil
}

// Submit writes b in one transaction. On any failure nothing is committed
// and a *PersistenceError is returned.
func (s *Store) Submit(ctx context.Context, b Batch) (Receipt, error) {
	if len(b.Records) == 0 {
		return Receipt{}, persistErr("submit", ErrEmptyBatch)
	}
	if strings.TrimSpace(b.Vendor) == "" {
		return Receipt{}, persistErr("submit", errors.New("vendor is empty"))
	}
	if err := s.db.PingContext(ctx); err != nil {
		return Receipt{}, unavailable("submit", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Receipt{}, unavailable("submit", err)
	}
	rcpt, err := s.writer.write(ctx, s, tx, b)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("Rollback failed", "error", rbErr)
		}
		return Receipt{}, persistErr("submit", err)
	}
	if err := tx.Commit(); err != nil {
		return Receipt{}, persistErr("submit", err)
	}
	slog.Info("Submission stored",
		"vendor", b.Vendor, "batch_id", rcpt.BatchID, "revision", rcpt.Revision,
		"records", rcpt.Records, "schema", s.schema.String())
	return rcpt, nil
}

// Counts returns the row count of every label table.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int, 3)
	for _, table := range []string{"labels", "label_barcodes", "barcode_positions"} {
		var n int
		// table names are constants
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, persistErr("count", err)
		}
		out[table] = n
	}
	return out, nil
}

// LatestRevision returns the highest stored revision for vendor, or 0.
func (s *Store) LatestRevision(ctx context.Context, vendor string) (int, error) {
	var rev int
	q := s.rebind("SELECT COALESCE(MAX(revision), 0) FROM labels WHERE vendor = ?")
	if err := s.db.QueryRowContext(ctx, q, vendor).Scan(&rev); err != nil {
		return 0, persistErr("revision", err)
	}
	return rev, nil
}

func batchID(b Batch) string {
	if b.ResultID != "" {
		return b.ResultID
	}
	return uuid.NewString()
}
