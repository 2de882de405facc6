package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/sirupsen/logrus"
)

// DuckDBConfig configures the DuckDB backend.
type DuckDBConfig struct {
	// Path is the database file. Empty means in-memory.
	Path string

	// Threads caps DuckDB's internal parallelism. Zero keeps the default.
	Threads int
}

// DuckDBBackend stores the graph as node, transaction and edge tables in an
// embedded DuckDB database. DuckDB allows one writer at a time, so the pool
// holds a single connection and concurrent bucket writes queue on it.
type DuckDBBackend struct {
	cfg DuckDBConfig
	db  *sql.DB
	log *logrus.Entry
}

// NewDuckDBBackend opens the database.
func NewDuckDBBackend(cfg DuckDBConfig, log *logrus.Entry) (*DuckDBBackend, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	dsn := cfg.Path
	if cfg.Threads > 0 {
		dsn = fmt.Sprintf("%s?threads=%d", cfg.Path, cfg.Threads)
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	log.WithField("path", path).Info("opened duckdb")
	return &DuckDBBackend{cfg: cfg, db: db, log: log}, nil
}

func (b *DuckDBBackend) Name() string { return "duckdb" }

func (b *DuckDBBackend) Dialect() Dialect { return SQL{} }

// DB exposes the underlying handle for queries.
func (b *DuckDBBackend) DB() *sql.DB {
	return b.db
}

// EnsureSchema relies on IF NOT EXISTS; any error is real.
func (b *DuckDBBackend) EnsureSchema(ctx context.Context) error {
	for _, stmt := range b.Dialect().Schema() {
		if _, err := b.db.ExecContext(ctx, stmt.Text); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Execute runs stmts in one transaction. Affected rows feed the counter
// named by each statement's Tally.
func (b *DuckDBBackend) Execute(ctx context.Context, stmts ...Statement) (WriteResult, error) {
	var res WriteResult
	start := time.Now()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, stmt := range stmts {
		if stmt.Text == "" {
			continue
		}
		r, err := tx.ExecContext(ctx, stmt.Text, stmt.Args...)
		if err != nil {
			tx.Rollback()
			return WriteResult{}, fmt.Errorf("failed to execute statement: %w", err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			continue
		}
		switch stmt.Tally {
		case TallyNodes:
			res.NodesCreated += n
		case TallyRelationships:
			res.RelationshipsCreated += n
		}
	}
	res.ResultAvailableAfter = time.Since(start)

	commitStart := time.Now()
	if err := tx.Commit(); err != nil {
		return WriteResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	res.ResultConsumedAfter = time.Since(commitStart)
	return res, nil
}

func (b *DuckDBBackend) Close(ctx context.Context) error {
	return b.db.Close()
}
