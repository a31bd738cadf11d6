// Package registry owns the per-plugin table schemas: physical table
// creation, schema persistence, and the shared in-memory schema cache
// consulted by the executor and the migration engine.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Store owns the backing SQLite database. Writes go through a single
// connection (SQLite allows one writer), reads through a read-only
// connection pool. Callers never see the raw handles.
type Store struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Serializes write transactions

	// Prepared statement cache (for read connection)
	stmtCache map[string]*sql.Stmt
	stmtMu    sync.RWMutex
}

// Open opens (creating if needed) the engine database at dbPath.
func Open(dbPath string, busyTimeoutMS int) (*Store, error) {
	if busyTimeoutMS <= 0 {
		busyTimeoutMS = 5000
	}

	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on", dbPath, busyTimeoutMS))
	if err != nil {
		return nil, fmt.Errorf("registry: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := ensureMetaTables(db); err != nil {
		db.Close()
		return nil, err
	}

	// Read connection pool: concurrent readers via read-only mode.
	// mode=ro is a SQLite URI parameter, so the DSN needs the file:
	// scheme for it to take effect.
	readDB, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=%d&mode=ro", dbPath, busyTimeoutMS))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: failed to open read connection: %w", err)
	}
	readDB.SetMaxOpenConns(8)
	readDB.SetMaxIdleConns(4)

	return &Store{
		db:        db,
		readDB:    readDB,
		dbPath:    dbPath,
		stmtCache: make(map[string]*sql.Stmt),
	}, nil
}

// ensureMetaTables creates the engine metadata tables.
func ensureMetaTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS stratum_schemas (
			namespace   TEXT NOT NULL,
			tbl         TEXT NOT NULL,
			schema_json TEXT NOT NULL,
			created_at  INTEGER NOT NULL,
			PRIMARY KEY (namespace, tbl)
		)
	`)
	if err != nil {
		return fmt.Errorf("registry: failed to create metadata tables: %w", err)
	}
	return nil
}

// ExecWrite executes a mutating statement on the write connection.
func (s *Store) ExecWrite(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.ExecContext(ctx, query, args...)
}

// WithTx runs fn inside a transaction on the write connection. The
// transaction is rolled back if fn returns an error or panics.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			log.Printf("[WARN] registry: rollback failed: %v", rbErr)
		}
		return err
	}
	return tx.Commit()
}

// QueryRead runs a read query using a cached prepared statement on the
// read connection pool.
func (s *Store) QueryRead(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	stmt, err := s.readStmt(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryContext(ctx, args...)
}

// QueryRowRead runs a single-row read query on the read connection pool.
func (s *Store) QueryRowRead(ctx context.Context, query string, args ...any) *sql.Row {
	stmt, err := s.readStmt(ctx, query)
	if err != nil {
		// Defer the error to Scan via an always-failing query.
		return s.readDB.QueryRowContext(ctx, query, args...)
	}
	return stmt.QueryRowContext(ctx, args...)
}

// readStmt returns a cached prepared statement for the read connection.
func (s *Store) readStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	s.stmtMu.RLock()
	stmt, ok := s.stmtCache[query]
	s.stmtMu.RUnlock()
	if ok {
		return stmt, nil
	}

	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()
	if stmt, ok := s.stmtCache[query]; ok {
		return stmt, nil
	}

	stmt, err := s.readDB.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to prepare statement: %w", err)
	}
	s.stmtCache[query] = stmt
	return stmt, nil
}

// InvalidateStmts closes and drops all cached prepared statements.
// Called after migrations change physical table shapes.
func (s *Store) InvalidateStmts() {
	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()
	for q, stmt := range s.stmtCache {
		stmt.Close()
		delete(s.stmtCache, q)
	}
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes both connections and all cached statements.
func (s *Store) Close() error {
	s.InvalidateStmts()

	var firstErr error
	if err := s.readDB.Close(); err != nil {
		firstErr = err
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
