package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/stratumdb/stratum/internal/errors"
	"github.com/stratumdb/stratum/internal/registry"
	"github.com/stratumdb/stratum/internal/storage"
	"github.com/stratumdb/stratum/internal/validate"
)

// Latest targets all pending migrations in Apply.
const Latest = 0

// Engine applies and rolls back migrations against the catalog.
// Apply and rollback are serialized per namespace; concurrent
// attempts for the same namespace fail fast with LOCK_TIMEOUT.
type Engine struct {
	registry *registry.Registry
	store    *registry.Store
	source   storage.MigrationSource
	locks    *lockManager
}

// New creates a migration engine. lockWait bounds how long a request
// waits for a namespace already running a migration; zero means
// DefaultLockWait.
func New(reg *registry.Registry, source storage.MigrationSource, lockWait time.Duration) *Engine {
	return &Engine{
		registry: reg,
		store:    reg.Store(),
		source:   source,
		locks:    newLockManager(lockWait),
	}
}

func recordsTableName(namespace string) string {
	return registry.MigrationTableName(namespace)
}

// ApplyResult reports what an Apply call did (or would do, on dry run).
type ApplyResult struct {
	Applied  []int     `json:"applied"`
	Warnings []Warning `json:"warnings,omitempty"`
	DryRun   bool      `json:"dry_run,omitempty"`
}

// RollbackResult reports what a Rollback call did.
type RollbackResult struct {
	RolledBack []int `json:"rolled_back"`
	DryRun     bool  `json:"dry_run,omitempty"`
}

// Apply brings the namespace up to targetVersion (Latest means all
// pending). Each migration runs in its own transaction; a statement
// failure rolls that migration back entirely and stops the run, so
// earlier migrations in the same call remain applied.
func (e *Engine) Apply(ctx context.Context, namespace string, targetVersion int, dryRun bool) (*ApplyResult, error) {
	token, err := e.locks.acquire(ctx, namespace)
	if err != nil {
		return nil, err
	}
	defer e.locks.release(namespace, token)

	migrations, records, err := e.load(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if err := verifyChecksums(namespace, migrations, records); err != nil {
		return nil, err
	}

	if targetVersion == Latest {
		targetVersion = len(migrations)
	}
	if targetVersion > len(migrations) {
		return nil, errors.New(errors.ErrCategoryMigration, errors.CodeValidationError,
			fmt.Sprintf("target version %d exceeds highest known migration %d", targetVersion, len(migrations)))
	}

	current := currentVersion(records)
	var pending []Migration
	for _, m := range migrations {
		if m.Version > current && m.Version <= targetVersion {
			pending = append(pending, m)
		}
	}

	// Validate every pending migration before executing any of them.
	var warnings []Warning
	for _, m := range pending {
		ws, err := Validate(m)
		if err != nil {
			return nil, err
		}
		warnings = append(warnings, ws...)
	}

	result := &ApplyResult{Applied: []int{}, Warnings: warnings, DryRun: dryRun}
	if dryRun {
		for _, m := range pending {
			result.Applied = append(result.Applied, m.Version)
		}
		return result, nil
	}

	for _, m := range pending {
		if err := e.applyOne(ctx, m); err != nil {
			// Earlier migrations from this run stay applied; refresh
			// the schema cache to reflect them.
			if len(result.Applied) > 0 {
				e.resync(ctx, namespace)
			}
			return result, err
		}
		result.Applied = append(result.Applied, m.Version)
		log.Printf("migrate: applied %03d_%s in namespace %q", m.Version, m.Name, namespace)
	}

	if len(result.Applied) > 0 {
		if err := e.resync(ctx, namespace); err != nil {
			return result, err
		}
	}
	return result, nil
}

// Rollback undoes applied migrations down to (and keeping)
// targetVersion, in reverse order, one transaction per migration.
func (e *Engine) Rollback(ctx context.Context, namespace string, targetVersion int, dryRun bool) (*RollbackResult, error) {
	if targetVersion < 0 {
		return nil, errors.NewValidationError("rollback target version cannot be negative")
	}

	token, err := e.locks.acquire(ctx, namespace)
	if err != nil {
		return nil, err
	}
	defer e.locks.release(namespace, token)

	migrations, records, err := e.load(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if err := verifyChecksums(namespace, migrations, records); err != nil {
		return nil, err
	}

	byVersion := make(map[int]Migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}

	var toRollback []Migration
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if rec.Version <= targetVersion {
			break
		}
		m, ok := byVersion[rec.Version]
		if !ok {
			return nil, errors.New(errors.ErrCategoryMigration, errors.CodeValidationError,
				fmt.Sprintf("applied migration %03d has no source file; cannot roll back", rec.Version))
		}
		toRollback = append(toRollback, m)
	}

	result := &RollbackResult{RolledBack: []int{}, DryRun: dryRun}
	if dryRun {
		for _, m := range toRollback {
			result.RolledBack = append(result.RolledBack, m.Version)
		}
		return result, nil
	}

	for _, m := range toRollback {
		if err := e.rollbackOne(ctx, m); err != nil {
			if len(result.RolledBack) > 0 {
				e.resync(ctx, namespace)
			}
			return result, err
		}
		result.RolledBack = append(result.RolledBack, m.Version)
		log.Printf("migrate: rolled back %03d_%s in namespace %q", m.Version, m.Name, namespace)
	}

	if len(result.RolledBack) > 0 {
		if err := e.resync(ctx, namespace); err != nil {
			return result, err
		}
	}
	return result, nil
}

// Status reports applied and pending versions for a namespace, plus
// any checksum discrepancies. Status never blocks on the migration
// lock and never hard-fails on a mismatch; it reports it.
func (e *Engine) Status(ctx context.Context, namespace string) (*Status, error) {
	migrations, records, err := e.load(ctx, namespace)
	if err != nil {
		return nil, err
	}

	status := &Status{
		Namespace:      namespace,
		CurrentVersion: currentVersion(records),
		Applied:        records,
		Pending:        []int{},
	}

	byVersion := make(map[int]Migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}
	for _, rec := range records {
		m, ok := byVersion[rec.Version]
		if !ok || m.Checksum != rec.Checksum {
			status.Discrepancies = append(status.Discrepancies, rec.Version)
		}
	}
	for _, m := range migrations {
		if m.Version > status.CurrentVersion {
			status.Pending = append(status.Pending, m.Version)
		}
	}
	return status, nil
}

func (e *Engine) load(ctx context.Context, namespace string) ([]Migration, []Record, error) {
	migrations, err := Discover(ctx, e.source, namespace)
	if err != nil {
		return nil, nil, err
	}
	if err := e.ensureRecordsTable(ctx, namespace); err != nil {
		return nil, nil, err
	}
	records, err := e.loadRecords(ctx, namespace)
	if err != nil {
		return nil, nil, err
	}
	return migrations, records, nil
}

func (e *Engine) ensureRecordsTable(ctx context.Context, namespace string) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`, recordsTableName(namespace))
	if _, err := e.store.ExecWrite(ctx, ddl); err != nil {
		return errors.NewDatabaseError("failed to create migration records table", err)
	}
	return nil
}

func (e *Engine) loadRecords(ctx context.Context, namespace string) ([]Record, error) {
	query := fmt.Sprintf(`SELECT version, name, checksum, applied_at FROM %q ORDER BY version`,
		recordsTableName(namespace))
	rows, err := e.store.QueryRead(ctx, query)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to read migration records", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var appliedAt string
		if err := rows.Scan(&rec.Version, &rec.Name, &rec.Checksum, &appliedAt); err != nil {
			return nil, errors.NewDatabaseError("failed to scan migration record", err)
		}
		if t, err := validate.ParseTime(appliedAt); err == nil {
			rec.AppliedAt = t
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("failed to read migration records", err)
	}
	return records, nil
}

// applyOne runs a migration's up SQL and writes its record in a
// single transaction.
func (e *Engine) applyOne(ctx context.Context, m Migration) error {
	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range Statements(m.UpSQL) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("statement failed: %w", err)
			}
		}
		insert := fmt.Sprintf(`INSERT INTO %q (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)`,
			recordsTableName(m.Namespace))
		_, err := tx.ExecContext(ctx, insert, m.Version, m.Name, m.Checksum, validate.Now())
		return err
	})
	if err != nil {
		log.Printf("migrate: apply %03d_%s failed in namespace %q: %v", m.Version, m.Name, m.Namespace, err)
		return errors.NewDatabaseError(
			fmt.Sprintf("migration %03d_%s failed and was rolled back", m.Version, m.Name), err)
	}
	return nil
}

// rollbackOne runs a migration's down SQL and deletes its record in a
// single transaction.
func (e *Engine) rollbackOne(ctx context.Context, m Migration) error {
	err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range Statements(m.DownSQL) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("statement failed: %w", err)
			}
		}
		del := fmt.Sprintf(`DELETE FROM %q WHERE version = ?`, recordsTableName(m.Namespace))
		_, err := tx.ExecContext(ctx, del, m.Version)
		return err
	})
	if err != nil {
		log.Printf("migrate: rollback %03d_%s failed in namespace %q: %v", m.Version, m.Name, m.Namespace, err)
		return errors.NewDatabaseError(
			fmt.Sprintf("rollback of %03d_%s failed and was rolled back", m.Version, m.Name), err)
	}
	return nil
}

// resync refreshes the schema cache from the physical catalog after
// DDL has run.
func (e *Engine) resync(ctx context.Context, namespace string) error {
	if err := e.registry.Resync(ctx, namespace); err != nil {
		log.Printf("migrate: schema resync failed for namespace %q: %v", namespace, err)
		return err
	}
	return nil
}

func currentVersion(records []Record) int {
	if len(records) == 0 {
		return 0
	}
	return records[len(records)-1].Version
}

// verifyChecksums compares each applied record against the discovered
// file content. Applied migrations are immutable history; any edits
// block further apply/rollback for the namespace.
func verifyChecksums(namespace string, migrations []Migration, records []Record) error {
	byVersion := make(map[int]Migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}
	for _, rec := range records {
		m, ok := byVersion[rec.Version]
		if !ok {
			return errors.NewChecksumMismatchError(namespace, rec.Version)
		}
		if m.Checksum != rec.Checksum {
			return errors.NewChecksumMismatchError(namespace, rec.Version)
		}
	}
	return nil
}
