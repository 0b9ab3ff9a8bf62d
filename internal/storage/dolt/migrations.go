package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Migration is one forward-only, idempotent schema change. Each Func
// checks whether its change is already applied before touching anything,
// so RunMigrations is safe to call on every open.
type Migration struct {
	Name string
	Func func(context.Context, *sql.DB) error
}

// migrations is the ordered list of all migrations that run after the
// initial schema (schema.go) is created. Append only; revisions never
// reorder.
var migrations = []Migration{
	{"reports_detection_status_index", migrateReportsDetectionStatusIndex},
	{"cleanup_plans_due_date_index", migrateCleanupPlansDueDateIndex},
}

// RunMigrations executes all registered migrations in order.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	for _, m := range migrations {
		if err := m.Func(ctx, db); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}

func indexExists(ctx context.Context, db *sql.DB, table, index string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM information_schema.statistics
		WHERE table_schema = DATABASE() AND table_name = ? AND index_name = ?
	`, table, index).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check index %s.%s: %w", table, index, err)
	}
	return count > 0, nil
}

// migrateReportsDetectionStatusIndex adds an index so filtering by
// detection_status doesn't force a table scan once a run accumulates a
// large reconciliation history.
func migrateReportsDetectionStatusIndex(ctx context.Context, db *sql.DB) error {
	exists, err := indexExists(ctx, db, "reports", "idx_reports_detection_status")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = db.ExecContext(ctx, "CREATE INDEX idx_reports_detection_status ON reports(run_id, detection_status)")
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "duplicate") {
		return fmt.Errorf("create idx_reports_detection_status: %w", err)
	}
	return nil
}

// migrateCleanupPlansDueDateIndex speeds up "plans due soon" listings.
func migrateCleanupPlansDueDateIndex(ctx context.Context, db *sql.DB) error {
	exists, err := indexExists(ctx, db, "cleanup_plans", "idx_cleanup_plans_due_date")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = db.ExecContext(ctx, "CREATE INDEX idx_cleanup_plans_due_date ON cleanup_plans(due_date)")
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "duplicate") {
		return fmt.Errorf("create idx_cleanup_plans_due_date: %w", err)
	}
	return nil
}
