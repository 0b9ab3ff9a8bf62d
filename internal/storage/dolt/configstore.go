//go:build cgo

package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	embedded "github.com/dolthub/driver"

	"github.com/findingstore/findingstore/internal/corekit"
	"github.com/findingstore/findingstore/internal/types"
)

// ConfigStore is the server-wide configuration database: Products and
// Tasks. It is a second, independent embedded
// Dolt instance from any per-product DoltStore, opened once by the
// registry at startup and pointed at a reserved directory.
type ConfigStore struct {
	mu sync.RWMutex

	db         *sql.DB
	connector  interface{ Close() error }
	accessLock *AccessLock
	closed     bool
}

// OpenConfig creates (if needed) and opens the server-wide configuration
// store, mirroring Open's bootstrap sequence (access lock, CREATE DATABASE,
// schema init, pooled connection) against configSchema instead of the
// per-product schema.
func OpenConfig(ctx context.Context, cfg *Config) (*ConfigStore, error) {
	cfg = cfg.withDefaults()

	if info, err := os.Stat(cfg.Path); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("config database path %q is a file, not a directory", cfg.Path)
	}
	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return nil, fmt.Errorf("create config database directory: %w", err)
	}
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute path: %w", err)
	}

	accessLock, err := AcquireAccessLock(ctx, absPath, cfg.OpenTimeout)
	if err != nil {
		return nil, fmt.Errorf("acquire config access lock: %w", err)
	}

	initDSN := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s", absPath, cfg.CommitterName, cfg.CommitterEmail)
	dbDSN := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s&database=%s", absPath, cfg.CommitterName, cfg.CommitterEmail, cfg.Database)
	configureRetries := func(c *embedded.Config) { c.BackOff = newEmbeddedOpenBackoff() }

	if err := withEmbeddedDolt(ctx, initDSN, configureRetries, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Database))
		return err
	}); err != nil {
		accessLock.Release()
		return nil, fmt.Errorf("create config dolt database: %w", err)
	}

	if err := withEmbeddedDolt(ctx, dbDSN, configureRetries, func(ctx context.Context, db *sql.DB) error {
		return initConfigSchema(ctx, db)
	}); err != nil {
		accessLock.Release()
		return nil, fmt.Errorf("initialize config schema: %w", err)
	}

	db, connector, err := openEmbeddedConnection(dbDSN, cfg.MaxOpenConns)
	if err != nil {
		accessLock.Release()
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = connector.Close()
		accessLock.Release()
		return nil, fmt.Errorf("ping config dolt database: %w", err)
	}

	return &ConfigStore{db: db, connector: connector, accessLock: accessLock}, nil
}

func initConfigSchema(ctx context.Context, db *sql.DB) error {
	var version int
	err := db.QueryRowContext(ctx, "SELECT `value` FROM config WHERE `key` = 'schema_version'").Scan(&version)
	if err == nil && version >= currentConfigSchemaVersion {
		return nil
	}
	for _, stmt := range splitStatements(configSchema) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" || isOnlyComments(stmt) {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create config schema: %w\nstatement: %s", err, truncateForError(stmt))
		}
	}
	for _, stmt := range splitStatements(defaultConfigStoreConfig) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" || isOnlyComments(stmt) {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("insert default config-store config: %w", err)
		}
	}
	_, err = db.ExecContext(ctx,
		"INSERT INTO config (`key`, `value`) VALUES ('schema_version', ?) ON DUPLICATE KEY UPDATE `value` = ?",
		currentConfigSchemaVersion, currentConfigSchemaVersion)
	return err
}

func (s *ConfigStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []string
	if err := s.db.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if s.connector != nil {
		if err := s.connector.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if s.accessLock != nil {
		s.accessLock.Release()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close config store: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ---- Products ----

// CreateProduct inserts a new Product row, assigned by a SUPERUSER per
// endpoint must be unique; a duplicate returns corekit.ErrConflict.
func (s *ConfigStore) CreateProduct(ctx context.Context, p *types.Product) (*types.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO products (endpoint, displayed_name, description, db_connection_spec, run_limit, review_status_change_disabled)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.Endpoint, p.DisplayedName, p.Description, p.DBConnectionSpec, p.RunLimit, p.ReviewStatusChangeDisabled)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "duplicate") {
			return nil, corekit.New(corekit.KindDatabase, "create_product", fmt.Errorf("%w: endpoint %q already exists", corekit.ErrConflict, p.Endpoint))
		}
		return nil, corekit.WrapDB("create_product", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, corekit.WrapDB("create_product last_insert_id", err)
	}
	out := *p
	out.ID = id
	return &out, nil
}

// GetProduct looks up a non-retired product by id.
func (s *ConfigStore) GetProduct(ctx context.Context, id int64) (*types.Product, error) {
	return s.scanProduct(s.db.QueryRowContext(ctx, `
		SELECT id, endpoint, displayed_name, description, db_connection_spec, run_limit, review_status_change_disabled
		FROM products WHERE id = ? AND retired = FALSE
	`, id))
}

// GetProductByEndpoint looks up a non-retired product by its URL-safe slug.
func (s *ConfigStore) GetProductByEndpoint(ctx context.Context, endpoint string) (*types.Product, error) {
	return s.scanProduct(s.db.QueryRowContext(ctx, `
		SELECT id, endpoint, displayed_name, description, db_connection_spec, run_limit, review_status_change_disabled
		FROM products WHERE endpoint = ? AND retired = FALSE
	`, endpoint))
}

func (s *ConfigStore) scanProduct(row *sql.Row) (*types.Product, error) {
	p := &types.Product{}
	err := row.Scan(&p.ID, &p.Endpoint, &p.DisplayedName, &p.Description, &p.DBConnectionSpec, &p.RunLimit, &p.ReviewStatusChangeDisabled)
	if err == sql.ErrNoRows {
		return nil, corekit.New(corekit.KindDatabase, "get_product", corekit.ErrNotFound)
	}
	if err != nil {
		return nil, corekit.WrapDB("get_product", err)
	}
	return p, nil
}

// ListProducts returns every non-retired product, ordered by endpoint.
func (s *ConfigStore) ListProducts(ctx context.Context) ([]*types.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, endpoint, displayed_name, description, db_connection_spec, run_limit, review_status_change_disabled
		FROM products WHERE retired = FALSE ORDER BY endpoint
	`)
	if err != nil {
		return nil, corekit.WrapDB("list_products", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.Product
	for rows.Next() {
		p := &types.Product{}
		if err := rows.Scan(&p.ID, &p.Endpoint, &p.DisplayedName, &p.Description, &p.DBConnectionSpec, &p.RunLimit, &p.ReviewStatusChangeDisabled); err != nil {
			return nil, corekit.WrapDB("list_products scan", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RetireProduct marks a product retired (soft delete): it stops appearing
// in ListProducts/GetProduct but its per-product database is left intact
// for the registry to close out any in-flight operations against.
func (s *ConfigStore) RetireProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE products SET retired = TRUE WHERE id = ?`, id)
	if err != nil {
		return corekit.WrapDB("retire_product", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return corekit.WrapDB("retire_product rows_affected", err)
	}
	if n == 0 {
		return corekit.New(corekit.KindDatabase, "retire_product", corekit.ErrNotFound)
	}
	return nil
}

// ---- Tasks ----

// CreateTask persists a new Task row in the status t carries.
func (s *ConfigStore) CreateTask(ctx context.Context, t *types.Task) error {
	now := time.Now().UTC()
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = now
	}
	t.LastHeartbeat = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (token, kind, status, product_id, actor, enqueued_at, last_heartbeat, cancel_flag, consumed_flag)
		VALUES (?, ?, ?, ?, ?, ?, ?, FALSE, FALSE)
	`, t.Token, t.Kind, string(t.Status), t.ProductID, t.Actor, t.EnqueuedAt, t.LastHeartbeat)
	return corekit.WrapDB("create_task", err)
}

// GetTask fetches a Task by token.
func (s *ConfigStore) GetTask(ctx context.Context, token string) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, kind, status, product_id, actor, enqueued_at, started_at, completed_at,
		       last_heartbeat, cancel_flag, consumed_flag, error_message
		FROM tasks WHERE token = ?
	`, token)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, corekit.New(corekit.KindDatabase, "get_task", corekit.ErrNotFound)
	}
	if err != nil {
		return nil, corekit.WrapDB("get_task", err)
	}
	return t, nil
}

// taskRow is the subset of *sql.Row/*sql.Rows scanTask needs, letting
// GetTask and ListTasks share the same column-to-struct mapping.
type taskRow interface {
	Scan(dest ...any) error
}

func scanTask(row taskRow) (*types.Task, error) {
	t := &types.Task{}
	var productID sql.NullInt64
	var startedAt, completedAt sql.NullTime
	var errMsg sql.NullString
	err := row.Scan(&t.Token, &t.Kind, &t.Status, &productID, &t.Actor, &t.EnqueuedAt, &startedAt,
		&completedAt, &t.LastHeartbeat, &t.CancelFlag, &t.ConsumedFlag, &errMsg)
	if err != nil {
		return nil, err
	}
	if productID.Valid {
		t.ProductID = &productID.Int64
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	t.ErrorMessage = errMsg.String
	return t, nil
}

// UpdateTaskStatus transitions a task's status and, for terminal statuses,
// stamps completed_at and the error message (if any).
func (s *ConfigStore) UpdateTaskStatus(ctx context.Context, token string, status types.TaskStatus, errMsg string) error {
	var completedAt *time.Time
	var startedAt *time.Time
	if status == types.TaskRunning {
		now := time.Now().UTC()
		startedAt = &now
	}
	if status.Terminal() {
		now := time.Now().UTC()
		completedAt = &now
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?,
			started_at = COALESCE(started_at, ?),
			completed_at = COALESCE(?, completed_at),
			error_message = ?
		WHERE token = ?
	`, string(status), startedAt, completedAt, errMsg, token)
	return corekit.WrapDB("update_task_status", err)
}

// Heartbeat refreshes a running task's last_heartbeat.
func (s *ConfigStore) Heartbeat(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET last_heartbeat = ? WHERE token = ?`, time.Now().UTC(), token)
	return corekit.WrapDB("task_heartbeat", err)
}

// SetCancelFlag sets cancel_flag=true and reports whether this call was the
// one that transitioned it (vs. it already being set), per cancel_task's
// documented return value.
func (s *ConfigStore) SetCancelFlag(ctx context.Context, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET cancel_flag = TRUE WHERE token = ? AND cancel_flag = FALSE`, token)
	if err != nil {
		return false, corekit.WrapDB("set_cancel_flag", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, corekit.WrapDB("set_cancel_flag rows_affected", err)
	}
	return n > 0, nil
}

// SetConsumed marks a terminal task eligible for later GC, called when
// its actor reads a terminal status.
func (s *ConfigStore) SetConsumed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET consumed_flag = TRUE WHERE token = ?`, token)
	return corekit.WrapDB("set_consumed", err)
}

// ListTasks answers the admin-only get_tasks query; it never consumes.
func (s *ConfigStore) ListTasks(ctx context.Context, f types.TaskFilter, limit, offset int) ([]*types.Task, error) {
	query := `
		SELECT token, kind, status, product_id, actor, enqueued_at, started_at, completed_at,
		       last_heartbeat, cancel_flag, consumed_flag, error_message
		FROM tasks WHERE 1=1`
	var args []any

	if len(f.Kinds) > 0 {
		query += " AND kind IN (" + placeholders(len(f.Kinds)) + ")"
		for _, k := range f.Kinds {
			args = append(args, k)
		}
	}
	if len(f.Statuses) > 0 {
		query += " AND status IN (" + placeholders(len(f.Statuses)) + ")"
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if f.ProductID != nil {
		query += " AND product_id = ?"
		args = append(args, *f.ProductID)
	}
	if f.Actor != "" {
		query += " AND actor = ?"
		args = append(args, f.Actor)
	}
	query += " ORDER BY enqueued_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, corekit.WrapDB("list_tasks", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, corekit.WrapDB("list_tasks scan", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DropStaleRunning transitions every task still RUNNING or ENQUEUED to
// DROPPED: called once at startup, since no in-process worker survives a
// restart to finish them; the work died with the prior process.
func (s *ConfigStore) DropStaleRunning(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, completed_at = ?
		WHERE status IN (?, ?, ?)
	`, types.TaskDropped, time.Now().UTC(), types.TaskAllocated, types.TaskEnqueued, types.TaskRunning)
	if err != nil {
		return 0, corekit.WrapDB("drop_stale_running", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ReapDeadHeartbeats marks RUNNING tasks whose last_heartbeat is older
// than maxAge as DROPPED.
func (s *ConfigStore) ReapDeadHeartbeats(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, completed_at = ?
		WHERE status = ? AND last_heartbeat < ?
	`, types.TaskDropped, time.Now().UTC(), types.TaskRunning, cutoff)
	if err != nil {
		return 0, corekit.WrapDB("reap_dead_heartbeats", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
