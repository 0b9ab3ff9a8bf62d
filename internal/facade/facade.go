// Package facade maps the RPC surface onto the core services: it
// resolves the per-product store, enforces the declared permission of
// every operation through an injected predicate, and fans calls out to
// the ingestion engine, query engine, triage manager, and task manager.
// The RPC transport itself lives outside this module; whatever hosts it
// calls these methods with an already-authenticated identity.
package facade

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/findingstore/findingstore/internal/content"
	"github.com/findingstore/findingstore/internal/corekit"
	"github.com/findingstore/findingstore/internal/ingest"
	"github.com/findingstore/findingstore/internal/query"
	"github.com/findingstore/findingstore/internal/registry"
	"github.com/findingstore/findingstore/internal/storage"
	"github.com/findingstore/findingstore/internal/taskmgr"
	"github.com/findingstore/findingstore/internal/triage"
	"github.com/findingstore/findingstore/internal/types"
)

// Permission is the scope an operation declares; the injected checker
// decides whether an identity holds it for a product.
type Permission string

const (
	PermSuperuser      Permission = "SUPERUSER"
	PermPermissionView Permission = "PERMISSION_VIEW"
	PermProductAdmin   Permission = "PRODUCT_ADMIN"
	PermProductAccess  Permission = "PRODUCT_ACCESS"
	PermProductStore   Permission = "PRODUCT_STORE"
	PermProductView    Permission = "PRODUCT_VIEW"
)

// API version of the exposed surface. Clients negotiating a different
// major, or a newer minor, are rejected.
const (
	APIVersionMajor = 6
	APIVersionMinor = 2
)

// Identity is the resolved principal attached to a request by the
// external auth layer.
type Identity struct {
	Name string
}

// Checker is the injected permission predicate. productID is zero for
// server-global permissions.
type Checker func(ctx context.Context, id Identity, perm Permission, productID int64) bool

// Facade wires the core services together.
type Facade struct {
	reg   *registry.Registry
	tasks *taskmgr.Manager
	ing   *ingest.Engine
	check Checker
	log   *zap.SugaredLogger
}

func New(reg *registry.Registry, tasks *taskmgr.Manager, ing *ingest.Engine, check Checker, log *zap.SugaredLogger) *Facade {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Facade{reg: reg, tasks: tasks, ing: ing, check: check, log: log}
}

// CheckAPIVersion is the version handshake: a no-op for compatible
// clients, an API_MISMATCH error otherwise.
func (f *Facade) CheckAPIVersion(major, minor int) error {
	if major != APIVersionMajor || minor > APIVersionMinor {
		return corekit.New(corekit.KindAPIMismatch, "check_api_version",
			fmt.Errorf("client API %d.%d is incompatible with server API %d.%d",
				major, minor, APIVersionMajor, APIVersionMinor))
	}
	return nil
}

// authorize distinguishes a missing identity (AUTH_DENIED) from one that
// is present but lacks the permission (UNAUTHORIZED).
func (f *Facade) authorize(ctx context.Context, id Identity, perm Permission, productID int64, op string) error {
	if id.Name == "" {
		return corekit.New(corekit.KindAuthDenied, op, fmt.Errorf("no authenticated identity"))
	}
	if !f.check(ctx, id, perm, productID) {
		return corekit.New(corekit.KindUnauthorized, op, fmt.Errorf("%s requires %s", op, perm))
	}
	return nil
}

// productStore authorizes the call and resolves the product plus its
// store, refusing products whose schema state cannot serve traffic.
func (f *Facade) productStore(ctx context.Context, id Identity, perm Permission, productID int64, op string) (*types.Product, storage.Store, error) {
	if err := f.authorize(ctx, id, perm, productID, op); err != nil {
		return nil, nil, err
	}
	product, err := f.reg.GetProduct(ctx, productID)
	if err != nil {
		return nil, nil, err
	}
	st, err := f.reg.Open(ctx, productID)
	if err != nil {
		return nil, nil, err
	}
	// Re-check the schema status on every access: a product that degrades
	// after its pool was opened must stop being served.
	if _, err := f.reg.Refresh(ctx, productID); err != nil {
		f.log.Warnw("schema status refresh failed", "product_id", productID, "error", err)
	}
	if !f.reg.Accessible(productID) {
		return nil, nil, corekit.New(corekit.KindDatabase, op,
			fmt.Errorf("product %q is not accessible (schema status %s)", product.Endpoint, f.reg.Status(productID)))
	}
	return product, st, nil
}

// --- Product management ---

func (f *Facade) AddProduct(ctx context.Context, id Identity, p *types.Product) (*types.Product, error) {
	if err := f.authorize(ctx, id, PermSuperuser, 0, "add_product"); err != nil {
		return nil, err
	}
	return f.reg.CreateProduct(ctx, p)
}

func (f *Facade) GetProducts(ctx context.Context, id Identity) ([]*types.Product, error) {
	if err := f.authorize(ctx, id, PermProductView, 0, "get_products"); err != nil {
		return nil, err
	}
	return f.reg.ListProducts(ctx)
}

// GetProductByEndpoint resolves the product behind a URL-safe slug; the
// hosting transport routes per-product requests by this slug, so this is
// the first lookup on every such request path.
func (f *Facade) GetProductByEndpoint(ctx context.Context, id Identity, endpoint string) (*types.Product, error) {
	if err := f.authorize(ctx, id, PermProductView, 0, "get_product_by_endpoint"); err != nil {
		return nil, err
	}
	return f.reg.GetProductByEndpoint(ctx, endpoint)
}

func (f *Facade) RemoveProduct(ctx context.Context, id Identity, productID int64) error {
	if err := f.authorize(ctx, id, PermSuperuser, 0, "remove_product"); err != nil {
		return err
	}
	return f.reg.RetireProduct(ctx, productID)
}

// UpgradeProductSchema is the administrator-triggered schema upgrade for
// a product reporting an auto-upgradable mismatch.
func (f *Facade) UpgradeProductSchema(ctx context.Context, id Identity, productID int64) error {
	if err := f.authorize(ctx, id, PermProductAdmin, productID, "upgrade_product_schema"); err != nil {
		return err
	}
	return f.reg.Upgrade(ctx, productID)
}

func (f *Facade) GetProductStatus(ctx context.Context, id Identity, productID int64) (types.DBStatus, error) {
	if err := f.authorize(ctx, id, PermProductView, productID, "get_product_status"); err != nil {
		return "", err
	}
	return f.reg.Status(productID), nil
}

// --- Content probes and upload ---

func (f *Facade) contentStore(ctx context.Context, id Identity, productID int64, op string) (*content.Store, error) {
	_, st, err := f.productStore(ctx, id, PermProductStore, productID, op)
	if err != nil {
		return nil, err
	}
	return content.New(st), nil
}

func (f *Facade) GetMissingContentHashes(ctx context.Context, id Identity, productID int64, hashes []string) ([]string, error) {
	cs, err := f.contentStore(ctx, id, productID, "get_missing_content_hashes")
	if err != nil {
		return nil, err
	}
	return cs.MissingHashes(ctx, hashes)
}

func (f *Facade) GetMissingBlameHashes(ctx context.Context, id Identity, productID int64, hashes []string) ([]string, error) {
	cs, err := f.contentStore(ctx, id, productID, "get_missing_blame_hashes")
	if err != nil {
		return nil, err
	}
	return cs.MissingBlameHashes(ctx, hashes)
}

func (f *Facade) PutContent(ctx context.Context, id Identity, productID int64, hash string, data, blame []byte) error {
	cs, err := f.contentStore(ctx, id, productID, "put_content")
	if err != nil {
		return err
	}
	return cs.Put(ctx, hash, data, blame)
}

// MassStoreRun starts a background ingestion and returns its task token.
func (f *Facade) MassStoreRun(ctx context.Context, id Identity, productID int64, p ingest.Params) (string, error) {
	product, st, err := f.productStore(ctx, id, PermProductStore, productID, "mass_store_run")
	if err != nil {
		return "", err
	}
	p.Actor = id.Name
	return f.ing.MassStoreRun(ctx, st, product, p)
}

// --- Report access ---

func (f *Facade) queryEngine(ctx context.Context, id Identity, productID int64, op string) (*query.Engine, error) {
	_, st, err := f.productStore(ctx, id, PermProductAccess, productID, op)
	if err != nil {
		return nil, err
	}
	return query.New(st, f.log), nil
}

func (f *Facade) GetRunResults(ctx context.Context, id Identity, productID int64, runIDs []int64, limit, offset int, sorts []types.SortMode, filter types.ReportFilter, cmp *types.CompareData, getDetails bool) ([]*types.Report, error) {
	q, err := f.queryEngine(ctx, id, productID, "get_run_results")
	if err != nil {
		return nil, err
	}
	return q.GetRunResults(ctx, runIDs, limit, offset, sorts, filter, cmp, getDetails)
}

func (f *Facade) GetRunResultCount(ctx context.Context, id Identity, productID int64, runIDs []int64, filter types.ReportFilter, cmp *types.CompareData) (int64, error) {
	q, err := f.queryEngine(ctx, id, productID, "get_run_result_count")
	if err != nil {
		return 0, err
	}
	return q.GetRunResultCount(ctx, runIDs, filter, cmp)
}

func (f *Facade) GetCounts(ctx context.Context, id Identity, productID int64, runIDs []int64, filter types.ReportFilter, cmp *types.CompareData, field types.AggregateField) (map[string]int64, error) {
	q, err := f.queryEngine(ctx, id, productID, "get_counts")
	if err != nil {
		return nil, err
	}
	return q.GetCounts(ctx, runIDs, filter, cmp, field)
}

func (f *Facade) GetDiffResultsHash(ctx context.Context, id Identity, productID int64, runIDs []int64, hashes []string, diffType types.DiffType, skipStatuses []types.DetectionStatus, tagIDs []int64) ([]string, error) {
	q, err := f.queryEngine(ctx, id, productID, "get_diff_results_hash")
	if err != nil {
		return nil, err
	}
	return q.GetDiffResultsHash(ctx, runIDs, hashes, diffType, skipStatuses, tagIDs)
}

func (f *Facade) GetReportDetails(ctx context.Context, id Identity, productID, reportID int64) (*types.Report, []*types.Comment, error) {
	q, err := f.queryEngine(ctx, id, productID, "get_report_details")
	if err != nil {
		return nil, nil, err
	}
	return q.GetReportDetails(ctx, reportID)
}

func (f *Facade) GetSourceFileData(ctx context.Context, id Identity, productID, fileID int64, includeContent bool, enc query.Encoding) (*query.SourceFileData, error) {
	q, err := f.queryEngine(ctx, id, productID, "get_source_file_data")
	if err != nil {
		return nil, err
	}
	return q.GetSourceFileData(ctx, fileID, includeContent, enc)
}

func (f *Facade) GetRuns(ctx context.Context, id Identity, productID int64) ([]*types.Run, error) {
	q, err := f.queryEngine(ctx, id, productID, "get_runs")
	if err != nil {
		return nil, err
	}
	return q.ListRuns(ctx)
}

func (f *Facade) RemoveRun(ctx context.Context, id Identity, productID, runID int64) error {
	_, st, err := f.productStore(ctx, id, PermProductAdmin, productID, "remove_run")
	if err != nil {
		return err
	}
	return st.WithTx(ctx, func(tx storage.Tx) error {
		return tx.DeleteRun(ctx, runID)
	})
}

// --- Triage ---

func (f *Facade) triageManager(ctx context.Context, id Identity, productID int64, op string) (*types.Product, *triage.Manager, error) {
	product, st, err := f.productStore(ctx, id, PermProductAccess, productID, op)
	if err != nil {
		return nil, nil, err
	}
	return product, triage.New(st, f.log), nil
}

func (f *Facade) ChangeReviewStatus(ctx context.Context, id Identity, productID, reportID int64, status types.ReviewStatus, message string) error {
	product, tm, err := f.triageManager(ctx, id, productID, "change_review_status")
	if err != nil {
		return err
	}
	isAdmin := f.check(ctx, id, PermProductAdmin, productID)
	return tm.ChangeReviewStatus(ctx, product, reportID, status, message, id.Name, isAdmin)
}

func (f *Facade) GetReviewStatusRules(ctx context.Context, id Identity, productID int64, filter types.ReviewStatusRuleFilter, limit, offset int) ([]*types.ReviewStatusRule, error) {
	_, tm, err := f.triageManager(ctx, id, productID, "get_review_status_rules")
	if err != nil {
		return nil, err
	}
	return tm.GetReviewStatusRules(ctx, filter, limit, offset)
}

func (f *Facade) RemoveReviewStatusRules(ctx context.Context, id Identity, productID int64, filter types.ReviewStatusRuleFilter) (int64, error) {
	if err := f.authorize(ctx, id, PermProductAdmin, productID, "remove_review_status_rules"); err != nil {
		return 0, err
	}
	_, tm, err := f.triageManager(ctx, id, productID, "remove_review_status_rules")
	if err != nil {
		return 0, err
	}
	return tm.RemoveReviewStatusRules(ctx, filter)
}

func (f *Facade) AddComment(ctx context.Context, id Identity, productID, reportID int64, message string) (*types.Comment, error) {
	_, tm, err := f.triageManager(ctx, id, productID, "add_comment")
	if err != nil {
		return nil, err
	}
	return tm.AddComment(ctx, reportID, id.Name, message)
}

func (f *Facade) UpdateComment(ctx context.Context, id Identity, productID, commentID int64, message string) error {
	_, tm, err := f.triageManager(ctx, id, productID, "update_comment")
	if err != nil {
		return err
	}
	return tm.UpdateComment(ctx, commentID, message, id.Name, f.check(ctx, id, PermProductAdmin, productID))
}

func (f *Facade) RemoveComment(ctx context.Context, id Identity, productID, commentID int64) error {
	_, tm, err := f.triageManager(ctx, id, productID, "remove_comment")
	if err != nil {
		return err
	}
	return tm.RemoveComment(ctx, commentID, id.Name, f.check(ctx, id, PermProductAdmin, productID))
}

func (f *Facade) GetComments(ctx context.Context, id Identity, productID, reportID int64) ([]*types.Comment, error) {
	_, tm, err := f.triageManager(ctx, id, productID, "get_comments")
	if err != nil {
		return nil, err
	}
	return tm.GetComments(ctx, reportID)
}

func (f *Facade) GetCommentCount(ctx context.Context, id Identity, productID, reportID int64) (int64, error) {
	_, tm, err := f.triageManager(ctx, id, productID, "get_comment_count")
	if err != nil {
		return 0, err
	}
	return tm.GetCommentCount(ctx, reportID)
}

func (f *Facade) AddCleanupPlan(ctx context.Context, id Identity, productID int64, plan *types.CleanupPlan) (*types.CleanupPlan, error) {
	_, tm, err := f.triageManager(ctx, id, productID, "add_cleanup_plan")
	if err != nil {
		return nil, err
	}
	return tm.CreateCleanupPlan(ctx, plan)
}

func (f *Facade) UpdateCleanupPlan(ctx context.Context, id Identity, productID int64, plan *types.CleanupPlan) error {
	_, tm, err := f.triageManager(ctx, id, productID, "update_cleanup_plan")
	if err != nil {
		return err
	}
	return tm.UpdateCleanupPlan(ctx, plan)
}

func (f *Facade) RemoveCleanupPlan(ctx context.Context, id Identity, productID, planID int64) error {
	_, tm, err := f.triageManager(ctx, id, productID, "remove_cleanup_plan")
	if err != nil {
		return err
	}
	return tm.RemoveCleanupPlan(ctx, planID)
}

func (f *Facade) CloseCleanupPlan(ctx context.Context, id Identity, productID, planID int64) error {
	_, tm, err := f.triageManager(ctx, id, productID, "close_cleanup_plan")
	if err != nil {
		return err
	}
	return tm.CloseCleanupPlan(ctx, planID)
}

func (f *Facade) ReopenCleanupPlan(ctx context.Context, id Identity, productID, planID int64) error {
	_, tm, err := f.triageManager(ctx, id, productID, "reopen_cleanup_plan")
	if err != nil {
		return err
	}
	return tm.ReopenCleanupPlan(ctx, planID)
}

func (f *Facade) SetCleanupPlan(ctx context.Context, id Identity, productID, planID int64, hashes []string) error {
	_, tm, err := f.triageManager(ctx, id, productID, "set_cleanup_plan")
	if err != nil {
		return err
	}
	return tm.SetCleanupPlan(ctx, planID, hashes)
}

func (f *Facade) UnsetCleanupPlan(ctx context.Context, id Identity, productID, planID int64, hashes []string) error {
	_, tm, err := f.triageManager(ctx, id, productID, "unset_cleanup_plan")
	if err != nil {
		return err
	}
	return tm.UnsetCleanupPlan(ctx, planID, hashes)
}

func (f *Facade) GetCleanupPlans(ctx context.Context, id Identity, productID int64, includeClosed bool) ([]*types.CleanupPlan, error) {
	_, tm, err := f.triageManager(ctx, id, productID, "get_cleanup_plans")
	if err != nil {
		return nil, err
	}
	return tm.ListCleanupPlans(ctx, includeClosed)
}

// --- Source components ---

func (f *Facade) AddSourceComponent(ctx context.Context, id Identity, productID int64, c *types.SourceComponent) error {
	_, st, err := f.productStore(ctx, id, PermProductAdmin, productID, "add_source_component")
	if err != nil {
		return err
	}
	return st.UpsertSourceComponent(ctx, c)
}

func (f *Facade) GetSourceComponents(ctx context.Context, id Identity, productID int64) ([]*types.SourceComponent, error) {
	_, st, err := f.productStore(ctx, id, PermProductAccess, productID, "get_source_components")
	if err != nil {
		return nil, err
	}
	return st.ListSourceComponents(ctx)
}

func (f *Facade) RemoveSourceComponent(ctx context.Context, id Identity, productID int64, name string) error {
	_, st, err := f.productStore(ctx, id, PermProductAdmin, productID, "remove_source_component")
	if err != nil {
		return err
	}
	return st.RemoveSourceComponent(ctx, name)
}

// --- Tasks ---

// GetTaskInfo returns a task's record. Only the task's actor (or a
// superuser) may read it; a terminal status read by its actor marks the
// record consumed.
func (f *Facade) GetTaskInfo(ctx context.Context, id Identity, token string) (*types.Task, error) {
	if id.Name == "" {
		return nil, corekit.New(corekit.KindAuthDenied, "get_task_info", fmt.Errorf("no authenticated identity"))
	}
	t, err := f.tasks.GetTaskInfo(ctx, token, id.Name)
	if err != nil {
		return nil, err
	}
	if t.Actor != id.Name && !f.check(ctx, id, PermSuperuser, 0) {
		return nil, corekit.New(corekit.KindUnauthorized, "get_task_info", fmt.Errorf("task %s belongs to another actor", token))
	}
	return t, nil
}

func (f *Facade) GetTasks(ctx context.Context, id Identity, filter types.TaskFilter, limit, offset int) ([]*types.Task, error) {
	if err := f.authorize(ctx, id, PermSuperuser, 0, "get_tasks"); err != nil {
		return nil, err
	}
	return f.tasks.GetTasks(ctx, filter, limit, offset)
}

func (f *Facade) CancelTask(ctx context.Context, id Identity, token string) (bool, error) {
	if err := f.authorize(ctx, id, PermSuperuser, 0, "cancel_task"); err != nil {
		return false, err
	}
	return f.tasks.CancelTask(ctx, token)
}
