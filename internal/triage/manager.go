// Package triage implements the triage state manager: review-status
// rules keyed by report hash, user and system comments, and cleanup plans,
// for a single product's store.
package triage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/findingstore/findingstore/internal/corekit"
	"github.com/findingstore/findingstore/internal/storage"
	"github.com/findingstore/findingstore/internal/types"
)

// Manager mutates and reads triage state. Like the query engine it is
// cheap to construct per resolved product store.
type Manager struct {
	st  storage.Store
	log *zap.SugaredLogger
	now func() time.Time
}

func New(st storage.Store, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{st: st, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// ChangeReviewStatus writes a review-status rule keyed by the report's
// hash, so the verdict propagates to every report carrying that hash in
// the product. The transition is recorded as a SYSTEM comment on the
// report the caller pointed at.
//
// isAdmin reflects whether the caller holds product-admin rights: a
// product with review-status changes disabled rejects everyone else.
func (m *Manager) ChangeReviewStatus(ctx context.Context, product *types.Product, reportID int64, status types.ReviewStatus, message, author string, isAdmin bool) error {
	if !status.Valid() {
		return corekit.New(corekit.KindGeneral, "change_review_status", fmt.Errorf("invalid review status %q", status))
	}
	if product.ReviewStatusChangeDisabled && !isAdmin {
		return corekit.New(corekit.KindUnauthorized, "change_review_status", corekit.ErrDisabled)
	}

	report, err := m.st.GetReportDetails(ctx, reportID)
	if err != nil {
		return err
	}

	return m.st.WithTx(ctx, func(tx storage.Tx) error {
		old := types.ReviewUnreviewed
		if prev, err := tx.GetReviewStatusRule(ctx, report.ReportHash); err == nil {
			old = prev.Status
		} else if !corekit.IsNotFound(err) {
			return err
		}

		now := m.now()
		if err := tx.UpsertReviewStatusRule(ctx, &types.ReviewStatusRule{
			ReportHash: report.ReportHash,
			Status:     status,
			Comment:    message,
			Author:     author,
			Date:       now,
			IsInSource: false,
		}); err != nil {
			return err
		}

		_, err := tx.AddComment(ctx, &types.Comment{
			ReportID:  reportID,
			Author:    author,
			Message:   fmt.Sprintf("review status changed: %s -> %s", old, status),
			CreatedAt: now,
			Kind:      types.CommentSystem,
		})
		return err
	})
}

// GetReviewStatusRules lists rules matching the filter.
func (m *Manager) GetReviewStatusRules(ctx context.Context, f types.ReviewStatusRuleFilter, limit, offset int) ([]*types.ReviewStatusRule, error) {
	return m.st.ListReviewStatusRules(ctx, f, limit, offset)
}

// RemoveReviewStatusRules bulk-deletes rules matching the filter and
// returns the affected count.
func (m *Manager) RemoveReviewStatusRules(ctx context.Context, f types.ReviewStatusRuleFilter) (int64, error) {
	return m.st.RemoveReviewStatusRules(ctx, f)
}

// AddComment attaches a USER comment to a report.
func (m *Manager) AddComment(ctx context.Context, reportID int64, author, message string) (*types.Comment, error) {
	if message == "" {
		return nil, corekit.New(corekit.KindGeneral, "add_comment", fmt.Errorf("empty comment message"))
	}
	return m.st.AddComment(ctx, &types.Comment{
		ReportID:  reportID,
		Author:    author,
		Message:   message,
		CreatedAt: m.now(),
		Kind:      types.CommentUser,
	})
}

// UpdateComment edits a USER comment. Only its author or a product admin
// may edit it; SYSTEM comments are immutable.
func (m *Manager) UpdateComment(ctx context.Context, id int64, message, actor string, isAdmin bool) error {
	if err := m.checkCommentOwnership(ctx, id, actor, isAdmin, "update_comment"); err != nil {
		return err
	}
	return m.st.UpdateComment(ctx, id, message)
}

// RemoveComment deletes a USER comment under the same ownership rule as
// UpdateComment.
func (m *Manager) RemoveComment(ctx context.Context, id int64, actor string, isAdmin bool) error {
	if err := m.checkCommentOwnership(ctx, id, actor, isAdmin, "remove_comment"); err != nil {
		return err
	}
	return m.st.RemoveComment(ctx, id)
}

func (m *Manager) checkCommentOwnership(ctx context.Context, id int64, actor string, isAdmin bool, op string) error {
	c, err := m.st.GetComment(ctx, id)
	if err != nil {
		return err
	}
	if c.Kind != types.CommentUser {
		return corekit.New(corekit.KindGeneral, op, fmt.Errorf("system comments cannot be modified"))
	}
	if !isAdmin && c.Author != actor {
		return corekit.New(corekit.KindUnauthorized, op, fmt.Errorf("comment %d belongs to %q", id, c.Author))
	}
	return nil
}

// GetComments lists a report's comments, oldest first.
func (m *Manager) GetComments(ctx context.Context, reportID int64) ([]*types.Comment, error) {
	return m.st.GetComments(ctx, reportID)
}

// GetCommentCount counts a report's comments.
func (m *Manager) GetCommentCount(ctx context.Context, reportID int64) (int64, error) {
	return m.st.GetCommentCount(ctx, reportID)
}

// CreateCleanupPlan registers a new plan, optionally seeded with member
// hashes.
func (m *Manager) CreateCleanupPlan(ctx context.Context, plan *types.CleanupPlan) (*types.CleanupPlan, error) {
	if plan.Name == "" {
		return nil, corekit.New(corekit.KindGeneral, "create_cleanup_plan", fmt.Errorf("empty plan name"))
	}
	return m.st.CreateCleanupPlan(ctx, plan)
}

// UpdateCleanupPlan rewrites a plan's name, due date and closed flag.
func (m *Manager) UpdateCleanupPlan(ctx context.Context, plan *types.CleanupPlan) error {
	return m.st.UpdateCleanupPlan(ctx, plan)
}

// RemoveCleanupPlan deletes a plan and its membership set.
func (m *Manager) RemoveCleanupPlan(ctx context.Context, id int64) error {
	return m.st.RemoveCleanupPlan(ctx, id)
}

// CloseCleanupPlan / ReopenCleanupPlan flip a plan's open state.
func (m *Manager) CloseCleanupPlan(ctx context.Context, id int64) error {
	return m.st.SetCleanupPlanClosed(ctx, id, true)
}

func (m *Manager) ReopenCleanupPlan(ctx context.Context, id int64) error {
	return m.st.SetCleanupPlanClosed(ctx, id, false)
}

// SetCleanupPlan adds hashes to a plan's membership.
func (m *Manager) SetCleanupPlan(ctx context.Context, id int64, hashes []string) error {
	return m.st.SetCleanupPlanMembers(ctx, id, hashes, true)
}

// UnsetCleanupPlan removes hashes from a plan's membership.
func (m *Manager) UnsetCleanupPlan(ctx context.Context, id int64, hashes []string) error {
	return m.st.SetCleanupPlanMembers(ctx, id, hashes, false)
}

// ListCleanupPlans lists plans, member hashes included.
func (m *Manager) ListCleanupPlans(ctx context.Context, includeClosed bool) ([]*types.CleanupPlan, error) {
	return m.st.ListCleanupPlans(ctx, includeClosed)
}
