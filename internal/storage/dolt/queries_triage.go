//go:build cgo

package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/findingstore/findingstore/internal/corekit"
	"github.com/findingstore/findingstore/internal/types"
)

func qUpsertReviewStatusRule(ctx context.Context, q queryer, rule *types.ReviewStatusRule) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO review_status_rules (report_hash, status, comment, author, date, is_in_source)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status), comment = VALUES(comment),
			author = VALUES(author), date = VALUES(date), is_in_source = VALUES(is_in_source)
	`, rule.ReportHash, string(rule.Status), rule.Comment, rule.Author, rule.Date, rule.IsInSource)
	return corekit.WrapDB("upsert_review_status_rule", err)
}

func qGetReviewStatusRule(ctx context.Context, q queryer, reportHash string) (*types.ReviewStatusRule, error) {
	rule := &types.ReviewStatusRule{ReportHash: reportHash}
	var status string
	err := q.QueryRowContext(ctx, `
		SELECT status, comment, author, date, is_in_source FROM review_status_rules WHERE report_hash = ?
	`, reportHash).Scan(&status, &rule.Comment, &rule.Author, &rule.Date, &rule.IsInSource)
	if err != nil {
		return nil, corekit.WrapDB("get_review_status_rule", err)
	}
	rule.Status = types.ReviewStatus(status)
	return rule, nil
}

func qListReviewStatusRules(ctx context.Context, q queryer, f types.ReviewStatusRuleFilter, limit, offset int) ([]*types.ReviewStatusRule, error) {
	var clauses []string
	var args []any

	if len(f.ReportHashes) > 0 {
		ph := make([]string, len(f.ReportHashes))
		for i, h := range f.ReportHashes {
			ph[i] = "?"
			args = append(args, h)
		}
		clauses = append(clauses, fmt.Sprintf("rsr.report_hash IN (%s)", strings.Join(ph, ",")))
	}
	if len(f.ReviewStatuses) > 0 {
		ph := make([]string, len(f.ReviewStatuses))
		for i, s := range f.ReviewStatuses {
			ph[i] = "?"
			args = append(args, string(s))
		}
		clauses = append(clauses, fmt.Sprintf("rsr.status IN (%s)", strings.Join(ph, ",")))
	}
	if len(f.Authors) > 0 {
		ph := make([]string, len(f.Authors))
		for i, a := range f.Authors {
			ph[i] = "?"
			args = append(args, a)
		}
		clauses = append(clauses, fmt.Sprintf("rsr.author IN (%s)", strings.Join(ph, ",")))
	}

	where := "1=1"
	if len(clauses) > 0 {
		where = strings.Join(clauses, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT rsr.report_hash, rsr.status, rsr.comment, rsr.author, rsr.date, rsr.is_in_source
		FROM review_status_rules rsr
		WHERE %s
	`, where)
	if f.NoAssociatedReports {
		query = fmt.Sprintf(`
			SELECT rsr.report_hash, rsr.status, rsr.comment, rsr.author, rsr.date, rsr.is_in_source
			FROM review_status_rules rsr
			WHERE %s AND NOT EXISTS (SELECT 1 FROM reports r WHERE r.report_hash = rsr.report_hash)
		`, where)
	}
	query += " ORDER BY rsr.report_hash LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, corekit.WrapDB("list_review_status_rules", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.ReviewStatusRule
	for rows.Next() {
		rule := &types.ReviewStatusRule{}
		var status string
		if err := rows.Scan(&rule.ReportHash, &status, &rule.Comment, &rule.Author, &rule.Date, &rule.IsInSource); err != nil {
			return nil, corekit.WrapDB("list_review_status_rules scan", err)
		}
		rule.Status = types.ReviewStatus(status)
		out = append(out, rule)
	}
	return out, corekit.WrapDB("list_review_status_rules rows", rows.Err())
}

func qRemoveReviewStatusRules(ctx context.Context, q queryer, f types.ReviewStatusRuleFilter) (int64, error) {
	var clauses []string
	var args []any

	if len(f.ReportHashes) > 0 {
		ph := make([]string, len(f.ReportHashes))
		for i, h := range f.ReportHashes {
			ph[i] = "?"
			args = append(args, h)
		}
		clauses = append(clauses, fmt.Sprintf("report_hash IN (%s)", strings.Join(ph, ",")))
	}
	if len(f.ReviewStatuses) > 0 {
		ph := make([]string, len(f.ReviewStatuses))
		for i, s := range f.ReviewStatuses {
			ph[i] = "?"
			args = append(args, string(s))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(ph, ",")))
	}
	if len(clauses) == 0 {
		return 0, corekit.New(corekit.KindGeneral, "remove_review_status_rules", fmt.Errorf("refusing to remove rules with an empty filter"))
	}

	res, err := q.ExecContext(ctx, "DELETE FROM review_status_rules WHERE "+strings.Join(clauses, " AND "), args...)
	if err != nil {
		return 0, corekit.WrapDB("remove_review_status_rules", err)
	}
	n, err := res.RowsAffected()
	return n, corekit.WrapDB("remove_review_status_rules rows_affected", err)
}

func qAddComment(ctx context.Context, q queryer, c *types.Comment) (*types.Comment, error) {
	if c.Kind == "" {
		c.Kind = types.CommentUser
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO comments (report_id, author, message, created_at, kind)
		VALUES (?, ?, ?, ?, ?)
	`, c.ReportID, c.Author, c.Message, c.CreatedAt, string(c.Kind))
	if err != nil {
		return nil, corekit.WrapDB("add_comment", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, corekit.WrapDB("add_comment last_insert_id", err)
	}
	c.ID = id
	return c, nil
}

func qUpdateComment(ctx context.Context, q queryer, id int64, message string) error {
	res, err := q.ExecContext(ctx, `UPDATE comments SET message = ? WHERE id = ? AND kind = ?`, message, id, string(types.CommentUser))
	if err != nil {
		return corekit.WrapDB("update_comment", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return corekit.WrapDB("update_comment rows_affected", err)
	}
	if n == 0 {
		return corekit.New(corekit.KindGeneral, "update_comment", corekit.ErrNotFound)
	}
	return nil
}

func qRemoveComment(ctx context.Context, q queryer, id int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM comments WHERE id = ? AND kind = ?`, id, string(types.CommentUser))
	if err != nil {
		return corekit.WrapDB("remove_comment", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return corekit.WrapDB("remove_comment rows_affected", err)
	}
	if n == 0 {
		return corekit.New(corekit.KindGeneral, "remove_comment", corekit.ErrNotFound)
	}
	return nil
}

func qGetComments(ctx context.Context, q queryer, reportID int64) ([]*types.Comment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, report_id, author, message, created_at, kind
		FROM comments WHERE report_id = ? ORDER BY created_at, id
	`, reportID)
	if err != nil {
		return nil, corekit.WrapDB("get_comments", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.Comment
	for rows.Next() {
		c := &types.Comment{}
		var kind string
		if err := rows.Scan(&c.ID, &c.ReportID, &c.Author, &c.Message, &c.CreatedAt, &kind); err != nil {
			return nil, corekit.WrapDB("get_comments scan", err)
		}
		c.Kind = types.CommentKind(kind)
		out = append(out, c)
	}
	return out, corekit.WrapDB("get_comments rows", rows.Err())
}

func qGetCommentCount(ctx context.Context, q queryer, reportID int64) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments WHERE report_id = ?`, reportID).Scan(&n)
	return n, corekit.WrapDB("get_comment_count", err)
}

func qCreateCleanupPlan(ctx context.Context, q queryer, plan *types.CleanupPlan) (*types.CleanupPlan, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO cleanup_plans (name, due_date, closed) VALUES (?, ?, ?)
	`, plan.Name, plan.DueDate, plan.Closed)
	if err != nil {
		return nil, corekit.WrapDB("create_cleanup_plan", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, corekit.WrapDB("create_cleanup_plan last_insert_id", err)
	}
	plan.ID = id
	if err := qSetCleanupPlanMembers(ctx, q, id, plan.Hashes, true); err != nil {
		return nil, err
	}
	return plan, nil
}

func qUpdateCleanupPlan(ctx context.Context, q queryer, plan *types.CleanupPlan) error {
	_, err := q.ExecContext(ctx, `
		UPDATE cleanup_plans SET name = ?, due_date = ?, closed = ? WHERE id = ?
	`, plan.Name, plan.DueDate, plan.Closed, plan.ID)
	return corekit.WrapDB("update_cleanup_plan", err)
}

func qRemoveCleanupPlan(ctx context.Context, q queryer, id int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM cleanup_plan_members WHERE plan_id = ?`, id); err != nil {
		return corekit.WrapDB("remove_cleanup_plan members", err)
	}
	_, err := q.ExecContext(ctx, `DELETE FROM cleanup_plans WHERE id = ?`, id)
	return corekit.WrapDB("remove_cleanup_plan", err)
}

func qSetCleanupPlanClosed(ctx context.Context, q queryer, id int64, closed bool) error {
	res, err := q.ExecContext(ctx, `UPDATE cleanup_plans SET closed = ? WHERE id = ?`, closed, id)
	if err != nil {
		return corekit.WrapDB("set_cleanup_plan_closed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return corekit.WrapDB("set_cleanup_plan_closed rows_affected", err)
	}
	if n == 0 {
		return corekit.New(corekit.KindGeneral, "set_cleanup_plan_closed", corekit.ErrNotFound)
	}
	return nil
}

// qSetCleanupPlanMembers adds or removes report hashes from a plan's
// membership set. Adding is idempotent (INSERT IGNORE); removing a hash
// that isn't a member is a no-op.
func qSetCleanupPlanMembers(ctx context.Context, q queryer, planID int64, hashes []string, add bool) error {
	if add {
		for _, h := range hashes {
			if _, err := q.ExecContext(ctx, `
				INSERT IGNORE INTO cleanup_plan_members (plan_id, report_hash) VALUES (?, ?)
			`, planID, h); err != nil {
				return corekit.WrapDB("set_cleanup_plan_members add", err)
			}
		}
		return nil
	}
	for _, h := range hashes {
		if _, err := q.ExecContext(ctx, `
			DELETE FROM cleanup_plan_members WHERE plan_id = ? AND report_hash = ?
		`, planID, h); err != nil {
			return corekit.WrapDB("set_cleanup_plan_members remove", err)
		}
	}
	return nil
}

func qGetCleanupPlanHashes(ctx context.Context, q queryer, planID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT report_hash FROM cleanup_plan_members WHERE plan_id = ?`, planID)
	if err != nil {
		return nil, corekit.WrapDB("get_cleanup_plan_hashes", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, corekit.WrapDB("get_cleanup_plan_hashes scan", err)
		}
		out = append(out, h)
	}
	return out, corekit.WrapDB("get_cleanup_plan_hashes rows", rows.Err())
}

func qGetComment(ctx context.Context, q queryer, id int64) (*types.Comment, error) {
	c := &types.Comment{ID: id}
	var kind string
	err := q.QueryRowContext(ctx, `
		SELECT report_id, author, message, created_at, kind FROM comments WHERE id = ?
	`, id).Scan(&c.ReportID, &c.Author, &c.Message, &c.CreatedAt, &kind)
	if err != nil {
		return nil, corekit.WrapDB("get_comment", err)
	}
	c.Kind = types.CommentKind(kind)
	return c, nil
}

func qListCleanupPlans(ctx context.Context, q queryer, includeClosed bool) ([]*types.CleanupPlan, error) {
	query := `SELECT id, name, due_date, closed FROM cleanup_plans`
	if !includeClosed {
		query += ` WHERE closed = FALSE`
	}
	query += ` ORDER BY name`
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, corekit.WrapDB("list_cleanup_plans", err)
	}
	var out []*types.CleanupPlan
	for rows.Next() {
		p := &types.CleanupPlan{}
		var due sql.NullTime
		if err := rows.Scan(&p.ID, &p.Name, &due, &p.Closed); err != nil {
			_ = rows.Close()
			return nil, corekit.WrapDB("list_cleanup_plans scan", err)
		}
		if due.Valid {
			p.DueDate = due.Time
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, corekit.WrapDB("list_cleanup_plans rows", err)
	}
	_ = rows.Close()

	for _, p := range out {
		hashes, err := qGetCleanupPlanHashes(ctx, q, p.ID)
		if err != nil {
			return nil, err
		}
		p.Hashes = hashes
	}
	return out, nil
}
