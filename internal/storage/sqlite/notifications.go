package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/decisionhub/backend/internal/storage/models"
)

const notificationColumns = `id, expert_id, issue_id, type, message, requires_action, action_taken, read, created_at`

func (r *Repo) CreateNotification(ctx context.Context, n *models.Notification) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO notifications (`+notificationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.ExpertID, nullString(n.IssueID), n.Type, n.Message, n.RequiresAction,
		nullBool(n.ActionTaken), n.Read, millis(n.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ListNotifications returns the user's notifications, newest first.
func (r *Repo) ListNotifications(ctx context.Context, userID string) ([]*models.Notification, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE expert_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		var n models.Notification
		var issueID sql.NullString
		var actionTaken sql.NullBool
		var createdAt int64
		if err := rows.Scan(&n.ID, &n.ExpertID, &issueID, &n.Type, &n.Message, &n.RequiresAction,
			&actionTaken, &n.Read, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		n.IssueID = issueID.String
		n.ActionTaken = boolPtr(actionTaken)
		n.CreatedAt = fromMillis(createdAt)
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (r *Repo) MarkNotificationsRead(ctx context.Context, userID string) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE expert_id = ? AND read = 0`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return res.RowsAffected()
}

// ResolveInvitationNotification records the expert's answer on the pending
// invitation notification of the issue.
func (r *Repo) ResolveInvitationNotification(ctx context.Context, issueID, expertID string, accepted bool) error {
	if _, err := r.q.ExecContext(ctx, `
		UPDATE notifications SET action_taken = ?, read = 1
		WHERE issue_id = ? AND expert_id = ? AND requires_action = 1 AND action_taken IS NULL
	`, accepted, issueID, expertID); err != nil {
		return fmt.Errorf("failed to resolve invitation notification: %w", err)
	}
	return nil
}
