package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"schedbot/internal/model"
)

// SetPermission records an explicit allow or deny.
func (s *Store) SetPermission(ctx context.Context, p model.Permission) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO permissions(calendar_id, node, user_id, denied) VALUES(?,?,?,?)
		 ON CONFLICT(calendar_id, node, user_id) DO UPDATE SET denied=excluded.denied`,
		p.CalendarID, string(p.Node), p.UserID, boolInt(p.Denied))
	if err != nil {
		return fmt.Errorf("set permission %s: %w", p.Node, err)
	}
	return nil
}

// ClearPermission removes an explicit entry, restoring the default.
func (s *Store) ClearPermission(ctx context.Context, calendarID, userID int64, node model.PermissionNode) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM permissions WHERE calendar_id = ? AND node = ? AND user_id = ?`, calendarID, string(node), userID)
	return err
}

// Permission returns the explicit entry for (calendar, user, node); ok is false when none exists.
func (s *Store) Permission(ctx context.Context, calendarID, userID int64, node model.PermissionNode) (model.Permission, bool, error) {
	var denied int
	err := s.db.QueryRowContext(ctx,
		`SELECT denied FROM permissions WHERE calendar_id = ? AND node = ? AND user_id = ?`,
		calendarID, string(node), userID).Scan(&denied)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Permission{}, false, nil
	}
	if err != nil {
		return model.Permission{}, false, fmt.Errorf("get permission: %w", err)
	}
	return model.Permission{CalendarID: calendarID, Node: node, UserID: userID, Denied: denied != 0}, true, nil
}

func (s *Store) ListPermissions(ctx context.Context, calendarID, userID int64) ([]model.Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node, denied FROM permissions WHERE calendar_id = ? AND user_id = ? ORDER BY node`, calendarID, userID)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()

	var out []model.Permission
	for rows.Next() {
		var node string
		var denied int
		if err := rows.Scan(&node, &denied); err != nil {
			return nil, err
		}
		out = append(out, model.Permission{
			CalendarID: calendarID, Node: model.PermissionNode(node), UserID: userID, Denied: denied != 0,
		})
	}
	return out, rows.Err()
}
