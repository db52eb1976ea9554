package storage

import (
	"context"
	"fmt"
)

func (s *Store) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, thread_id, action, target, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		toNanos(e.At), e.ActorID, nullStr(e.ActorUsername), e.ChatID, e.ThreadID,
		e.Action, e.Target, nullStr(e.Error), e.TookMS,
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// CountAudit returns the number of audit rows for an action, mostly for tests and /health.
func (s *Store) CountAudit(ctx context.Context, action string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit WHERE action = ?`, action).Scan(&n)
	return n, err
}
