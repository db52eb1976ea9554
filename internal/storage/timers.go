package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"schedbot/internal/model"
)

const timerColumns = `event_id, purpose, fire_at, client, chat_id, thread_id, calendar_id, repeat, version`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// InsertTimer stores t as live. A consumed row for the same key is
// overwritten; a live one yields ErrTimerExists.
func (s *Store) InsertTimer(ctx context.Context, t model.PendingTimer) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_timers(`+timerColumns+`, consumed_at) VALUES(?,?,?,?,?,?,?,?,?,NULL)
		 ON CONFLICT(event_id, purpose) DO UPDATE SET
		   fire_at=excluded.fire_at, client=excluded.client, chat_id=excluded.chat_id,
		   thread_id=excluded.thread_id, calendar_id=excluded.calendar_id,
		   repeat=excluded.repeat, version=excluded.version, consumed_at=NULL
		 WHERE pending_timers.consumed_at IS NOT NULL`,
		timerArgs(t)...,
	)
	if err != nil {
		return fmt.Errorf("insert timer %s: %w", t.Key, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTimerExists
	}
	return nil
}

// ReplaceTimers drops every row of eventID and inserts timers, atomically.
func (s *Store) ReplaceTimers(ctx context.Context, eventID string, timers []model.PendingTimer) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_timers WHERE event_id = ?`, eventID); err != nil {
			return fmt.Errorf("clear timers of %s: %w", eventID, err)
		}
		for _, t := range timers {
			if t.Key.EventID != eventID {
				return fmt.Errorf("timer %s does not belong to event %s", t.Key, eventID)
			}
			if err := insertPlain(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertPlain(ctx context.Context, ex execer, t model.PendingTimer) error {
	if _, err := ex.ExecContext(ctx,
		`INSERT INTO pending_timers(`+timerColumns+`) VALUES(?,?,?,?,?,?,?,?,?)`, timerArgs(t)...); err != nil {
		return fmt.Errorf("insert timer %s: %w", t.Key, err)
	}
	return nil
}

// DeleteTimers removes every timer row of an event and reports how many were live.
func (s *Store) DeleteTimers(ctx context.Context, eventID string) (int64, error) {
	var live int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pending_timers WHERE event_id = ? AND consumed_at IS NULL`, eventID,
		).Scan(&live); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM pending_timers WHERE event_id = ?`, eventID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete timers of %s: %w", eventID, err)
	}
	return live, nil
}

func (s *Store) DeleteTimer(ctx context.Context, key model.TimerKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_timers WHERE event_id = ? AND purpose = ?`, key.EventID, string(key.Purpose))
	if err != nil {
		return fmt.Errorf("delete timer %s: %w", key, err)
	}
	return nil
}

// ClaimTimer marks the timer consumed if it is still live at version. It
// returns true for exactly one caller per registration.
func (s *Store) ClaimTimer(ctx context.Context, key model.TimerKey, version int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_timers SET consumed_at = ?
		 WHERE event_id = ? AND purpose = ? AND version = ? AND consumed_at IS NULL`,
		toNanos(at), key.EventID, string(key.Purpose), version)
	if err != nil {
		return false, fmt.Errorf("claim timer %s: %w", key, err)
	}
	n, err := affected(res)
	return n == 1, err
}

// GetTimer returns the live timer for key.
func (s *Store) GetTimer(ctx context.Context, key model.TimerKey) (model.PendingTimer, error) {
	t, err := scanTimer(s.db.QueryRowContext(ctx,
		`SELECT `+timerColumns+` FROM pending_timers WHERE event_id = ? AND purpose = ? AND consumed_at IS NULL`,
		key.EventID, string(key.Purpose)))
	if errors.Is(err, sql.ErrNoRows) {
		return model.PendingTimer{}, ErrNotFound
	}
	return t, err
}

// ListPendingTimers returns every live timer ordered by fire time.
func (s *Store) ListPendingTimers(ctx context.Context) ([]model.PendingTimer, error) {
	return s.listTimers(ctx, `WHERE consumed_at IS NULL ORDER BY fire_at`)
}

func (s *Store) ListPendingTimersForEvent(ctx context.Context, eventID string) ([]model.PendingTimer, error) {
	return s.listTimers(ctx, `WHERE consumed_at IS NULL AND event_id = ? ORDER BY fire_at`, eventID)
}

// PruneConsumed deletes consumed rows older than before.
func (s *Store) PruneConsumed(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_timers WHERE consumed_at IS NOT NULL AND consumed_at < ?`, toNanos(before))
	if err != nil {
		return 0, fmt.Errorf("prune timers: %w", err)
	}
	return affected(res)
}

func (s *Store) listTimers(ctx context.Context, tail string, args ...any) ([]model.PendingTimer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+timerColumns+` FROM pending_timers `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("list timers: %w", err)
	}
	defer rows.Close()

	var out []model.PendingTimer
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTimer(r rowScanner) (model.PendingTimer, error) {
	var t model.PendingTimer
	var purpose string
	var fireAt int64
	var repeat int
	if err := r.Scan(&t.Key.EventID, &purpose, &fireAt, &t.Target.Client, &t.Target.ChatID,
		&t.Target.ThreadID, &t.Target.CalendarID, &repeat, &t.Version); err != nil {
		return model.PendingTimer{}, err
	}
	t.Key.Purpose = model.TimerPurpose(purpose)
	t.FireAt = fromNanos(fireAt)
	t.Repeat = repeat != 0
	return t, nil
}

func timerArgs(t model.PendingTimer) []any {
	return []any{
		t.Key.EventID, string(t.Key.Purpose), toNanos(t.FireAt), t.Target.Client, t.Target.ChatID,
		t.Target.ThreadID, t.Target.CalendarID, boolInt(t.Repeat), t.Version,
	}
}
