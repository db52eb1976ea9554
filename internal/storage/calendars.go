package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"schedbot/internal/model"
)

// InitialiseCalendar creates the calendar for a group or resets its timezone
// and default channel. The prefix is kept when the calendar already exists.
func (s *Store) InitialiseCalendar(ctx context.Context, id int64, tz string, channel model.ChatTarget, prefix string) (model.Calendar, error) {
	if strings.TrimSpace(prefix) == "" {
		prefix = model.DefaultPrefix
	}
	now := toNanos(s.now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendars(id, timezone, default_chat_id, default_thread_id, prefix, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   timezone=excluded.timezone,
		   default_chat_id=excluded.default_chat_id,
		   default_thread_id=excluded.default_thread_id,
		   updated_at=excluded.updated_at`,
		id, tz, channel.ChatID, channel.ThreadID, prefix, now, now,
	)
	if err != nil {
		return model.Calendar{}, fmt.Errorf("initialise calendar %d: %w", id, err)
	}
	return s.GetCalendar(ctx, id)
}

func (s *Store) GetCalendar(ctx context.Context, id int64) (model.Calendar, error) {
	var c model.Calendar
	err := s.db.QueryRowContext(ctx,
		`SELECT id, timezone, default_chat_id, default_thread_id, prefix FROM calendars WHERE id = ?`, id,
	).Scan(&c.ID, &c.Timezone, &c.DefaultChannel.ChatID, &c.DefaultChannel.ThreadID, &c.Prefix)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Calendar{}, ErrNotFound
	}
	if err != nil {
		return model.Calendar{}, fmt.Errorf("get calendar %d: %w", id, err)
	}
	return c, nil
}

// ListCalendars returns every initialised calendar.
func (s *Store) ListCalendars(ctx context.Context) ([]model.Calendar, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timezone, default_chat_id, default_thread_id, prefix FROM calendars WHERE timezone <> '' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	defer rows.Close()

	var out []model.Calendar
	for rows.Next() {
		var c model.Calendar
		if err := rows.Scan(&c.ID, &c.Timezone, &c.DefaultChannel.ChatID, &c.DefaultChannel.ThreadID, &c.Prefix); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePrefix(ctx context.Context, id int64, prefix string) error {
	return s.updateCalendar(ctx, id, `UPDATE calendars SET prefix = ?, updated_at = ? WHERE id = ?`, prefix)
}

func (s *Store) UpdateTimezone(ctx context.Context, id int64, tz string) error {
	return s.updateCalendar(ctx, id, `UPDATE calendars SET timezone = ?, updated_at = ? WHERE id = ?`, tz)
}

func (s *Store) UpdateDefaultChannel(ctx context.Context, id int64, ch model.ChatTarget) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE calendars SET default_chat_id = ?, default_thread_id = ?, updated_at = ? WHERE id = ?`,
		ch.ChatID, ch.ThreadID, toNanos(s.now()), id)
	if err != nil {
		return fmt.Errorf("update calendar %d: %w", id, err)
	}
	return mustAffect(res)
}

func (s *Store) updateCalendar(ctx context.Context, id int64, query string, value string) error {
	res, err := s.db.ExecContext(ctx, query, value, toNanos(s.now()), id)
	if err != nil {
		return fmt.Errorf("update calendar %d: %w", id, err)
	}
	return mustAffect(res)
}

func mustAffect(res sql.Result) error {
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
