package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"schedbot/internal/model"
)

const eventColumns = `id, calendar_id, name, description, start_at, end_at, reminder_at, repeat, mentions, created_at, updated_at, wall_clock`

// CreateEvent inserts e, assigning an id when empty, and returns the stored copy.
func (s *Store) CreateEvent(ctx context.Context, e model.Event) (model.Event, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := s.now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		mentions, err := json.Marshal(nonNil(e.Mentions))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events(`+eventColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
			e.ID, e.CalendarID, e.Name, e.Description, toNanos(e.Start), toNanos(e.End),
			nullNanos(e.Reminder), int(e.Repeat), string(mentions), toNanos(now), toNanos(now),
			nullDuration(e.WallClock),
		); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		return writeRSVPs(ctx, tx, e.ID, e.RSVPs)
	})
	if err != nil {
		return model.Event{}, err
	}
	return e, nil
}

// SaveEvent overwrites the mutable fields of an existing event.
func (s *Store) SaveEvent(ctx context.Context, e *model.Event) error {
	return s.saveEvent(ctx, e, false)
}

// SaveEventIfUnchanged is SaveEvent guarded by e.UpdatedAt: it returns
// ErrConflict when the row was saved by someone else since e was loaded.
func (s *Store) SaveEventIfUnchanged(ctx context.Context, e *model.Event) error {
	return s.saveEvent(ctx, e, true)
}

func (s *Store) saveEvent(ctx context.Context, e *model.Event, guarded bool) error {
	now := s.now().UTC()
	var stamped int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		mentions, err := json.Marshal(nonNil(e.Mentions))
		if err != nil {
			return err
		}
		// updated_at strictly grows so the guarded save sees every write
		q := `UPDATE events SET name=?, description=?, start_at=?, end_at=?, reminder_at=?, wall_clock=?, repeat=?, mentions=?,
			 updated_at=MAX(?, updated_at+1)
			 WHERE id=?`
		args := []any{
			e.Name, e.Description, toNanos(e.Start), toNanos(e.End), nullNanos(e.Reminder), nullDuration(e.WallClock),
			int(e.Repeat), string(mentions), toNanos(now), e.ID,
		}
		if guarded {
			q += ` AND updated_at=?`
			args = append(args, toNanos(e.UpdatedAt))
		}
		err = tx.QueryRowContext(ctx, q+` RETURNING updated_at`, args...).Scan(&stamped)
		switch {
		case errors.Is(err, sql.ErrNoRows) && guarded:
			return eventConflict(ctx, tx, e.ID)
		case errors.Is(err, sql.ErrNoRows):
			return ErrNotFound
		case err != nil:
			return fmt.Errorf("update event %s: %w", e.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM event_rsvps WHERE event_id = ?`, e.ID); err != nil {
			return err
		}
		return writeRSVPs(ctx, tx, e.ID, e.RSVPs)
	})
	if err == nil {
		e.UpdatedAt = fromNanos(stamped)
	}
	return err
}

// eventConflict tells a deleted row from a concurrently updated one.
func eventConflict(ctx context.Context, tx *sql.Tx, id string) error {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE id = ?`, id).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return fmt.Errorf("update event %s: %w", id, ErrConflict)
}

// LoadEvent returns ErrNotFound for unknown ids.
func (s *Store) LoadEvent(ctx context.Context, id string) (model.Event, error) {
	e, err := scanEvent(s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, ErrNotFound
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("load event %s: %w", id, err)
	}
	rsvps, err := s.rsvpsFor(ctx, `WHERE event_id = ?`, id)
	if err != nil {
		return model.Event{}, err
	}
	e.RSVPs = rsvps[id]
	return e, nil
}

// ListEvents returns a calendar's events ordered by start.
func (s *Store) ListEvents(ctx context.Context, calendarID int64) ([]model.Event, error) {
	return s.listEvents(ctx, `WHERE calendar_id = ?`, calendarID)
}

// ListAllEvents returns every stored event, used by startup reconciliation.
func (s *Store) ListAllEvents(ctx context.Context) ([]model.Event, error) {
	return s.listEvents(ctx, ``)
}

func (s *Store) listEvents(ctx context.Context, where string, args ...any) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events `+where+` ORDER BY start_at, created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// The pool has one connection, so RSVPs are read after the event cursor is closed.
	rsvpWhere := `WHERE event_id IN (SELECT id FROM events ` + where + `)`
	rsvps, err := s.rsvpsFor(ctx, rsvpWhere, args...)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].RSVPs = rsvps[out[i].ID]
	}
	return out, nil
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	return mustAffect(res)
}

// DeleteAllEvents removes every event of a calendar and returns what was removed.
func (s *Store) DeleteAllEvents(ctx context.Context, calendarID int64) ([]model.Event, error) {
	events, err := s.ListEvents(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE calendar_id = ?`, calendarID); err != nil {
		return nil, fmt.Errorf("delete events of %d: %w", calendarID, err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (model.Event, error) {
	var e model.Event
	var start, end, created, upd int64
	var reminder, wall sql.NullInt64
	var repeat int
	var mentions string
	if err := r.Scan(&e.ID, &e.CalendarID, &e.Name, &e.Description, &start, &end, &reminder, &repeat, &mentions, &created, &upd, &wall); err != nil {
		return model.Event{}, err
	}
	e.Start, e.End = fromNanos(start), fromNanos(end)
	e.CreatedAt, e.UpdatedAt = fromNanos(created), fromNanos(upd)
	e.Repeat = model.Cadence(repeat)
	if reminder.Valid {
		r := fromNanos(reminder.Int64)
		e.Reminder = &r
	}
	if wall.Valid {
		w := time.Duration(wall.Int64)
		e.WallClock = &w
	}
	if mentions != "" {
		if err := json.Unmarshal([]byte(mentions), &e.Mentions); err != nil {
			return model.Event{}, fmt.Errorf("decode mentions of %s: %w", e.ID, err)
		}
	}
	if len(e.Mentions) == 0 {
		e.Mentions = nil
	}
	return e, nil
}

func (s *Store) rsvpsFor(ctx context.Context, where string, args ...any) (map[string][]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT event_id, user_id FROM event_rsvps `+where+` ORDER BY rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("list rsvps: %w", err)
	}
	defer rows.Close()

	out := map[string][]int64{}
	for rows.Next() {
		var id string
		var uid int64
		if err := rows.Scan(&id, &uid); err != nil {
			return nil, err
		}
		out[id] = append(out[id], uid)
	}
	return out, rows.Err()
}

func writeRSVPs(ctx context.Context, tx *sql.Tx, eventID string, users []int64) error {
	for _, uid := range users {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO event_rsvps(event_id, user_id) VALUES(?,?)`, eventID, uid); err != nil {
			return fmt.Errorf("insert rsvp: %w", err)
		}
	}
	return nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
