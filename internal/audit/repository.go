// Package audit stores the lock event log: every command issued to a lock
// and every availability transition the bridge observes.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event kinds.
const (
	KindCommand      = "command"
	KindAvailability = "availability"
)

// Page size limits for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// timeFormat is fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrInvalidEvent is returned by Create when required fields are missing.
var ErrInvalidEvent = errors.New("audit: invalid event")

// Event is a single row of the lock event log.
type Event struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	EntityID  string    `json:"entity_id"`
	NukiID    int       `json:"nuki_id"`
	Kind      string    `json:"kind"`
	Command   string    `json:"command,omitempty"`
	Source    string    `json:"source,omitempty"`
	Success   bool      `json:"success"`
	Available bool      `json:"available"`
	Locked    bool      `json:"locked"`
	Detail    string    `json:"detail,omitempty"`
}

// Filter controls which events List returns.
type Filter struct {
	EntityID string    // optional
	Kind     string    // optional: command or availability
	Since    time.Time // optional: only events at or after this instant
	Limit    int       // default 50, max 200
	Offset   int
}

// ListResult is one page of events, newest first.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository defines the lock event log operations.
type Repository interface {
	Create(ctx context.Context, ev *Event) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository keeps lock events in the lock_events table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new lock event repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts ev. ID and CreatedAt are filled in when empty.
func (r *SQLiteRepository) Create(ctx context.Context, ev *Event) error {
	if ev.EntityID == "" {
		return fmt.Errorf("%w: entity_id is required", ErrInvalidEvent)
	}
	if ev.Kind != KindCommand && ev.Kind != KindAvailability {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, ev.Kind)
	}
	if ev.ID == "" {
		ev.ID = "evt-" + uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	ev.CreatedAt = ev.CreatedAt.UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO lock_events
		    (id, created_at, entity_id, nuki_id, kind, command, source, success, available, locked, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.CreatedAt.Format(timeFormat), ev.EntityID, ev.NukiID, ev.Kind,
		nullableString(ev.Command), nullableString(ev.Source),
		ev.Success, ev.Available, ev.Locked,
		nullableString(ev.Detail),
	)
	if err != nil {
		return fmt.Errorf("inserting lock event: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns events matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeFormat))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM lock_events " + where //nolint:gosec // WHERE built from fixed parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting lock events: %w", err)
	}

	query := `SELECT id, created_at, entity_id, nuki_id, kind, command, source, success, available, locked, detail
		FROM lock_events ` + where + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?` //nolint:gosec // see above
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying lock events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lock events: %w", err)
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var ev Event
	var createdAt string
	var command, source, detail sql.NullString

	if err := rows.Scan(&ev.ID, &createdAt, &ev.EntityID, &ev.NukiID, &ev.Kind,
		&command, &source, &ev.Success, &ev.Available, &ev.Locked, &detail); err != nil {
		return Event{}, fmt.Errorf("scanning lock event: %w", err)
	}

	t, err := time.Parse(timeFormat, createdAt)
	if err != nil {
		return Event{}, fmt.Errorf("parsing lock event timestamp %q: %w", createdAt, err)
	}
	ev.CreatedAt = t
	ev.Command = command.String
	ev.Source = source.String
	ev.Detail = detail.String
	return ev, nil
}

// Prune deletes events older than before and returns how many were removed.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM lock_events WHERE created_at < ?",
		before.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning lock events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning lock events: %w", err)
	}
	return n, nil
}
