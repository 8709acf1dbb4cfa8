package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Task struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Priority    int        `json:"priority"`
	Category    string     `json:"category,omitempty"`
	IsCompleted bool       `json:"is_completed"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskFilter narrows ListTasks. DueFrom/DueTo bound due_date as [from, to);
// when either is set, tasks without a due date are excluded.
type TaskFilter struct {
	Category         string
	DueFrom          *time.Time
	DueTo            *time.Time
	IncludeCompleted bool
}

const taskColumns = `id, title, COALESCE(description, ''), due_date, priority, COALESCE(category, ''), is_completed, created_at, updated_at`

func scanTask(scanFn func(dest ...any) error, t *Task) error {
	var due sql.NullTime
	if err := scanFn(&t.ID, &t.Title, &t.Description, &due, &t.Priority, &t.Category, &t.IsCompleted, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return err
	}
	t.DueDate = timePtr(due)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return nil
}

// InsertTask stores t and returns it with id and timestamps filled in.
func (x *Tx) InsertTask(ctx context.Context, t Task) (Task, error) {
	now := dbTime(time.Now())
	res, err := x.tx.ExecContext(ctx, `
		INSERT INTO tasks (title, description, due_date, priority, category, is_completed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?);
	`, t.Title, nullString(t.Description), nullTime(t.DueDate), t.Priority, nullString(t.Category), now, now)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Task{}, fmt.Errorf("task id: %w", err)
	}
	t.ID = id
	t.IsCompleted = false
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.DueDate != nil {
		d := dbTime(*t.DueDate)
		t.DueDate = &d
	}
	return t, nil
}

// ListTasks returns tasks ordered by due date ascending with undated tasks
// last, then by id.
func (x *Tx) ListTasks(ctx context.Context, f TaskFilter) ([]Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []any
	if !f.IncludeCompleted {
		q += ` AND is_completed = 0`
	}
	if f.DueFrom != nil {
		q += ` AND due_date IS NOT NULL AND due_date >= ?`
		args = append(args, dbTime(*f.DueFrom))
	}
	if f.DueTo != nil {
		q += ` AND due_date IS NOT NULL AND due_date < ?`
		args = append(args, dbTime(*f.DueTo))
	}
	q += ` ORDER BY due_date IS NULL, due_date ASC, id ASC;`

	rows, err := x.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		if err := scanTask(rows.Scan, &t); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		// SQLite LOWER only folds ASCII; categories are often Romanian.
		if f.Category != "" && !strings.EqualFold(t.Category, f.Category) {
			continue
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tasks rows: %w", err)
	}
	return out, nil
}

// ActiveTaskTitles returns the titles of all not-completed tasks by id.
func (x *Tx) ActiveTaskTitles(ctx context.Context) ([]string, error) {
	return x.names(ctx, `SELECT title FROM tasks WHERE is_completed = 0 ORDER BY id ASC;`)
}

// ActiveTaskCandidates returns (id, title) pairs of not-completed tasks by id.
func (x *Tx) ActiveTaskCandidates(ctx context.Context) ([]Candidate, error) {
	return x.candidates(ctx, `SELECT id, title FROM tasks WHERE is_completed = 0 ORDER BY id ASC;`)
}

func (x *Tx) GetTask(ctx context.Context, id int64) (Task, error) {
	var t Task
	row := x.tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?;`, id)
	if err := scanTask(row.Scan, &t); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (x *Tx) CompleteTask(ctx context.Context, id int64) error {
	res, err := x.tx.ExecContext(ctx, `UPDATE tasks SET is_completed = 1, updated_at = ? WHERE id = ?;`, dbTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return expectOne(res)
}

func (x *Tx) DeleteTask(ctx context.Context, id int64) error {
	res, err := x.tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return expectOne(res)
}

// Candidate is an (id, display name) pair used for fuzzy resolution.
type Candidate struct {
	ID   int64
	Name string
}

func (x *Tx) candidates(ctx context.Context, q string, args ...any) ([]Candidate, error) {
	rows, err := x.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()
	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (x *Tx) names(ctx context.Context, q string) ([]string, error) {
	rows, err := x.tx.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query names: %w", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
