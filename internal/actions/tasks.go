package actions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/basket/asis/internal/persistence"
	"github.com/basket/asis/internal/resolve"
	"github.com/basket/asis/internal/shared"
)

const (
	PriorityLow    = 1
	PriorityMedium = 2
	PriorityHigh   = 3
)

var priorityNames = map[string]int{
	"low": PriorityLow, "scazuta": PriorityLow, "scăzută": PriorityLow, "mica": PriorityLow, "mică": PriorityLow,
	"medium": PriorityMedium, "medie": PriorityMedium, "normala": PriorityMedium, "normală": PriorityMedium,
	"high": PriorityHigh, "ridicata": PriorityHigh, "ridicată": PriorityHigh, "mare": PriorityHigh,
	"urgent": PriorityHigh, "urgenta": PriorityHigh, "urgentă": PriorityHigh,
}

func parsePriority(a Args) (int, error) {
	if !a.Has("priority") {
		return PriorityLow, nil
	}
	raw := strings.ToLower(a.Text("priority"))
	if raw == "" {
		return PriorityLow, nil
	}
	if p, ok := priorityNames[raw]; ok {
		return p, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < PriorityLow || n > PriorityHigh {
		return 0, shared.Validation("Prioritate invalidă: %s.", raw)
	}
	return n, nil
}

func (d *Dispatcher) taskFrom(a Args) (persistence.Task, error) {
	t := persistence.Task{
		Title:       a.Text("title"),
		Description: a.Text("description"),
		Category:    a.Text("category"),
	}
	if t.Title == "" {
		t.Title = "Task fără titlu"
	}
	if due := a.Text("due_date"); due != "" {
		at, err := ParseTime(due, d.loc)
		if err != nil {
			return persistence.Task{}, shared.Validation("Data limită nu este validă: %s.", due)
		}
		t.DueDate = &at
	}
	p, err := parsePriority(a)
	if err != nil {
		return persistence.Task{}, err
	}
	t.Priority = p
	return t, nil
}

func (d *Dispatcher) addTask(ctx context.Context, tx *persistence.Tx, p Payload) (Result, error) {
	var added []persistence.Task
	for _, a := range p.Items() {
		t, err := d.taskFrom(a)
		if err != nil {
			return Result{}, err
		}
		if t, err = tx.InsertTask(ctx, t); err != nil {
			return Result{}, err
		}
		added = append(added, t)
	}
	titles, err := tx.ActiveTaskTitles(ctx)
	if err != nil {
		return Result{}, err
	}

	var r Result
	if p.Mode() == Batch {
		names := make([]string, 0, len(added))
		for _, t := range added {
			names = append(names, t.Title)
		}
		r = success(string(AddTask), fmt.Sprintf("Am adăugat %d task-uri: %s.", len(added), strings.Join(names, ", "))).
			With("count", len(added)).
			With("added", names)
	} else {
		r = success(string(AddTask), fmt.Sprintf("Task-ul '%s' a fost adăugat.", added[0].Title)).
			With("task_id", added[0].ID)
	}
	return r.With("full_list", titles).With("total_tasks", len(titles)), nil
}

func (d *Dispatcher) listTasks(ctx context.Context, tx *persistence.Tx, p Payload) (Result, error) {
	a := p.Args()
	f := persistence.TaskFilter{Category: a.Text("category")}
	if a.Bool("today") {
		from, to := dayBounds(d.now(), d.loc)
		f.DueFrom, f.DueTo = &from, &to
	}
	tasks, err := tx.ListTasks(ctx, f)
	if err != nil {
		return Result{}, err
	}

	list := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		list = append(list, map[string]any{
			"id":          t.ID,
			"title":       t.Title,
			"description": emptyToNil(t.Description),
			"due_date":    d.formatTimePtr(t.DueDate),
			"priority":    t.Priority,
			"category":    emptyToNil(t.Category),
		})
	}
	msg := fmt.Sprintf("Ai %d task-uri active.", len(list))
	if len(list) == 0 {
		msg = "Nu ai task-uri active."
	}
	return success(string(ListTasks), msg).With("count", len(list)).With("tasks", list), nil
}

func (d *Dispatcher) resolveTask(ctx context.Context, tx *persistence.Tx, a Args) (persistence.Task, error) {
	q := resolve.Query{ID: a.ID("task_id", "id"), Name: a.Text("task_title", "title")}
	if q.Empty() {
		return persistence.Task{}, shared.Validation("Specifică ID-ul sau titlul task-ului.")
	}
	c, err := resolve.Resolve(ctx, resolve.Source[persistence.Candidate]{
		ByID: func(ctx context.Context, id int64) (persistence.Candidate, error) {
			t, err := tx.GetTask(ctx, id)
			return persistence.Candidate{ID: t.ID, Name: t.Title}, err
		},
		Active: tx.ActiveTaskCandidates,
		Name:   candidateName,
	}, q)
	if err != nil {
		if isNotFound(err) {
			return persistence.Task{}, shared.NotFound("Task-ul nu a fost găsit.")
		}
		return persistence.Task{}, err
	}
	return tx.GetTask(ctx, c.ID)
}

func (d *Dispatcher) completeTask(ctx context.Context, tx *persistence.Tx, p Payload) (Result, error) {
	t, err := d.resolveTask(ctx, tx, p.Args())
	if err != nil {
		return Result{}, err
	}
	if err := tx.CompleteTask(ctx, t.ID); err != nil {
		return Result{}, err
	}
	return success(string(CompleteTask), fmt.Sprintf("Task-ul '%s' a fost marcat ca finalizat.", t.Title)).
		With("task_id", t.ID), nil
}

func (d *Dispatcher) deleteTask(ctx context.Context, tx *persistence.Tx, p Payload) (Result, error) {
	t, err := d.resolveTask(ctx, tx, p.Args())
	if err != nil {
		return Result{}, err
	}
	if err := tx.DeleteTask(ctx, t.ID); err != nil {
		return Result{}, err
	}
	return success(string(DeleteTask), fmt.Sprintf("Task-ul '%s' a fost șters.", t.Title)).
		With("task_id", t.ID), nil
}

func candidateName(c persistence.Candidate) string { return c.Name }

func isNotFound(err error) bool {
	return errors.Is(err, resolve.ErrNotFound) || errors.Is(err, persistence.ErrNotFound)
}

func emptyToNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
