package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"planline/internal/config"
	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/repo"
	"planline/internal/sched"
)

const dateLayout = "2006-01-02"

// NotifyFunc is invoked after a committed mutation, outside the
// transaction. Delivery is fire-and-forget.
type NotifyFunc func(projectID, eventType string, payload map[string]any)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	Notify NotifyFunc

	locks *projectLocks
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		locks:  newProjectLocks(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) notify(projectID, eventType string, payload map[string]any) {
	if e.Notify == nil {
		return
	}
	e.Notify(projectID, eventType, payload)
}

// lockProject takes the project's schedule slot, honoring the configured
// conflict policy.
func (e Engine) lockProject(ctx context.Context, projectID string) (func(), error) {
	wait := true
	if e.Config != nil {
		wait = e.Config.QueueOnConflict()
	}
	return e.locks.acquire(ctx, projectID, wait)
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}

// daysBetween returns whole calendar days from a to b.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a) / (24 * time.Hour))
}

// InitProject creates a project and seeds its config.
func (e Engine) InitProject(ctx context.Context, projectID, name, startDate, description, actorID string) (domain.Project, error) {
	if projectID == "" {
		return domain.Project{}, errors.New("project id is required")
	}
	if startDate == "" {
		startDate = e.now().UTC().Format(dateLayout)
	}
	if _, err := parseDate(startDate); err != nil {
		return domain.Project{}, fmt.Errorf("start date: %w", err)
	}
	if name == "" {
		name = projectID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p := domain.Project{
		ID:          projectID,
		Name:        name,
		Status:      "active",
		StartDate:   startDate,
		Description: description,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, config.Default(p.ID)); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.created", p.ID, "project", p.ID, actorID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID             string
	ProjectID      string
	ParentID       string
	Name           string
	Status         string
	Priority       *int
	Progress       int
	Duration       int
	PlannedStart   string
	PlannedEnd     string
	ConstraintType string
	ConstraintDate string
	ActorID        string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Name == "" {
		return domain.Task{}, errors.New("name is required")
	}
	if opts.ProjectID == "" {
		return domain.Task{}, errors.New("project is required")
	}
	if opts.Progress < 0 || opts.Progress > 100 {
		return domain.Task{}, errors.New("progress must be between 0 and 100")
	}
	if opts.Status == "" {
		opts.Status = "not_started"
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Task{}, err
	}
	if err := validateDates(opts.PlannedStart, opts.PlannedEnd, opts.ConstraintDate); err != nil {
		return domain.Task{}, err
	}
	if opts.ConstraintType != "" && opts.ConstraintDate == "" {
		return domain.Task{}, errors.New("constraint date required with constraint type")
	}

	unlock, err := e.lockProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	defer unlock()

	if opts.ParentID != "" {
		parent, err := e.Repo.GetTask(ctx, opts.ParentID)
		if err != nil {
			return domain.Task{}, err
		}
		if parent.ProjectID != opts.ProjectID {
			return domain.Task{}, errors.New("parent in different project")
		}
	}
	id := opts.ID
	now := e.now().UTC().Format(time.RFC3339)
	if id == "" {
		id = uuid.New().String()
	}
	t := domain.Task{
		ID:             id,
		ProjectID:      opts.ProjectID,
		ParentID:       optionalString(opts.ParentID),
		Name:           opts.Name,
		Status:         opts.Status,
		Priority:       opts.Priority,
		Progress:       opts.Progress,
		Duration:       opts.Duration,
		PlannedStart:   optionalString(opts.PlannedStart),
		PlannedEnd:     optionalString(opts.PlannedEnd),
		ConstraintType: optionalString(opts.ConstraintType),
		ConstraintDate: optionalString(opts.ConstraintDate),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	codes, err := e.renumberTx(ctx, tx, opts.ProjectID, now)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", t.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{"name": t.Name}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	t.WbsCode = codes[t.ID]
	e.notify(t.ProjectID, "task.created", map[string]any{"task_id": t.ID})
	return t, nil
}

// TaskUpdateOptions encapsulates allowed updates. Nil pointers leave
// fields untouched; empty-string pointers clear nullable fields.
type TaskUpdateOptions struct {
	ID             string
	Name           *string
	Status         *string
	Priority       *int
	Progress       *int
	Duration       *int
	PlannedStart   *string
	PlannedEnd     *string
	ConstraintType *string
	ConstraintDate *string
	ActualStart    *string
	ActualFinish   *string
	ActorID        string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	if opts.Name != nil {
		if *opts.Name == "" {
			return t, errors.New("name must not be empty")
		}
		t.Name = *opts.Name
	}
	if opts.Status != nil {
		if !validStatus(*opts.Status) {
			return t, fmt.Errorf("invalid status %s", *opts.Status)
		}
		t.Status = *opts.Status
	}
	if opts.Priority != nil {
		t.Priority = opts.Priority
	}
	if opts.Progress != nil {
		if *opts.Progress < 0 || *opts.Progress > 100 {
			return t, errors.New("progress must be between 0 and 100")
		}
		t.Progress = *opts.Progress
	}
	if opts.Duration != nil {
		t.Duration = *opts.Duration
	}
	applyOptional(&t.PlannedStart, opts.PlannedStart)
	applyOptional(&t.PlannedEnd, opts.PlannedEnd)
	applyOptional(&t.ConstraintType, opts.ConstraintType)
	applyOptional(&t.ConstraintDate, opts.ConstraintDate)
	applyOptional(&t.ActualStart, opts.ActualStart)
	applyOptional(&t.ActualFinish, opts.ActualFinish)
	if err := validateDates(deref(t.PlannedStart), deref(t.PlannedEnd), deref(t.ConstraintDate)); err != nil {
		return t, err
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "task.updated", t.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{"status": t.Status}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.notify(t.ProjectID, "task.updated", map[string]any{"task_id": t.ID})
	return t, nil
}

// DeleteTask removes a task, its dependencies (cascade) and renumbers the
// remaining hierarchy in the same transaction.
func (e Engine) DeleteTask(ctx context.Context, taskID, actorID string) error {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	unlock, err := e.lockProject(ctx, t.ProjectID)
	if err != nil {
		return err
	}
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTask(ctx, tx, taskID); err != nil {
		return err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if _, err := e.renumberTx(ctx, tx, t.ProjectID, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", t.ProjectID, "task", taskID, actorID, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.notify(t.ProjectID, "task.deleted", map[string]any{"task_id": taskID})
	return nil
}

// DependencyCreateOptions are parameters for a single typed dependency.
type DependencyCreateOptions struct {
	ProjectID     string
	PredecessorID string
	SuccessorID   string
	Type          string
	Lag           int
	ActorID       string
}

// CreateDependency adds one edge after verifying both endpoints and that
// the resulting graph stays acyclic.
func (e Engine) CreateDependency(ctx context.Context, opts DependencyCreateOptions) (domain.Dependency, error) {
	depType := sched.DepType(opts.Type)
	if !depType.Valid() {
		return domain.Dependency{}, fmt.Errorf("invalid dependency type %s", opts.Type)
	}
	if opts.PredecessorID == opts.SuccessorID {
		return domain.Dependency{}, errors.New("task cannot depend on itself")
	}
	unlock, err := e.lockProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Dependency{}, err
	}
	defer unlock()

	tasks, err := e.Repo.GetTasksByProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Dependency{}, err
	}
	deps, err := e.Repo.GetDependenciesByProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Dependency{}, err
	}
	d := domain.Dependency{
		ID:            uuid.New().String(),
		ProjectID:     opts.ProjectID,
		PredecessorID: opts.PredecessorID,
		SuccessorID:   opts.SuccessorID,
		Type:          opts.Type,
		Lag:           opts.Lag,
		CreatedAt:     e.now().UTC().Format(time.RFC3339),
	}
	if err := checkAcyclic(tasks, append(deps, d)); err != nil {
		return domain.Dependency{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Dependency{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.CreateDependency(ctx, tx, d); err != nil {
		return domain.Dependency{}, err
	}
	if err := e.Events.Append(ctx, tx, "dependency.created", d.ProjectID, "dependency", d.ID, opts.ActorID, events.EventPayload{
		"predecessor": d.PredecessorID,
		"successor":   d.SuccessorID,
		"type":        d.Type,
	}); err != nil {
		return domain.Dependency{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Dependency{}, err
	}
	e.notify(d.ProjectID, "dependency.created", map[string]any{"dependency_id": d.ID})
	return d, nil
}

func (e Engine) DeleteDependency(ctx context.Context, depID, actorID string) error {
	d, err := e.Repo.GetDependency(ctx, depID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteDependency(ctx, tx, depID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "dependency.deleted", d.ProjectID, "dependency", depID, actorID, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.notify(d.ProjectID, "dependency.deleted", map[string]any{"dependency_id": depID})
	return nil
}

// checkAcyclic validates a dependency set against the DAG invariant using
// the scheduler's graph builder.
func checkAcyclic(tasks []domain.Task, deps []domain.Dependency) error {
	sts := make([]sched.Task, len(tasks))
	for i, t := range tasks {
		sts[i] = sched.Task{ID: t.ID}
	}
	sds := make([]sched.Dependency, len(deps))
	for i, d := range deps {
		sds[i] = sched.Dependency{
			ID:            d.ID,
			PredecessorID: d.PredecessorID,
			SuccessorID:   d.SuccessorID,
			Type:          sched.DepType(d.Type),
			Lag:           d.Lag,
		}
	}
	_, err := sched.BuildGraph(sts, sds)
	return err
}

func validStatus(s string) bool {
	switch s {
	case "not_started", "in_progress", "review", "completed", "on_hold":
		return true
	}
	return false
}

func validateDates(dates ...string) error {
	for _, d := range dates {
		if d == "" {
			continue
		}
		if _, err := parseDate(d); err != nil {
			return fmt.Errorf("invalid date %q: %w", d, err)
		}
	}
	return nil
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func applyOptional(dst **string, src *string) {
	if src == nil {
		return
	}
	if *src == "" {
		*dst = nil
		return
	}
	*dst = src
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
