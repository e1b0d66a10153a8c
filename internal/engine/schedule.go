package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/repo"
	"planline/internal/sched"
)

// ScheduleRunResult is the outcome of a full recompute.
type ScheduleRunResult struct {
	Tasks                []domain.Task
	CriticalPathDuration int
	ProjectFinish        int
}

// ScheduleRow is the read-only projection of one task's computed dates.
type ScheduleRow struct {
	TaskID      string `json:"task_id"`
	Name        string `json:"name"`
	WbsCode     string `json:"wbs_code"`
	Duration    int    `json:"duration"`
	EarlyStart  int    `json:"early_start"`
	EarlyFinish int    `json:"early_finish"`
	LateStart   int    `json:"late_start"`
	LateFinish  int    `json:"late_finish"`
	TotalFloat  int    `json:"total_float"`
	IsCritical  bool   `json:"is_critical"`
}

// RunSchedule loads the project graph, runs the forward and backward
// passes, and commits every task's computed fields in one transaction.
// A failed run writes nothing.
func (e Engine) RunSchedule(ctx context.Context, projectID, startDate, actorID string) (ScheduleRunResult, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return ScheduleRunResult{}, err
	}
	if startDate == "" {
		startDate = p.StartDate
	}
	if startDate == "" && e.Config != nil {
		startDate = e.Config.Scheduling.DefaultStartDate
	}
	projStart, err := parseDate(startDate)
	if err != nil {
		return ScheduleRunResult{}, fmt.Errorf("project start date: %w", err)
	}

	unlock, err := e.lockProject(ctx, projectID)
	if err != nil {
		return ScheduleRunResult{}, err
	}
	defer unlock()

	tasks, err := e.Repo.GetTasksByProject(ctx, projectID)
	if err != nil {
		return ScheduleRunResult{}, err
	}
	deps, err := e.Repo.GetDependenciesByProject(ctx, projectID)
	if err != nil {
		return ScheduleRunResult{}, err
	}

	inputs := make([]sched.Task, 0, len(tasks))
	for _, t := range tasks {
		st, err := scheduleInput(t, projStart)
		if err != nil {
			return ScheduleRunResult{}, err
		}
		inputs = append(inputs, st)
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

	result, err := sched.Compute(inputs, sds)
	if err != nil {
		return ScheduleRunResult{}, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	batch := make([]repo.TaskScheduleUpdate, 0, len(tasks))
	for i := range tasks {
		ts := result.Tasks[tasks[i].ID]
		tasks[i].Duration = ts.Duration
		tasks[i].EarlyStart = ts.EarlyStart
		tasks[i].EarlyFinish = ts.EarlyFinish
		tasks[i].LateStart = ts.LateStart
		tasks[i].LateFinish = ts.LateFinish
		tasks[i].TotalFloat = ts.TotalFloat
		tasks[i].IsCritical = ts.IsCritical
		tasks[i].UpdatedAt = now
		batch = append(batch, repo.TaskScheduleUpdate{
			TaskID:      ts.TaskID,
			Duration:    ts.Duration,
			EarlyStart:  ts.EarlyStart,
			EarlyFinish: ts.EarlyFinish,
			LateStart:   ts.LateStart,
			LateFinish:  ts.LateFinish,
			TotalFloat:  ts.TotalFloat,
			IsCritical:  ts.IsCritical,
		})
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ScheduleRunResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskSchedule(ctx, tx, batch, now); err != nil {
		return ScheduleRunResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "schedule.run", projectID, "project", projectID, actorID, events.EventPayload{
		"task_count":             len(tasks),
		"critical_path_duration": result.CriticalPathDuration,
	}); err != nil {
		return ScheduleRunResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ScheduleRunResult{}, err
	}
	e.notify(projectID, "schedule.run", map[string]any{
		"critical_path_duration": result.CriticalPathDuration,
	})
	return ScheduleRunResult{
		Tasks:                tasks,
		CriticalPathDuration: result.CriticalPathDuration,
		ProjectFinish:        result.ProjectFinish,
	}, nil
}

// scheduleInput derives the scheduler's view of a task: duration from the
// planned dates when both are set, and the constraint date as an Early
// Start floor in day offsets.
func scheduleInput(t domain.Task, projStart time.Time) (sched.Task, error) {
	st := sched.Task{ID: t.ID, Duration: t.Duration}
	if t.PlannedStart != nil && t.PlannedEnd != nil {
		start, err := parseDate(*t.PlannedStart)
		if err != nil {
			return st, fmt.Errorf("task %s planned start: %w", t.ID, err)
		}
		end, err := parseDate(*t.PlannedEnd)
		if err != nil {
			return st, fmt.Errorf("task %s planned end: %w", t.ID, err)
		}
		st.Duration = daysBetween(start, end)
	}
	if st.Duration < 0 {
		return st, sched.InvalidDurationError{TaskID: t.ID, Duration: st.Duration}
	}
	if t.ConstraintDate != nil {
		cd, err := parseDate(*t.ConstraintDate)
		if err != nil {
			return st, fmt.Errorf("task %s constraint date: %w", t.ID, err)
		}
		// Both supported constraint types act as an earliest permissible
		// start floor.
		floor := daysBetween(projStart, cd)
		st.ConstraintStart = &floor
	}
	return st, nil
}

// GetScheduleData returns the stored computed fields for every task.
func (e Engine) GetScheduleData(ctx context.Context, projectID string) ([]ScheduleRow, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	tasks, err := e.Repo.GetTasksByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	rows := make([]ScheduleRow, len(tasks))
	for i, t := range tasks {
		rows[i] = scheduleRow(t)
	}
	return rows, nil
}

// CriticalPathResult is the filtered critical-task view.
type CriticalPathResult struct {
	Tasks         []ScheduleRow
	TotalDuration int
}

// GetCriticalPath returns the zero-float tasks and the overall span.
func (e Engine) GetCriticalPath(ctx context.Context, projectID string) (CriticalPathResult, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return CriticalPathResult{}, err
	}
	tasks, err := e.Repo.GetTasksByProject(ctx, projectID)
	if err != nil {
		return CriticalPathResult{}, err
	}
	var res CriticalPathResult
	maxEF, minES := 0, 0
	for i, t := range tasks {
		if t.IsCritical {
			res.Tasks = append(res.Tasks, scheduleRow(t))
		}
		if t.EarlyFinish > maxEF {
			maxEF = t.EarlyFinish
		}
		if i == 0 || t.EarlyStart < minES {
			minES = t.EarlyStart
		}
	}
	if len(tasks) > 0 {
		res.TotalDuration = maxEF - minES
	}
	return res, nil
}

func scheduleRow(t domain.Task) ScheduleRow {
	return ScheduleRow{
		TaskID:      t.ID,
		Name:        t.Name,
		WbsCode:     t.WbsCode,
		Duration:    t.Duration,
		EarlyStart:  t.EarlyStart,
		EarlyFinish: t.EarlyFinish,
		LateStart:   t.LateStart,
		LateFinish:  t.LateFinish,
		TotalFloat:  t.TotalFloat,
		IsCritical:  t.IsCritical,
	}
}

// BaselineResult reports how many tasks were snapshotted and skipped.
type BaselineResult struct {
	Count   int
	Skipped int
}

// BulkSetBaseline copies planned dates into baseline fields for the
// selected tasks. Tasks at 100% progress are skipped: baselines reflect
// remaining work, not delivered work.
func (e Engine) BulkSetBaseline(ctx context.Context, projectID string, taskIDs []string, actorID string) (BaselineResult, error) {
	if len(taskIDs) == 0 {
		return BaselineResult{}, errors.New("task ids required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return BaselineResult{}, err
	}
	defer tx.Rollback()

	var res BaselineResult
	now := e.now().UTC().Format(time.RFC3339)
	for _, id := range taskIDs {
		t, err := e.Repo.GetTaskTx(ctx, tx, id)
		if err != nil {
			return BaselineResult{}, err
		}
		if t.ProjectID != projectID {
			return BaselineResult{}, fmt.Errorf("task %s not in project %s", id, projectID)
		}
		if t.Progress >= 100 {
			res.Skipped++
			continue
		}
		if err := e.Repo.UpdateTaskBaseline(ctx, tx, id, t.PlannedStart, t.PlannedEnd, now); err != nil {
			return BaselineResult{}, err
		}
		res.Count++
	}
	if err := e.Events.Append(ctx, tx, "baseline.set", projectID, "project", projectID, actorID, events.EventPayload{
		"count":   res.Count,
		"skipped": res.Skipped,
	}); err != nil {
		return BaselineResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return BaselineResult{}, err
	}
	e.notify(projectID, "baseline.set", map[string]any{"count": res.Count, "skipped": res.Skipped})
	return res, nil
}

// Bulk dependency actions.
const (
	BulkChainFS = "chain-fs"
	BulkSetSS   = "set-ss"
	BulkSetFF   = "set-ff"
	BulkClear   = "clear"
)

// BulkDependencyResult reports edges created or removed.
type BulkDependencyResult struct {
	Created int
	Removed int
}

// BulkSetDependencies links an ordered task selection: a waterfall FS
// chain, parallel SS/FF linkage from the first task, or removal of all
// edges internal to the set. Creations are cycle-checked against the
// merged graph before anything is written.
func (e Engine) BulkSetDependencies(ctx context.Context, projectID string, taskIDs []string, action, actorID string) (BulkDependencyResult, error) {
	if len(taskIDs) < 2 {
		return BulkDependencyResult{}, errors.New("at least two task ids required")
	}
	unlock, err := e.lockProject(ctx, projectID)
	if err != nil {
		return BulkDependencyResult{}, err
	}
	defer unlock()

	tasks, err := e.Repo.GetTasksByProject(ctx, projectID)
	if err != nil {
		return BulkDependencyResult{}, err
	}
	inProject := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		inProject[t.ID] = true
	}
	for _, id := range taskIDs {
		if !inProject[id] {
			return BulkDependencyResult{}, fmt.Errorf("task %s not in project %s", id, projectID)
		}
	}
	deps, err := e.Repo.GetDependenciesByProject(ctx, projectID)
	if err != nil {
		return BulkDependencyResult{}, err
	}

	var res BulkDependencyResult
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return BulkDependencyResult{}, err
	}
	defer tx.Rollback()

	switch action {
	case BulkClear:
		removed, err := e.Repo.DeleteDependenciesWithin(ctx, tx, taskIDs)
		if err != nil {
			return BulkDependencyResult{}, err
		}
		res.Removed = removed
	case BulkChainFS, BulkSetSS, BulkSetFF:
		created := bulkEdges(projectID, taskIDs, action, now)
		created = dedupeAgainst(created, deps)
		if err := checkAcyclic(tasks, append(deps, created...)); err != nil {
			return BulkDependencyResult{}, err
		}
		for _, d := range created {
			if err := e.Repo.CreateDependency(ctx, tx, d); err != nil {
				return BulkDependencyResult{}, err
			}
		}
		res.Created = len(created)
	default:
		return BulkDependencyResult{}, fmt.Errorf("unknown bulk action %s", action)
	}

	if err := e.Events.Append(ctx, tx, "dependency.bulk", projectID, "project", projectID, actorID, events.EventPayload{
		"action":  action,
		"created": res.Created,
		"removed": res.Removed,
	}); err != nil {
		return BulkDependencyResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return BulkDependencyResult{}, err
	}
	e.notify(projectID, "dependency.bulk", map[string]any{"action": action})
	return res, nil
}

// bulkEdges builds the candidate dependency list for a creation action,
// lag zero throughout.
func bulkEdges(projectID string, taskIDs []string, action, createdAt string) []domain.Dependency {
	var depType string
	switch action {
	case BulkChainFS:
		depType = string(sched.FinishToStart)
	case BulkSetSS:
		depType = string(sched.StartToStart)
	case BulkSetFF:
		depType = string(sched.FinishToFinish)
	}
	var out []domain.Dependency
	add := func(pred, succ string) {
		if pred == succ {
			return
		}
		out = append(out, domain.Dependency{
			ID:            uuid.New().String(),
			ProjectID:     projectID,
			PredecessorID: pred,
			SuccessorID:   succ,
			Type:          depType,
			Lag:           0,
			CreatedAt:     createdAt,
		})
	}
	if action == BulkChainFS {
		for i := 0; i+1 < len(taskIDs); i++ {
			add(taskIDs[i], taskIDs[i+1])
		}
		return out
	}
	for _, id := range taskIDs[1:] {
		add(taskIDs[0], id)
	}
	return out
}

// dedupeAgainst drops candidates that already exist with the same
// endpoints and type.
func dedupeAgainst(candidates, existing []domain.Dependency) []domain.Dependency {
	seen := make(map[string]bool, len(existing))
	key := func(d domain.Dependency) string {
		return d.PredecessorID + "|" + d.SuccessorID + "|" + d.Type
	}
	for _, d := range existing {
		seen[key(d)] = true
	}
	out := candidates[:0]
	for _, d := range candidates {
		if seen[key(d)] {
			continue
		}
		seen[key(d)] = true
		out = append(out, d)
	}
	return out
}
