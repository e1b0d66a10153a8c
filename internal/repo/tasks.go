package repo

import (
	"context"
	"database/sql"
	"strings"

	"planline/internal/domain"
)

const taskCols = `id,project_id,parent_id,wbs_code,name,status,priority,progress,duration,
planned_start,planned_end,early_start,early_finish,late_start,late_finish,total_float,is_critical,
constraint_type,constraint_date,baseline_start,baseline_finish,actual_start,actual_finish,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var parentID, plannedStart, plannedEnd, constraintType, constraintDate sql.NullString
	var baselineStart, baselineFinish, actualStart, actualFinish sql.NullString
	var priority sql.NullInt64
	var critical int
	err := row.Scan(&t.ID, &t.ProjectID, &parentID, &t.WbsCode, &t.Name, &t.Status, &priority, &t.Progress, &t.Duration,
		&plannedStart, &plannedEnd, &t.EarlyStart, &t.EarlyFinish, &t.LateStart, &t.LateFinish, &t.TotalFloat, &critical,
		&constraintType, &constraintDate, &baselineStart, &baselineFinish, &actualStart, &actualFinish, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.IsCritical = critical != 0
	if parentID.Valid {
		t.ParentID = &parentID.String
	}
	if priority.Valid {
		p := int(priority.Int64)
		t.Priority = &p
	}
	t.PlannedStart = optNull(plannedStart)
	t.PlannedEnd = optNull(plannedEnd)
	t.ConstraintType = optNull(constraintType)
	t.ConstraintDate = optNull(constraintDate)
	t.BaselineStart = optNull(baselineStart)
	t.BaselineFinish = optNull(baselineFinish)
	t.ActualStart = optNull(actualStart)
	t.ActualFinish = optNull(actualFinish)
	return t, nil
}

func optNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,project_id,parent_id,wbs_code,name,status,priority,progress,duration,
planned_start,planned_end,early_start,early_finish,late_start,late_finish,total_float,is_critical,
constraint_type,constraint_date,baseline_start,baseline_finish,actual_start,actual_finish,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, nullableStringPtr(t.ParentID), t.WbsCode, t.Name, t.Status, nullableIntPtr(t.Priority), t.Progress, t.Duration,
		nullableStringPtr(t.PlannedStart), nullableStringPtr(t.PlannedEnd), t.EarlyStart, t.EarlyFinish, t.LateStart, t.LateFinish, t.TotalFloat, boolToInt(t.IsCritical),
		nullableStringPtr(t.ConstraintType), nullableStringPtr(t.ConstraintDate), nullableStringPtr(t.BaselineStart), nullableStringPtr(t.BaselineFinish),
		nullableStringPtr(t.ActualStart), nullableStringPtr(t.ActualFinish), t.CreatedAt, t.UpdatedAt)
	return err
}

// UpdateTask rewrites the user-editable fields. Computed schedule fields
// are written only by UpdateTaskSchedule.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET parent_id=?, wbs_code=?, name=?, status=?, priority=?, progress=?, duration=?,
planned_start=?, planned_end=?, constraint_type=?, constraint_date=?, actual_start=?, actual_finish=?, updated_at=? WHERE id=?`,
		nullableStringPtr(t.ParentID), t.WbsCode, t.Name, t.Status, nullableIntPtr(t.Priority), t.Progress, t.Duration,
		nullableStringPtr(t.PlannedStart), nullableStringPtr(t.PlannedEnd), nullableStringPtr(t.ConstraintType), nullableStringPtr(t.ConstraintDate),
		nullableStringPtr(t.ActualStart), nullableStringPtr(t.ActualFinish), t.UpdatedAt, t.ID)
	return err
}

// TaskScheduleUpdate is one task's computed fields from a schedule run.
type TaskScheduleUpdate struct {
	TaskID      string
	Duration    int
	EarlyStart  int
	EarlyFinish int
	LateStart   int
	LateFinish  int
	TotalFloat  int
	IsCritical  bool
}

// UpdateTaskSchedule writes the computed fields for a batch of tasks
// inside one transaction.
func (r Repo) UpdateTaskSchedule(ctx context.Context, tx *sql.Tx, updates []TaskScheduleUpdate, updatedAt string) error {
	stmt, err := tx.PrepareContext(ctx, `UPDATE tasks SET duration=?, early_start=?, early_finish=?, late_start=?, late_finish=?, total_float=?, is_critical=?, updated_at=? WHERE id=?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.Duration, u.EarlyStart, u.EarlyFinish, u.LateStart, u.LateFinish, u.TotalFloat, boolToInt(u.IsCritical), updatedAt, u.TaskID); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) UpdateTaskBaseline(ctx context.Context, tx *sql.Tx, taskID string, start, finish *string, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET baseline_start=?, baseline_finish=?, updated_at=? WHERE id=?`,
		nullableStringPtr(start), nullableStringPtr(finish), updatedAt, taskID)
	return err
}

func (r Repo) UpdateTaskParent(ctx context.Context, tx *sql.Tx, taskID string, parentID *string, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET parent_id=?, updated_at=? WHERE id=?`,
		nullableStringPtr(parentID), updatedAt, taskID)
	return err
}

func (r Repo) UpdateTaskWbsCode(ctx context.Context, tx *sql.Tx, taskID, code, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET wbs_code=?, updated_at=? WHERE id=?`, code, updatedAt, taskID)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id))
}

// GetTasksByProject returns every task of a project in a stable order
// (WBS code, then creation time).
func (r Repo) GetTasksByProject(ctx context.Context, projectID string) ([]domain.Task, error) {
	return r.queryTasks(ctx, r.DB.QueryContext, projectID)
}

func (r Repo) GetTasksByProjectTx(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.Task, error) {
	return r.queryTasks(ctx, tx.QueryContext, projectID)
}

type queryFunc func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func (r Repo) queryTasks(ctx context.Context, query queryFunc, projectID string) ([]domain.Task, error) {
	rows, err := query(ctx, `SELECT `+taskCols+` FROM tasks WHERE project_id=? ORDER BY wbs_code ASC, created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// TaskFilters narrows ListTasks output.
type TaskFilters struct {
	ProjectID string
	Status    string
	Parent    string
	Critical  *bool
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Parent != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, f.Parent)
	}
	if f.Critical != nil {
		clauses = append(clauses, "is_critical=?")
		args = append(args, boolToInt(*f.Critical))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskCols+` FROM tasks `+where+` ORDER BY wbs_code ASC, created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// DeleteTask removes a task; dependencies on either side cascade and
// children are detached by the parent_id foreign key.
func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListChildren(ctx context.Context, taskID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM tasks WHERE parent_id=? ORDER BY wbs_code ASC, created_at ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
