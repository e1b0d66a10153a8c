package repo

import (
	"context"
	"database/sql"
	"strings"

	"planline/internal/domain"
)

const depCols = `id,project_id,predecessor_id,successor_id,dep_type,lag,created_at`

func scanDependency(row rowScanner) (domain.Dependency, error) {
	var d domain.Dependency
	err := row.Scan(&d.ID, &d.ProjectID, &d.PredecessorID, &d.SuccessorID, &d.Type, &d.Lag, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) CreateDependency(ctx context.Context, tx *sql.Tx, d domain.Dependency) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO dependencies(id,project_id,predecessor_id,successor_id,dep_type,lag,created_at) VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.ProjectID, d.PredecessorID, d.SuccessorID, d.Type, d.Lag, d.CreatedAt)
	return err
}

func (r Repo) GetDependency(ctx context.Context, id string) (domain.Dependency, error) {
	return scanDependency(r.DB.QueryRowContext(ctx, `SELECT `+depCols+` FROM dependencies WHERE id=?`, id))
}

func (r Repo) GetDependenciesByProject(ctx context.Context, projectID string) ([]domain.Dependency, error) {
	return r.queryDeps(ctx, r.DB.QueryContext, `SELECT `+depCols+` FROM dependencies WHERE project_id=? ORDER BY created_at ASC, id ASC`, projectID)
}

func (r Repo) GetDependenciesByProjectTx(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.Dependency, error) {
	return r.queryDeps(ctx, tx.QueryContext, `SELECT `+depCols+` FROM dependencies WHERE project_id=? ORDER BY created_at ASC, id ASC`, projectID)
}

// ListDependenciesForTask returns dependencies where the task is either
// endpoint.
func (r Repo) ListDependenciesForTask(ctx context.Context, taskID string) ([]domain.Dependency, error) {
	return r.queryDeps(ctx, r.DB.QueryContext, `SELECT `+depCols+` FROM dependencies WHERE predecessor_id=? OR successor_id=? ORDER BY created_at ASC, id ASC`, taskID, taskID)
}

func (r Repo) queryDeps(ctx context.Context, query queryFunc, q string, args ...any) ([]domain.Dependency, error) {
	rows, err := query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Dependency
	for rows.Next() {
		d, err := scanDependency(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) DeleteDependency(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM dependencies WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDependenciesWithin removes every dependency whose predecessor and
// successor are both members of the given task set.
func (r Repo) DeleteDependenciesWithin(ctx context.Context, tx *sql.Tx, taskIDs []string) (int, error) {
	if len(taskIDs) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(taskIDs)), ",")
	args := make([]any, 0, len(taskIDs)*2)
	for _, id := range taskIDs {
		args = append(args, id)
	}
	for _, id := range taskIDs {
		args = append(args, id)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM dependencies WHERE predecessor_id IN (`+placeholders+`) AND successor_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
