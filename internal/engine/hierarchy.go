package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/wbs"
)

// renumberTx recomputes WBS codes for the whole project inside the given
// transaction and persists only the codes that changed. Returns the full
// id-to-code map.
func (e Engine) renumberTx(ctx context.Context, tx *sql.Tx, projectID, updatedAt string) (map[string]string, error) {
	tasks, err := e.Repo.GetTasksByProjectTx(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	nodes := make([]wbs.Node, len(tasks))
	for i, t := range tasks {
		nodes[i] = wbs.Node{ID: t.ID, ParentID: t.ParentID, Code: t.WbsCode, Ordinal: i}
	}
	codes, err := wbs.Renumber(nodes)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		code := codes[t.ID]
		if code == t.WbsCode {
			continue
		}
		if err := e.Repo.UpdateTaskWbsCode(ctx, tx, t.ID, code, updatedAt); err != nil {
			return nil, err
		}
	}
	return codes, nil
}

// RecalculateWbs renumbers the project hierarchy on demand and returns the
// assigned codes.
func (e Engine) RecalculateWbs(ctx context.Context, projectID, actorID string) (map[string]string, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	unlock, err := e.lockProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	codes, err := e.renumberTx(ctx, tx, projectID, now)
	if err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "wbs.recalculated", projectID, "project", projectID, actorID, events.EventPayload{
		"task_count": len(codes),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.notify(projectID, "wbs.recalculated", nil)
	return codes, nil
}

// ReparentMove describes one task's new parent. An empty NewParentID
// promotes the task to the root level.
type ReparentMove struct {
	TaskID      string
	NewParentID string
}

// Reparent moves a batch of tasks to new parents and renumbers in the same
// transaction. The whole batch is validated first; any invalid move
// rejects everything.
func (e Engine) Reparent(ctx context.Context, projectID string, moves []ReparentMove, actorID string) (map[string]string, error) {
	if len(moves) == 0 {
		return nil, errors.New("no moves given")
	}
	unlock, err := e.lockProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tasks, err := e.Repo.GetTasksByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Task, len(tasks))
	parentOf := make(map[string]*string, len(tasks))
	childrenOf := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		parentOf[t.ID] = t.ParentID
	}

	// Apply the batch to the in-memory parent map first so validation sees
	// the final shape, not intermediate states.
	for _, m := range moves {
		if _, ok := byID[m.TaskID]; !ok {
			return nil, fmt.Errorf("task %s not in project %s", m.TaskID, projectID)
		}
		if m.NewParentID == "" {
			parentOf[m.TaskID] = nil
			continue
		}
		if _, ok := byID[m.NewParentID]; !ok {
			return nil, fmt.Errorf("parent %s not in project %s", m.NewParentID, projectID)
		}
		if m.NewParentID == m.TaskID {
			return nil, fmt.Errorf("task %s cannot be its own parent", m.TaskID)
		}
		p := m.NewParentID
		parentOf[m.TaskID] = &p
	}

	for id, p := range parentOf {
		if p != nil {
			childrenOf[*p] = append(childrenOf[*p], id)
		}
	}

	// Reject ancestry cycles: walking up from any moved task must reach a
	// root, never the task itself.
	for _, m := range moves {
		seen := map[string]bool{m.TaskID: true}
		cur := parentOf[m.TaskID]
		for cur != nil {
			if seen[*cur] {
				return nil, fmt.Errorf("moving %s under %s creates a hierarchy cycle", m.TaskID, m.NewParentID)
			}
			seen[*cur] = true
			cur = parentOf[*cur]
		}
	}

	// Depth of the moved subtree's deepest leaf after the move.
	for _, m := range moves {
		depth := wbs.Depth(m.TaskID, parentOf) + wbs.SubtreeDepth(m.TaskID, childrenOf) - 1
		if depth > wbs.MaxDepth {
			return nil, wbs.DepthExceededError{TaskID: m.TaskID, Depth: depth}
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	for _, m := range moves {
		if err := e.Repo.UpdateTaskParent(ctx, tx, m.TaskID, parentOf[m.TaskID], now); err != nil {
			return nil, err
		}
	}
	codes, err := e.renumberTx(ctx, tx, projectID, now)
	if err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "task.reparented", projectID, "project", projectID, actorID, events.EventPayload{
		"moves": len(moves),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.notify(projectID, "task.reparented", map[string]any{"moves": len(moves)})
	return codes, nil
}

// MoveUpLevel promotes a task to its grandparent's level. A task whose
// parent is a root becomes a root itself; a root task stays put.
func (e Engine) MoveUpLevel(ctx context.Context, taskID, actorID string) (map[string]string, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.ParentID == nil {
		return nil, errors.New("task is already at the root level")
	}
	parent, err := e.Repo.GetTask(ctx, *t.ParentID)
	if err != nil {
		return nil, err
	}
	newParent := ""
	if parent.ParentID != nil {
		newParent = *parent.ParentID
	}
	return e.Reparent(ctx, t.ProjectID, []ReparentMove{{TaskID: taskID, NewParentID: newParent}}, actorID)
}

// MoveDownLevel demotes a task under its nearest preceding sibling, making
// it that sibling's child. The first sibling at its level cannot be
// demoted.
func (e Engine) MoveDownLevel(ctx context.Context, taskID, actorID string) (map[string]string, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	tasks, err := e.Repo.GetTasksByProject(ctx, t.ProjectID)
	if err != nil {
		return nil, err
	}
	prev := precedingSibling(t, tasks)
	if prev == "" {
		return nil, errors.New("task has no preceding sibling to move under")
	}
	return e.Reparent(ctx, t.ProjectID, []ReparentMove{{TaskID: taskID, NewParentID: prev}}, actorID)
}

// precedingSibling finds the sibling whose WBS code sorts highest below the
// task's own code.
func precedingSibling(t domain.Task, tasks []domain.Task) string {
	sameParent := func(a, b *string) bool {
		if a == nil || b == nil {
			return a == nil && b == nil
		}
		return *a == *b
	}
	best := ""
	bestCode := ""
	for _, s := range tasks {
		if s.ID == t.ID || !sameParent(s.ParentID, t.ParentID) {
			continue
		}
		if wbs.Compare(s.WbsCode, t.WbsCode) >= 0 {
			continue
		}
		if best == "" || wbs.Compare(s.WbsCode, bestCode) > 0 {
			best = s.ID
			bestCode = s.WbsCode
		}
	}
	return best
}
