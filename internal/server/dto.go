package server

import (
	"encoding/json"

	"planline/internal/config"
	"planline/internal/domain"
	"planline/internal/engine"
)

type CreateProjectRequest struct {
	ID          string  `json:"id" example:"bridge-2027"`
	Name        string  `json:"name,omitempty"`
	StartDate   string  `json:"start_date,omitempty" example:"2026-01-05"`
	Description *string `json:"description,omitempty"`
}

type ProjectResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	StartDate   string `json:"start_date"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type ProjectConfigResponse struct {
	ProjectID        string   `json:"project_id"`
	DefaultStartDate string   `json:"default_start_date,omitempty"`
	OnConflict       string   `json:"on_conflict"`
	WebhookURLs      []string `json:"webhook_urls,omitempty"`
}

type CreateTaskRequest struct {
	ID             *string `json:"id,omitempty"`
	Name           string  `json:"name"`
	ParentID       *string `json:"parent_id,omitempty"`
	Status         *string `json:"status,omitempty" enum:"not_started,in_progress,review,completed,on_hold"`
	Priority       *int    `json:"priority,omitempty"`
	Progress       *int    `json:"progress,omitempty" minimum:"0" maximum:"100"`
	Duration       *int    `json:"duration,omitempty"`
	PlannedStart   *string `json:"planned_start,omitempty" example:"2026-01-05"`
	PlannedEnd     *string `json:"planned_end,omitempty"`
	ConstraintType *string `json:"constraint_type,omitempty" enum:"must_start_on,start_no_earlier_than"`
	ConstraintDate *string `json:"constraint_date,omitempty"`
}

type UpdateTaskRequest struct {
	Name           *string `json:"name,omitempty"`
	Status         *string `json:"status,omitempty"`
	Priority       *int    `json:"priority,omitempty"`
	Progress       *int    `json:"progress,omitempty"`
	Duration       *int    `json:"duration,omitempty"`
	PlannedStart   *string `json:"planned_start,omitempty"`
	PlannedEnd     *string `json:"planned_end,omitempty"`
	ConstraintType *string `json:"constraint_type,omitempty"`
	ConstraintDate *string `json:"constraint_date,omitempty"`
	ActualStart    *string `json:"actual_start,omitempty"`
	ActualFinish   *string `json:"actual_finish,omitempty"`
}

type TaskResponse struct {
	ID             string  `json:"id"`
	ProjectID      string  `json:"project_id"`
	ParentID       *string `json:"parent_id,omitempty"`
	WbsCode        string  `json:"wbs_code"`
	Name           string  `json:"name"`
	Status         string  `json:"status"`
	Priority       *int    `json:"priority,omitempty"`
	Progress       int     `json:"progress"`
	Duration       int     `json:"duration"`
	PlannedStart   *string `json:"planned_start,omitempty"`
	PlannedEnd     *string `json:"planned_end,omitempty"`
	EarlyStart     int     `json:"early_start"`
	EarlyFinish    int     `json:"early_finish"`
	LateStart      int     `json:"late_start"`
	LateFinish     int     `json:"late_finish"`
	TotalFloat     int     `json:"total_float"`
	IsCritical     bool    `json:"is_critical"`
	ConstraintType *string `json:"constraint_type,omitempty"`
	ConstraintDate *string `json:"constraint_date,omitempty"`
	BaselineStart  *string `json:"baseline_start,omitempty"`
	BaselineFinish *string `json:"baseline_finish,omitempty"`
	ActualStart    *string `json:"actual_start,omitempty"`
	ActualFinish   *string `json:"actual_finish,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

type CreateDependencyRequest struct {
	PredecessorID string `json:"predecessor_id"`
	SuccessorID   string `json:"successor_id"`
	Type          string `json:"type" enum:"FS,SS,FF,SF"`
	Lag           int    `json:"lag,omitempty"`
}

type DependencyResponse struct {
	ID            string `json:"id"`
	ProjectID     string `json:"project_id"`
	PredecessorID string `json:"predecessor_id"`
	SuccessorID   string `json:"successor_id"`
	Type          string `json:"type"`
	Lag           int    `json:"lag"`
	CreatedAt     string `json:"created_at"`
}

type ScheduleRunRequest struct {
	StartDate string `json:"start_date,omitempty" example:"2026-01-05"`
}

type ScheduleRunResponse struct {
	Tasks                []TaskResponse `json:"tasks"`
	CriticalPathDuration int            `json:"critical_path_duration"`
	ProjectFinish        int            `json:"project_finish"`
}

type ScheduleRowResponse struct {
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

type CriticalPathResponse struct {
	Tasks         []ScheduleRowResponse `json:"tasks"`
	TotalDuration int                   `json:"total_duration"`
}

type BulkDependenciesRequest struct {
	TaskIDs []string `json:"task_ids" minItems:"2"`
	Action  string   `json:"action" enum:"chain-fs,set-ss,set-ff,clear"`
}

type BulkDependenciesResponse struct {
	Created int `json:"created"`
	Removed int `json:"removed"`
}

type SetBaselineRequest struct {
	TaskIDs []string `json:"task_ids" minItems:"1"`
}

type SetBaselineResponse struct {
	Count   int `json:"count"`
	Skipped int `json:"skipped"`
}

type ReparentRequest struct {
	Moves []ReparentMoveRequest `json:"moves" minItems:"1"`
}

type ReparentMoveRequest struct {
	TaskID      string  `json:"task_id"`
	NewParentID *string `json:"new_parent_id,omitempty"`
}

type WbsCodesResponse struct {
	Codes map[string]string `json:"codes"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	TS         string         `json:"ts"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Status:      p.Status,
		StartDate:   p.StartDate,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
	}
}

func configResponse(projectID string, cfg *config.Config) ProjectConfigResponse {
	resp := ProjectConfigResponse{ProjectID: projectID, OnConflict: "queue"}
	if cfg == nil {
		return resp
	}
	resp.DefaultStartDate = cfg.Scheduling.DefaultStartDate
	if cfg.Scheduling.OnConflict != "" {
		resp.OnConflict = cfg.Scheduling.OnConflict
	}
	for _, h := range cfg.Webhooks {
		resp.WebhookURLs = append(resp.WebhookURLs, h.URL)
	}
	return resp
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:             t.ID,
		ProjectID:      t.ProjectID,
		ParentID:       t.ParentID,
		WbsCode:        t.WbsCode,
		Name:           t.Name,
		Status:         t.Status,
		Priority:       t.Priority,
		Progress:       t.Progress,
		Duration:       t.Duration,
		PlannedStart:   t.PlannedStart,
		PlannedEnd:     t.PlannedEnd,
		EarlyStart:     t.EarlyStart,
		EarlyFinish:    t.EarlyFinish,
		LateStart:      t.LateStart,
		LateFinish:     t.LateFinish,
		TotalFloat:     t.TotalFloat,
		IsCritical:     t.IsCritical,
		ConstraintType: t.ConstraintType,
		ConstraintDate: t.ConstraintDate,
		BaselineStart:  t.BaselineStart,
		BaselineFinish: t.BaselineFinish,
		ActualStart:    t.ActualStart,
		ActualFinish:   t.ActualFinish,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func dependencyResponse(d domain.Dependency) DependencyResponse {
	return DependencyResponse{
		ID:            d.ID,
		ProjectID:     d.ProjectID,
		PredecessorID: d.PredecessorID,
		SuccessorID:   d.SuccessorID,
		Type:          d.Type,
		Lag:           d.Lag,
		CreatedAt:     d.CreatedAt,
	}
}

func mapDependencies(items []domain.Dependency) []DependencyResponse {
	res := make([]DependencyResponse, 0, len(items))
	for _, d := range items {
		res = append(res, dependencyResponse(d))
	}
	return res
}

func scheduleRowResponse(r engine.ScheduleRow) ScheduleRowResponse {
	return ScheduleRowResponse{
		TaskID:      r.TaskID,
		Name:        r.Name,
		WbsCode:     r.WbsCode,
		Duration:    r.Duration,
		EarlyStart:  r.EarlyStart,
		EarlyFinish: r.EarlyFinish,
		LateStart:   r.LateStart,
		LateFinish:  r.LateFinish,
		TotalFloat:  r.TotalFloat,
		IsCritical:  r.IsCritical,
	}
}

func mapScheduleRows(rows []engine.ScheduleRow) []ScheduleRowResponse {
	res := make([]ScheduleRowResponse, 0, len(rows))
	for _, r := range rows {
		res = append(res, scheduleRowResponse(r))
	}
	return res
}

func eventResponse(evt domain.Event) EventResponse {
	resp := EventResponse{
		ID:         evt.ID,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
	}
	if evt.Payload != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(evt.Payload), &payload); err == nil {
			resp.Payload = payload
		}
	}
	return resp
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, evt := range items {
		res = append(res, eventResponse(evt))
	}
	return res
}
