package domain

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status" enum:"active,archived"`
	StartDate   string `json:"start_date" format:"date"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Task carries both the planned fields users edit and the computed
// fields written back by a schedule run. Early/Late values are day
// offsets from the project start date.
type Task struct {
	ID             string  `json:"id"`
	ProjectID      string  `json:"project_id"`
	ParentID       *string `json:"parent_id,omitempty"`
	WbsCode        string  `json:"wbs_code"`
	Name           string  `json:"name"`
	Status         string  `json:"status" enum:"not_started,in_progress,review,completed,on_hold"`
	Priority       *int    `json:"priority,omitempty"`
	Progress       int     `json:"progress"`
	Duration       int     `json:"duration"`
	PlannedStart   *string `json:"planned_start,omitempty" format:"date"`
	PlannedEnd     *string `json:"planned_end,omitempty" format:"date"`
	EarlyStart     int     `json:"early_start"`
	EarlyFinish    int     `json:"early_finish"`
	LateStart      int     `json:"late_start"`
	LateFinish     int     `json:"late_finish"`
	TotalFloat     int     `json:"total_float"`
	IsCritical     bool    `json:"is_critical"`
	ConstraintType *string `json:"constraint_type,omitempty" enum:"must_start_on,start_no_earlier_than"`
	ConstraintDate *string `json:"constraint_date,omitempty" format:"date"`
	BaselineStart  *string `json:"baseline_start,omitempty" format:"date"`
	BaselineFinish *string `json:"baseline_finish,omitempty" format:"date"`
	ActualStart    *string `json:"actual_start,omitempty" format:"date"`
	ActualFinish   *string `json:"actual_finish,omitempty" format:"date"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

type Dependency struct {
	ID            string `json:"id"`
	ProjectID     string `json:"project_id"`
	PredecessorID string `json:"predecessor_id"`
	SuccessorID   string `json:"successor_id"`
	Type          string `json:"type" enum:"FS,SS,FF,SF"`
	Lag           int    `json:"lag"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
