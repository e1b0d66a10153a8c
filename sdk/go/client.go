package planlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Planline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	ParentID    *string `json:"parent_id,omitempty"`
	WbsCode     string  `json:"wbs_code"`
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	Progress    int     `json:"progress"`
	Duration    int     `json:"duration"`
	EarlyStart  int     `json:"early_start"`
	EarlyFinish int     `json:"early_finish"`
	LateStart   int     `json:"late_start"`
	LateFinish  int     `json:"late_finish"`
	TotalFloat  int     `json:"total_float"`
	IsCritical  bool    `json:"is_critical"`
}

// Dependency represents a typed edge between two tasks.
type Dependency struct {
	ID            string `json:"id"`
	ProjectID     string `json:"project_id"`
	PredecessorID string `json:"predecessor_id"`
	SuccessorID   string `json:"successor_id"`
	Type          string `json:"type"`
	Lag           int    `json:"lag"`
}

// ScheduleRun is the outcome of a scheduling pass.
type ScheduleRun struct {
	Tasks                []Task `json:"tasks"`
	CriticalPathDuration int    `json:"critical_path_duration"`
	ProjectFinish        int    `json:"project_finish"`
}

// ScheduleRow is one task's computed dates.
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

// CriticalPath is the zero-float task view.
type CriticalPath struct {
	Tasks         []ScheduleRow `json:"tasks"`
	TotalDuration int           `json:"total_duration"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a task with a name and duration in days.
func (c *Client) CreateTask(ctx context.Context, name string, duration int) (Task, error) {
	body := map[string]any{
		"name":     name,
		"duration": duration,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	endpoint := c.projectPath(fmt.Sprintf("tasks/%s", url.PathEscape(id)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListTasks returns the project's tasks in WBS order.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, c.projectPath("tasks"), nil, &resp)
	return resp, err
}

// CreateDependency links predecessor to successor with a type ("FS",
// "SS", "FF", "SF") and lag in days.
func (c *Client) CreateDependency(ctx context.Context, predecessorID, successorID, depType string, lag int) (Dependency, error) {
	body := map[string]any{
		"predecessor_id": predecessorID,
		"successor_id":   successorID,
		"type":           depType,
		"lag":            lag,
	}
	var resp Dependency
	err := c.do(ctx, http.MethodPost, c.projectPath("dependencies"), body, &resp)
	return resp, err
}

// RunSchedule triggers a full scheduling pass. startDate may be empty to
// use the project's stored start date.
func (c *Client) RunSchedule(ctx context.Context, startDate string) (ScheduleRun, error) {
	body := map[string]any{}
	if startDate != "" {
		body["start_date"] = startDate
	}
	var resp ScheduleRun
	err := c.do(ctx, http.MethodPost, c.projectPath("schedule/run"), body, &resp)
	return resp, err
}

// GetCriticalPath returns the stored critical path.
func (c *Client) GetCriticalPath(ctx context.Context) (CriticalPath, error) {
	var resp CriticalPath
	err := c.do(ctx, http.MethodGet, c.projectPath("schedule/critical-path"), nil, &resp)
	return resp, err
}

// SetBaseline snapshots planned dates for the given tasks.
func (c *Client) SetBaseline(ctx context.Context, taskIDs []string) (int, int, error) {
	var resp struct {
		Count   int `json:"count"`
		Skipped int `json:"skipped"`
	}
	err := c.do(ctx, http.MethodPost, c.projectPath("baseline"), map[string]any{"task_ids": taskIDs}, &resp)
	return resp.Count, resp.Skipped, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v1/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
