package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/engine"
	"planline/internal/migrate"
	"planline/internal/server"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) *httptest.Server {
	return newTestServerWith(t, nil)
}

func newTestServerWith(t *testing.T, tweak func(*engine.Engine)) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("p1"))
	if tweak != nil {
		tweak(&eng)
	}
	handler, err := server.New(server.Config{
		Engine:   eng,
		BasePath: "/v1",
		Auth: server.AuthConfig{
			JWTSecret:              testSecret,
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

type errEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func seedProject(t *testing.T, ts *httptest.Server, id string) {
	t.Helper()
	resp, body := doJSON(t, ts, http.MethodPost, "/v1/projects", map[string]any{
		"id": id, "name": id, "start_date": "2024-01-01",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", resp.StatusCode, body)
	}
}

func seedTask(t *testing.T, ts *httptest.Server, project string, body map[string]any) string {
	t.Helper()
	resp, data := doJSON(t, ts, http.MethodPost, "/v1/projects/"+project+"/tasks", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", resp.StatusCode, data)
	}
	return decode[server.TaskResponse](t, data).ID
}

func TestHealthRequiresNoAuth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.Client().Get(ts.URL + "/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %d", resp.StatusCode)
	}
}

func TestMissingAuthRejected(t *testing.T) {
	ts := newTestServer(t)
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/projects", nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no credentials = %d, want 401", resp.StatusCode)
	}
}

func TestJWTBearerAccepted(t *testing.T) {
	ts := newTestServer(t)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/projects", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bearer request = %d, want 200", resp.StatusCode)
	}

	// a token signed with the wrong key is rejected
	bad, _ := token.SignedString([]byte("other-secret"))
	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/v1/projects", nil)
	req.Header.Set("Authorization", "Bearer "+bad)
	resp2, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("forged bearer = %d, want 401", resp2.StatusCode)
	}
}

func TestProjectLifecycle(t *testing.T) {
	ts := newTestServer(t)
	seedProject(t, ts, "p1")

	resp, data := doJSON(t, ts, http.MethodGet, "/v1/projects/p1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get project = %d %s", resp.StatusCode, data)
	}
	p := decode[server.ProjectResponse](t, data)
	if p.ID != "p1" || p.StartDate != "2024-01-01" || p.Status != "active" {
		t.Fatalf("project = %+v", p)
	}

	resp, data = doJSON(t, ts, http.MethodGet, "/v1/projects/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing project = %d", resp.StatusCode)
	}
	env := decode[errEnvelope](t, data)
	if env.Error.Code != "not_found" {
		t.Fatalf("code = %q", env.Error.Code)
	}

	resp, _ = doJSON(t, ts, http.MethodPatch, "/v1/projects/p1", map[string]any{"status": "paused"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch project = %d", resp.StatusCode)
	}
	resp, data = doJSON(t, ts, http.MethodGet, "/v1/projects/p1/config", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get config = %d %s", resp.StatusCode, data)
	}
	cfg := decode[server.ProjectConfigResponse](t, data)
	if cfg.OnConflict == "" {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestCreateProjectWithoutBody(t *testing.T) {
	ts := newTestServer(t)
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/projects", nil)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty body = %d, want 400", resp.StatusCode)
	}
}

func TestTaskCrudAndWbs(t *testing.T) {
	ts := newTestServer(t)
	seedProject(t, ts, "p1")

	root := seedTask(t, ts, "p1", map[string]any{"name": "root", "duration": 3})
	child := seedTask(t, ts, "p1", map[string]any{"name": "child", "parent_id": root, "duration": 1})

	resp, data := doJSON(t, ts, http.MethodGet, "/v1/projects/p1/tasks/"+child, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get task = %d %s", resp.StatusCode, data)
	}
	tk := decode[server.TaskResponse](t, data)
	if tk.WbsCode != "1.1" {
		t.Fatalf("child wbs = %q, want 1.1", tk.WbsCode)
	}

	resp, data = doJSON(t, ts, http.MethodPatch, "/v1/projects/p1/tasks/"+child, map[string]any{"status": "in_progress", "progress": 40})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch task = %d %s", resp.StatusCode, data)
	}
	tk = decode[server.TaskResponse](t, data)
	if tk.Status != "in_progress" || tk.Progress != 40 {
		t.Fatalf("task after patch = %+v", tk)
	}

	resp, data = doJSON(t, ts, http.MethodGet, "/v1/projects/p1/tasks/tree", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tree = %d %s", resp.StatusCode, data)
	}
	var tree []struct {
		Task     server.TaskResponse `json:"task"`
		Children []json.RawMessage   `json:"children"`
	}
	if err := json.Unmarshal(data, &tree); err != nil {
		t.Fatal(err)
	}
	if len(tree) != 1 || len(tree[0].Children) != 1 {
		t.Fatalf("tree shape = %s", data)
	}

	resp, _ = doJSON(t, ts, http.MethodDelete, "/v1/projects/p1/tasks/"+child, nil)
	if resp.StatusCode >= 300 {
		t.Fatalf("delete task = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, ts, http.MethodGet, "/v1/projects/p1/tasks/"+child, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted task = %d, want 404", resp.StatusCode)
	}
}

func TestDependencyCycleReturns422(t *testing.T) {
	ts := newTestServer(t)
	seedProject(t, ts, "p1")
	a := seedTask(t, ts, "p1", map[string]any{"name": "a", "duration": 1})
	b := seedTask(t, ts, "p1", map[string]any{"name": "b", "duration": 1})

	resp, data := doJSON(t, ts, http.MethodPost, "/v1/projects/p1/dependencies", map[string]any{
		"predecessor_id": a, "successor_id": b, "type": "FS",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create dep = %d %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, ts, http.MethodPost, "/v1/projects/p1/dependencies", map[string]any{
		"predecessor_id": b, "successor_id": a, "type": "FS",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("cycle = %d %s, want 422", resp.StatusCode, data)
	}
	env := decode[errEnvelope](t, data)
	if env.Error.Code != "cyclic_dependency" {
		t.Fatalf("code = %q", env.Error.Code)
	}
	if env.Error.Details["dependency_id"] == "" {
		t.Fatalf("details = %v", env.Error.Details)
	}
}

func TestScheduleEndpoints(t *testing.T) {
	ts := newTestServer(t)
	seedProject(t, ts, "p1")
	a := seedTask(t, ts, "p1", map[string]any{"name": "a", "duration": 3})
	b := seedTask(t, ts, "p1", map[string]any{"name": "b", "duration": 2})
	resp, data := doJSON(t, ts, http.MethodPost, "/v1/projects/p1/dependencies", map[string]any{
		"predecessor_id": a, "successor_id": b, "type": "FS", "lag": 2,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create dep = %d %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, ts, http.MethodPost, "/v1/projects/p1/schedule/run", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run schedule = %d %s", resp.StatusCode, data)
	}
	run := decode[server.ScheduleRunResponse](t, data)
	if run.ProjectFinish != 7 || run.CriticalPathDuration != 7 {
		t.Fatalf("run = %+v", run)
	}
	for _, tk := range run.Tasks {
		if tk.ID == b && (tk.EarlyStart != 5 || tk.EarlyFinish != 7) {
			t.Fatalf("successor schedule = %+v", tk)
		}
	}

	resp, data = doJSON(t, ts, http.MethodGet, "/v1/projects/p1/schedule", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get schedule = %d", resp.StatusCode)
	}
	rows := decode[[]server.ScheduleRowResponse](t, data)
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}

	resp, data = doJSON(t, ts, http.MethodGet, "/v1/projects/p1/schedule/critical-path", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("critical path = %d", resp.StatusCode)
	}
	cp := decode[server.CriticalPathResponse](t, data)
	if cp.TotalDuration != 7 || len(cp.Tasks) != 2 {
		t.Fatalf("critical path = %+v", cp)
	}

	resp, data = doJSON(t, ts, http.MethodGet, "/v1/projects/p1/tasks?critical=true", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("critical filter = %d", resp.StatusCode)
	}
	crits := decode[[]server.TaskResponse](t, data)
	if len(crits) != 2 {
		t.Fatalf("critical tasks = %d, want 2", len(crits))
	}
}

func TestScheduleRunBusyReturns409(t *testing.T) {
	// Stall the first run after commit, while it still holds the project
	// slot, so the second request hits the reject policy deterministically.
	hold := make(chan struct{})
	running := make(chan struct{})
	var once sync.Once
	ts := newTestServerWith(t, func(e *engine.Engine) {
		e.Config.Scheduling.OnConflict = "reject"
		e.Notify = func(_, eventType string, _ map[string]any) {
			if eventType != "schedule.run" {
				return
			}
			once.Do(func() {
				close(running)
				<-hold
			})
		}
	})
	seedProject(t, ts, "p1")
	seedTask(t, ts, "p1", map[string]any{"name": "a", "duration": 3})

	first := make(chan int, 1)
	go func() {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/projects/p1/schedule/run", bytes.NewBufferString("{}"))
		if err != nil {
			first <- 0
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Actor-Id", "tester")
		resp, err := ts.Client().Do(req)
		if err != nil {
			first <- 0
			return
		}
		resp.Body.Close()
		first <- resp.StatusCode
	}()
	<-running

	resp, data := doJSON(t, ts, http.MethodPost, "/v1/projects/p1/schedule/run", map[string]any{})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("concurrent run = %d %s", resp.StatusCode, data)
	}
	env := decode[errEnvelope](t, data)
	if env.Error.Code != "schedule_busy" {
		t.Fatalf("expected schedule_busy, got %q", env.Error.Code)
	}

	close(hold)
	if code := <-first; code != http.StatusOK {
		t.Fatalf("blocked run finished with %d", code)
	}
}

func TestBulkDependenciesEndpoint(t *testing.T) {
	ts := newTestServer(t)
	seedProject(t, ts, "p1")
	ids := []string{
		seedTask(t, ts, "p1", map[string]any{"name": "a", "duration": 1}),
		seedTask(t, ts, "p1", map[string]any{"name": "b", "duration": 1}),
		seedTask(t, ts, "p1", map[string]any{"name": "c", "duration": 1}),
	}
	resp, data := doJSON(t, ts, http.MethodPost, "/v1/projects/p1/dependencies/bulk", map[string]any{
		"task_ids": ids, "action": "chain-fs",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bulk = %d %s", resp.StatusCode, data)
	}
	res := decode[server.BulkDependenciesResponse](t, data)
	if res.Created != 2 {
		t.Fatalf("created = %d, want 2", res.Created)
	}

	resp, data = doJSON(t, ts, http.MethodPost, "/v1/projects/p1/dependencies/bulk", map[string]any{
		"task_ids": ids, "action": "clear",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bulk clear = %d %s", resp.StatusCode, data)
	}
	res = decode[server.BulkDependenciesResponse](t, data)
	if res.Removed != 2 {
		t.Fatalf("removed = %d, want 2", res.Removed)
	}
}

func TestReparentAndMoveEndpoints(t *testing.T) {
	ts := newTestServer(t)
	seedProject(t, ts, "p1")
	first := seedTask(t, ts, "p1", map[string]any{"name": "first"})
	second := seedTask(t, ts, "p1", map[string]any{"name": "second"})

	resp, data := doJSON(t, ts, http.MethodPost, "/v1/projects/p1/tasks/reparent", map[string]any{
		"moves": []map[string]any{{"task_id": second, "new_parent_id": first}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reparent = %d %s", resp.StatusCode, data)
	}
	codes := decode[server.WbsCodesResponse](t, data)
	if codes.Codes[second] != "1.1" {
		t.Fatalf("codes = %v", codes.Codes)
	}

	resp, data = doJSON(t, ts, http.MethodPost, fmt.Sprintf("/v1/projects/p1/tasks/%s/move-up", second), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("move up = %d %s", resp.StatusCode, data)
	}
	codes = decode[server.WbsCodesResponse](t, data)
	if codes.Codes[second] != "2" {
		t.Fatalf("codes after move up = %v", codes.Codes)
	}
}

func TestBaselineEndpoint(t *testing.T) {
	ts := newTestServer(t)
	seedProject(t, ts, "p1")
	id := seedTask(t, ts, "p1", map[string]any{
		"name": "t", "planned_start": "2024-02-01", "planned_end": "2024-02-05",
	})
	resp, data := doJSON(t, ts, http.MethodPost, "/v1/projects/p1/baseline", map[string]any{
		"task_ids": []string{id},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("baseline = %d %s", resp.StatusCode, data)
	}
	res := decode[server.SetBaselineResponse](t, data)
	if res.Count != 1 || res.Skipped != 0 {
		t.Fatalf("baseline result = %+v", res)
	}
	resp, data = doJSON(t, ts, http.MethodGet, "/v1/projects/p1/tasks/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatal("get task after baseline")
	}
	tk := decode[server.TaskResponse](t, data)
	if tk.BaselineStart == nil || *tk.BaselineStart != "2024-02-01" {
		t.Fatalf("baseline start = %v", tk.BaselineStart)
	}
}

func TestEventsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	seedProject(t, ts, "p1")
	seedTask(t, ts, "p1", map[string]any{"name": "t"})

	resp, data := doJSON(t, ts, http.MethodGet, "/v1/projects/p1/events?type=task.created", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events = %d %s", resp.StatusCode, data)
	}
	events := decode[[]server.EventResponse](t, data)
	if len(events) != 1 || events[0].ActorID != "tester" {
		t.Fatalf("events = %+v", events)
	}
}

func TestOpenAPIAndDocsServed(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.Client().Get(ts.URL + "/v1/openapi.json")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("openapi = %d", resp.StatusCode)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	var spec struct {
		Paths map[string]any `json:"paths"`
	}
	if err := json.Unmarshal(buf.Bytes(), &spec); err != nil {
		t.Fatal(err)
	}
	if len(spec.Paths) == 0 {
		t.Fatal("empty openapi paths")
	}

	docs, err := ts.Client().Get(ts.URL + "/docs")
	if err != nil {
		t.Fatal(err)
	}
	defer docs.Body.Close()
	if docs.StatusCode != http.StatusOK {
		t.Fatalf("docs = %d", docs.StatusCode)
	}
}
