package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/engine"
	"planline/internal/migrate"
	"planline/internal/repo"
	"planline/internal/sched"
	"planline/internal/wbs"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

// newTestEnv opens a throwaway DB with a seeded project starting
// 2024-01-01 and a monotonically advancing clock, so that creation
// order and sibling order stay deterministic.
func newTestEnv(t *testing.T) testEnv {
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
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	tick := 0
	eng.Now = func() time.Time {
		tick++
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(tick) * time.Second)
	}
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, "proj-1", "test", "2024-01-01", "", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func mustCreate(t *testing.T, env testEnv, opts engine.TaskCreateOptions) string {
	t.Helper()
	opts.ProjectID = "proj-1"
	opts.ActorID = "tester"
	task, err := env.Engine.CreateTask(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create task %s: %v", opts.Name, err)
	}
	return task.ID
}

func mustDep(t *testing.T, env testEnv, pred, succ, depType string, lag int) string {
	t.Helper()
	d, err := env.Engine.CreateDependency(env.Ctx, engine.DependencyCreateOptions{
		ProjectID:     "proj-1",
		PredecessorID: pred,
		SuccessorID:   succ,
		Type:          depType,
		Lag:           lag,
		ActorID:       "tester",
	})
	if err != nil {
		t.Fatalf("create dep %s->%s: %v", pred, succ, err)
	}
	return d.ID
}

func TestWbsCodesAssignedOnCreate(t *testing.T) {
	env := newTestEnv(t)
	a := mustCreate(t, env, engine.TaskCreateOptions{Name: "a"})
	mustCreate(t, env, engine.TaskCreateOptions{Name: "b"})
	child := mustCreate(t, env, engine.TaskCreateOptions{Name: "a child", ParentID: a})

	ta, err := env.Engine.Repo.GetTask(env.Ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	tc, _ := env.Engine.Repo.GetTask(env.Ctx, child)
	if ta.WbsCode != "1" {
		t.Fatalf("root code = %q, want 1", ta.WbsCode)
	}
	if tc.WbsCode != "1.1" {
		t.Fatalf("child code = %q, want 1.1", tc.WbsCode)
	}
}

func TestWbsDepthLimit(t *testing.T) {
	env := newTestEnv(t)
	parent := ""
	for i := 0; i < wbs.MaxDepth; i++ {
		parent = mustCreate(t, env, engine.TaskCreateOptions{Name: "level", ParentID: parent})
	}
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "proj-1", Name: "too deep", ParentID: parent, ActorID: "tester",
	})
	var depthErr wbs.DepthExceededError
	if !errors.As(err, &depthErr) {
		t.Fatalf("expected depth error, got %v", err)
	}
}

func TestScheduleChainWithLag(t *testing.T) {
	env := newTestEnv(t)
	a := mustCreate(t, env, engine.TaskCreateOptions{Name: "a", Duration: 3})
	b := mustCreate(t, env, engine.TaskCreateOptions{Name: "b", Duration: 2})
	c := mustCreate(t, env, engine.TaskCreateOptions{Name: "c", Duration: 4})
	mustDep(t, env, a, b, "FS", 2)
	mustDep(t, env, a, c, "FS", 0)

	res, err := env.Engine.RunSchedule(env.Ctx, "proj-1", "", "tester")
	if err != nil {
		t.Fatalf("run schedule: %v", err)
	}
	if res.ProjectFinish != 7 {
		t.Fatalf("project finish = %d, want 7", res.ProjectFinish)
	}
	got := map[string][4]int{}
	crit := map[string]bool{}
	for _, task := range res.Tasks {
		got[task.ID] = [4]int{task.EarlyStart, task.EarlyFinish, task.LateStart, task.TotalFloat}
		crit[task.ID] = task.IsCritical
	}
	if got[a] != [4]int{0, 3, 0, 0} {
		t.Fatalf("a schedule = %v", got[a])
	}
	if got[b] != [4]int{5, 7, 5, 0} {
		t.Fatalf("b schedule = %v", got[b])
	}
	if got[c] != [4]int{3, 7, 3, 0} {
		t.Fatalf("c schedule = %v", got[c])
	}
	if !crit[a] || !crit[b] || !crit[c] {
		t.Fatalf("expected all tasks critical, got %v", crit)
	}

	// a second run over unchanged inputs produces identical fields
	again, err := env.Engine.RunSchedule(env.Ctx, "proj-1", "", "tester")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	for _, task := range again.Tasks {
		if got[task.ID] != [4]int{task.EarlyStart, task.EarlyFinish, task.LateStart, task.TotalFloat} {
			t.Fatalf("task %s changed between runs", task.ID)
		}
	}
}

func TestScheduleStartToStartAndConstraint(t *testing.T) {
	env := newTestEnv(t)
	a := mustCreate(t, env, engine.TaskCreateOptions{Name: "a", Duration: 5})
	b := mustCreate(t, env, engine.TaskCreateOptions{Name: "b", Duration: 2})
	c := mustCreate(t, env, engine.TaskCreateOptions{
		Name: "c", Duration: 1,
		ConstraintType: "start_no_earlier_than", ConstraintDate: "2024-01-04",
	})
	mustDep(t, env, a, b, "SS", 1)

	res, err := env.Engine.RunSchedule(env.Ctx, "proj-1", "", "tester")
	if err != nil {
		t.Fatalf("run schedule: %v", err)
	}
	byID := map[string][2]int{}
	float := map[string]int{}
	for _, task := range res.Tasks {
		byID[task.ID] = [2]int{task.EarlyStart, task.EarlyFinish}
		float[task.ID] = task.TotalFloat
	}
	if byID[b] != [2]int{1, 3} {
		t.Fatalf("b ES/EF = %v, want [1 3]", byID[b])
	}
	if float[b] != 2 {
		t.Fatalf("b float = %d, want 2", float[b])
	}
	// constraint pins c's earliest start to 3 days after project start
	if byID[c] != [2]int{3, 4} {
		t.Fatalf("c ES/EF = %v, want [3 4]", byID[c])
	}
	if float[a] != 0 {
		t.Fatalf("a float = %d, want 0", float[a])
	}
}

func TestScheduleDurationFromPlannedDates(t *testing.T) {
	env := newTestEnv(t)
	a := mustCreate(t, env, engine.TaskCreateOptions{
		Name: "planned", Duration: 1,
		PlannedStart: "2024-01-01", PlannedEnd: "2024-01-08",
	})
	res, err := env.Engine.RunSchedule(env.Ctx, "proj-1", "", "tester")
	if err != nil {
		t.Fatalf("run schedule: %v", err)
	}
	if res.Tasks[0].ID != a || res.Tasks[0].Duration != 7 {
		t.Fatalf("duration = %d, want 7 from planned dates", res.Tasks[0].Duration)
	}
}

func TestScheduleRejectsReversedPlannedDates(t *testing.T) {
	env := newTestEnv(t)
	a := mustCreate(t, env, engine.TaskCreateOptions{Name: "ok", Duration: 2})
	mustCreate(t, env, engine.TaskCreateOptions{
		Name: "reversed", PlannedStart: "2024-01-10", PlannedEnd: "2024-01-08",
	})
	if _, err := env.Engine.RunSchedule(env.Ctx, "proj-1", "", "tester"); err == nil {
		t.Fatal("expected invalid duration error")
	} else {
		var durErr sched.InvalidDurationError
		if !errors.As(err, &durErr) {
			t.Fatalf("wrong error type: %v", err)
		}
	}
	// the failed run must not have written any computed fields
	ta, err := env.Engine.Repo.GetTask(env.Ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if ta.EarlyFinish != 0 || ta.IsCritical {
		t.Fatalf("failed run leaked schedule fields: %+v", ta)
	}
}

func TestDependencyCycleRejected(t *testing.T) {
	env := newTestEnv(t)
	a := mustCreate(t, env, engine.TaskCreateOptions{Name: "a", Duration: 1})
	b := mustCreate(t, env, engine.TaskCreateOptions{Name: "b", Duration: 1})
	mustDep(t, env, a, b, "FS", 0)

	_, err := env.Engine.CreateDependency(env.Ctx, engine.DependencyCreateOptions{
		ProjectID: "proj-1", PredecessorID: b, SuccessorID: a, Type: "FS", ActorID: "tester",
	})
	var cycErr sched.CyclicDependencyError
	if !errors.As(err, &cycErr) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	deps, err := env.Engine.Repo.GetDependenciesByProject(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 1 {
		t.Fatalf("rejected edge was stored, have %d deps", len(deps))
	}
}

func TestReparentRenumbersSubtree(t *testing.T) {
	env := newTestEnv(t)
	a := mustCreate(t, env, engine.TaskCreateOptions{Name: "a"})
	mustCreate(t, env, engine.TaskCreateOptions{Name: "b"})
	c := mustCreate(t, env, engine.TaskCreateOptions{Name: "c"})

	codes, err := env.Engine.Reparent(env.Ctx, "proj-1", []engine.ReparentMove{{TaskID: c, NewParentID: a}}, "tester")
	if err != nil {
		t.Fatalf("reparent: %v", err)
	}
	if codes[c] != "1.1" {
		t.Fatalf("moved task code = %q, want 1.1", codes[c])
	}

	// moving a task under its own descendant must fail
	_, err = env.Engine.Reparent(env.Ctx, "proj-1", []engine.ReparentMove{{TaskID: a, NewParentID: c}}, "tester")
	if err == nil {
		t.Fatal("expected hierarchy cycle error")
	}
}

func TestMoveDownAndUpLevel(t *testing.T) {
	env := newTestEnv(t)
	mustCreate(t, env, engine.TaskCreateOptions{Name: "first"})
	second := mustCreate(t, env, engine.TaskCreateOptions{Name: "second"})

	codes, err := env.Engine.MoveDownLevel(env.Ctx, second, "tester")
	if err != nil {
		t.Fatalf("move down: %v", err)
	}
	if codes[second] != "1.1" {
		t.Fatalf("demoted code = %q, want 1.1", codes[second])
	}

	codes, err = env.Engine.MoveUpLevel(env.Ctx, second, "tester")
	if err != nil {
		t.Fatalf("move up: %v", err)
	}
	if codes[second] != "2" {
		t.Fatalf("promoted code = %q, want 2", codes[second])
	}

	// a root task has nowhere to go
	if _, err := env.Engine.MoveUpLevel(env.Ctx, second, "tester"); err == nil {
		t.Fatal("expected error promoting a root task")
	}
}

func TestBaselineSkipsCompletedTasks(t *testing.T) {
	env := newTestEnv(t)
	open := mustCreate(t, env, engine.TaskCreateOptions{
		Name: "open", PlannedStart: "2024-02-01", PlannedEnd: "2024-02-05",
	})
	done := mustCreate(t, env, engine.TaskCreateOptions{
		Name: "done", Progress: 100, PlannedStart: "2024-01-01", PlannedEnd: "2024-01-02",
	})

	res, err := env.Engine.BulkSetBaseline(env.Ctx, "proj-1", []string{open, done}, "tester")
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	if res.Count != 1 || res.Skipped != 1 {
		t.Fatalf("baseline result = %+v, want count 1 skipped 1", res)
	}
	to, err := env.Engine.Repo.GetTask(env.Ctx, open)
	if err != nil {
		t.Fatal(err)
	}
	if to.BaselineStart == nil || *to.BaselineStart != "2024-02-01" {
		t.Fatalf("baseline start not snapshotted: %+v", to.BaselineStart)
	}
	td, _ := env.Engine.Repo.GetTask(env.Ctx, done)
	if td.BaselineStart != nil {
		t.Fatalf("completed task got a baseline")
	}
}

func TestBulkChainDedupeAndClear(t *testing.T) {
	env := newTestEnv(t)
	ids := []string{
		mustCreate(t, env, engine.TaskCreateOptions{Name: "a", Duration: 1}),
		mustCreate(t, env, engine.TaskCreateOptions{Name: "b", Duration: 1}),
		mustCreate(t, env, engine.TaskCreateOptions{Name: "c", Duration: 1}),
	}
	res, err := env.Engine.BulkSetDependencies(env.Ctx, "proj-1", ids, engine.BulkChainFS, "tester")
	if err != nil {
		t.Fatalf("chain-fs: %v", err)
	}
	if res.Created != 2 {
		t.Fatalf("created = %d, want 2", res.Created)
	}
	// repeating the same action creates nothing new
	res, err = env.Engine.BulkSetDependencies(env.Ctx, "proj-1", ids, engine.BulkChainFS, "tester")
	if err != nil {
		t.Fatalf("repeat chain-fs: %v", err)
	}
	if res.Created != 0 {
		t.Fatalf("repeat created = %d, want 0", res.Created)
	}
	res, err = env.Engine.BulkSetDependencies(env.Ctx, "proj-1", ids, engine.BulkClear, "tester")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if res.Removed != 2 {
		t.Fatalf("removed = %d, want 2", res.Removed)
	}
}

func TestScheduleRunLogsEvent(t *testing.T) {
	env := newTestEnv(t)
	mustCreate(t, env, engine.TaskCreateOptions{Name: "only", Duration: 1})
	if _, err := env.Engine.RunSchedule(env.Ctx, "proj-1", "", "tester"); err != nil {
		t.Fatal(err)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "proj-1", "schedule.run", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("schedule.run events = %d, want 1", len(events))
	}
	if events[0].ActorID != "tester" {
		t.Fatalf("actor = %q", events[0].ActorID)
	}
}

func TestTaskUpdateClearsOptionalFields(t *testing.T) {
	env := newTestEnv(t)
	id := mustCreate(t, env, engine.TaskCreateOptions{
		Name: "t", Duration: 2, PlannedStart: "2024-01-01", PlannedEnd: "2024-01-03",
	})
	empty := ""
	status := "in_progress"
	task, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID:           id,
		Status:       &status,
		PlannedStart: &empty,
		PlannedEnd:   &empty,
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if task.Status != "in_progress" {
		t.Fatalf("status = %q", task.Status)
	}
	if task.PlannedStart != nil || task.PlannedEnd != nil {
		t.Fatal("empty pointers should clear planned dates")
	}

	bad := "nope"
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: id, Status: &bad, ActorID: "tester"}); err == nil {
		t.Fatal("expected invalid status error")
	}
}

func TestDeleteTaskRenumbersSiblings(t *testing.T) {
	env := newTestEnv(t)
	first := mustCreate(t, env, engine.TaskCreateOptions{Name: "first"})
	second := mustCreate(t, env, engine.TaskCreateOptions{Name: "second"})

	if err := env.Engine.DeleteTask(env.Ctx, first, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ts, err := env.Engine.Repo.GetTask(env.Ctx, second)
	if err != nil {
		t.Fatal(err)
	}
	if ts.WbsCode != "1" {
		t.Fatalf("survivor code = %q, want 1", ts.WbsCode)
	}
	if _, err := env.Engine.Repo.GetTask(env.Ctx, first); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNotifyFiresAfterCommit(t *testing.T) {
	env := newTestEnv(t)
	var got []string
	env.Engine.Notify = func(projectID, eventType string, payload map[string]any) {
		if projectID != "proj-1" {
			t.Errorf("notify for project %q", projectID)
		}
		got = append(got, eventType)
	}

	id := mustCreate(t, env, engine.TaskCreateOptions{Name: "a", Duration: 2})
	if _, err := env.Engine.RunSchedule(env.Ctx, "proj-1", "", "tester"); err != nil {
		t.Fatalf("run schedule: %v", err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, id, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	want := []string{"task.created", "schedule.run", "task.deleted"}
	if len(got) != len(want) {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("notifications = %v, want %v", got, want)
		}
	}

	// A rejected mutation never reaches a commit and must stay silent.
	got = got[:0]
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "proj-1",
		Name:      "b",
		Status:    "bogus",
		ActorID:   "tester",
	})
	if err == nil {
		t.Fatal("expected invalid status to be rejected")
	}
	if len(got) != 0 {
		t.Fatalf("rejected mutation notified: %v", got)
	}
}

// startBlockedRun kicks off a schedule run that stalls after its commit
// while still holding the project slot, so contention paths can be
// exercised deterministically. The returned release unblocks it; done
// carries the run's error.
func startBlockedRun(t *testing.T, env *testEnv) (func(), chan error) {
	t.Helper()
	hold := make(chan struct{})
	running := make(chan struct{})
	var once sync.Once
	env.Engine.Notify = func(_, eventType string, _ map[string]any) {
		if eventType != "schedule.run" {
			return
		}
		once.Do(func() {
			close(running)
			<-hold
		})
	}
	done := make(chan error, 1)
	eng := env.Engine
	go func() {
		_, err := eng.RunSchedule(context.Background(), "proj-1", "", "tester")
		done <- err
	}()
	<-running
	return func() { close(hold) }, done
}

func TestScheduleRunRejectedWhileBusy(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Scheduling.OnConflict = "reject"
	mustCreate(t, env, engine.TaskCreateOptions{Name: "a", Duration: 3})

	release, done := startBlockedRun(t, &env)

	_, err := env.Engine.RunSchedule(env.Ctx, "proj-1", "", "tester")
	if !errors.Is(err, sched.ErrScheduleBusy) {
		t.Fatalf("concurrent run: got %v, want ErrScheduleBusy", err)
	}

	release()
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestScheduleRunCanceledWhileQueued(t *testing.T) {
	env := newTestEnv(t)
	mustCreate(t, env, engine.TaskCreateOptions{Name: "a", Duration: 3})

	release, done := startBlockedRun(t, &env)

	// Default policy queues the waiter; an expiring context while queued
	// surfaces as the busy error, not a partial run.
	ctx, cancel := context.WithTimeout(env.Ctx, 100*time.Millisecond)
	defer cancel()
	_, err := env.Engine.RunSchedule(ctx, "proj-1", "", "tester")
	if !errors.Is(err, sched.ErrScheduleBusy) {
		t.Fatalf("queued run: got %v, want ErrScheduleBusy", err)
	}

	release()
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}
