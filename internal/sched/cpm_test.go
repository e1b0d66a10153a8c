package sched

import (
	"errors"
	"testing"
)

func task(id string, dur int) Task {
	return Task{ID: id, Duration: dur}
}

func dep(id, pred, succ string, t DepType, lag int) Dependency {
	return Dependency{ID: id, PredecessorID: pred, SuccessorID: succ, Type: t, Lag: lag}
}

func TestComputeFinishToStart(t *testing.T) {
	// A (5 days) -FS lag 2-> B (3 days)
	res, err := Compute(
		[]Task{task("a", 5), task("b", 3)},
		[]Dependency{dep("d1", "a", "b", FinishToStart, 2)},
	)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	b := res.Tasks["b"]
	if b.EarlyStart != 7 || b.EarlyFinish != 10 {
		t.Fatalf("expected B ES=7 EF=10, got ES=%d EF=%d", b.EarlyStart, b.EarlyFinish)
	}
	if res.ProjectFinish != 10 || res.CriticalPathDuration != 10 {
		t.Fatalf("expected project finish 10, got %d (cpd %d)", res.ProjectFinish, res.CriticalPathDuration)
	}
}

func TestComputeStartToStart(t *testing.T) {
	// A (5 days) -SS lag 1-> B (2 days)
	res, err := Compute(
		[]Task{task("a", 5), task("b", 2)},
		[]Dependency{dep("d1", "a", "b", StartToStart, 1)},
	)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if got := res.Tasks["b"].EarlyStart; got != 1 {
		t.Fatalf("expected B ES=1, got %d", got)
	}
}

func TestComputeFinishToFinish(t *testing.T) {
	// B must finish no earlier than A's finish plus lag.
	res, err := Compute(
		[]Task{task("a", 4), task("b", 2)},
		[]Dependency{dep("d1", "a", "b", FinishToFinish, 1)},
	)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	b := res.Tasks["b"]
	if b.EarlyFinish != 5 || b.EarlyStart != 3 {
		t.Fatalf("expected B ES=3 EF=5, got ES=%d EF=%d", b.EarlyStart, b.EarlyFinish)
	}
}

func TestComputeStartToFinish(t *testing.T) {
	res, err := Compute(
		[]Task{task("a", 4), task("b", 2)},
		[]Dependency{dep("d1", "a", "b", StartToFinish, 3)},
	)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	b := res.Tasks["b"]
	// B.EF >= A.ES + lag = 3, so ES = 1.
	if b.EarlyStart != 1 || b.EarlyFinish != 3 {
		t.Fatalf("expected B ES=1 EF=3, got ES=%d EF=%d", b.EarlyStart, b.EarlyFinish)
	}
}

func TestComputeChainInvariantsAndFloat(t *testing.T) {
	// a -> b -> d and a -> c -> d; b is longer so c has float.
	tasks := []Task{task("a", 2), task("b", 5), task("c", 1), task("d", 3)}
	deps := []Dependency{
		dep("d1", "a", "b", FinishToStart, 0),
		dep("d2", "a", "c", FinishToStart, 0),
		dep("d3", "b", "d", FinishToStart, 0),
		dep("d4", "c", "d", FinishToStart, 0),
	}
	res, err := Compute(tasks, deps)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	for id, ts := range res.Tasks {
		if ts.EarlyFinish-ts.EarlyStart != ts.Duration {
			t.Errorf("task %s: EF-ES != duration", id)
		}
		if ts.LateFinish-ts.LateStart != ts.Duration {
			t.Errorf("task %s: LF-LS != duration", id)
		}
		if ts.TotalFloat < 0 {
			t.Errorf("task %s: negative float %d", id, ts.TotalFloat)
		}
		if ts.IsCritical != (ts.TotalFloat == 0) {
			t.Errorf("task %s: critical flag does not match float", id)
		}
	}
	if res.Tasks["c"].TotalFloat != 4 {
		t.Fatalf("expected c float 4, got %d", res.Tasks["c"].TotalFloat)
	}
	wantCritical := []string{"a", "b", "d"}
	if len(res.CriticalPath) != len(wantCritical) {
		t.Fatalf("critical path %v, want %v", res.CriticalPath, wantCritical)
	}
	for i, id := range wantCritical {
		if res.CriticalPath[i] != id {
			t.Fatalf("critical path %v, want %v", res.CriticalPath, wantCritical)
		}
	}
	// Critical durations sum to the project span.
	sum := 0
	for _, id := range res.CriticalPath {
		sum += res.Tasks[id].Duration
	}
	if sum != res.CriticalPathDuration {
		t.Fatalf("critical durations sum %d, span %d", sum, res.CriticalPathDuration)
	}
}

func TestComputeConstraintFloor(t *testing.T) {
	floor := 4
	tasks := []Task{
		{ID: "a", Duration: 2, ConstraintStart: &floor},
		task("b", 1),
	}
	res, err := Compute(tasks, []Dependency{dep("d1", "a", "b", FinishToStart, 0)})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if res.Tasks["a"].EarlyStart != 4 {
		t.Fatalf("expected constrained ES=4, got %d", res.Tasks["a"].EarlyStart)
	}
	if res.Tasks["b"].EarlyStart != 6 {
		t.Fatalf("expected successor ES=6, got %d", res.Tasks["b"].EarlyStart)
	}
}

func TestComputeNegativeLagLead(t *testing.T) {
	// FS with lead: B may start 2 days before A finishes.
	res, err := Compute(
		[]Task{task("a", 5), task("b", 3)},
		[]Dependency{dep("d1", "a", "b", FinishToStart, -2)},
	)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if res.Tasks["b"].EarlyStart != 3 {
		t.Fatalf("expected B ES=3, got %d", res.Tasks["b"].EarlyStart)
	}
}

func TestComputeCycleDetected(t *testing.T) {
	tasks := []Task{task("a", 1), task("b", 1), task("c", 1)}
	deps := []Dependency{
		dep("d1", "a", "b", FinishToStart, 0),
		dep("d2", "b", "c", FinishToStart, 0),
		dep("d3", "c", "a", FinishToStart, 0),
	}
	_, err := Compute(tasks, deps)
	var cerr CyclicDependencyError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CyclicDependencyError, got %v", err)
	}
	if cerr.DependencyID == "" {
		t.Fatalf("expected offending dependency id")
	}
}

func TestComputeOrphanDependency(t *testing.T) {
	_, err := Compute(
		[]Task{task("a", 1)},
		[]Dependency{dep("d1", "a", "ghost", FinishToStart, 0)},
	)
	var oerr OrphanDependencyError
	if !errors.As(err, &oerr) {
		t.Fatalf("expected OrphanDependencyError, got %v", err)
	}
	if oerr.TaskID != "ghost" || oerr.DependencyID != "d1" {
		t.Fatalf("unexpected orphan details: %+v", oerr)
	}
}

func TestComputeInvalidDuration(t *testing.T) {
	_, err := Compute([]Task{task("a", -1)}, nil)
	var derr InvalidDurationError
	if !errors.As(err, &derr) {
		t.Fatalf("expected InvalidDurationError, got %v", err)
	}
}

func TestComputeIdempotent(t *testing.T) {
	tasks := []Task{task("a", 2), task("b", 3), task("c", 4)}
	deps := []Dependency{
		dep("d1", "a", "b", FinishToStart, 1),
		dep("d2", "a", "c", StartToStart, 2),
	}
	first, err := Compute(tasks, deps)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Compute(tasks, deps)
	if err != nil {
		t.Fatal(err)
	}
	for id, ts := range first.Tasks {
		other := second.Tasks[id]
		if *ts != *other {
			t.Fatalf("task %s differs between runs: %+v vs %+v", id, ts, other)
		}
	}
}

func TestComputeEmptyProject(t *testing.T) {
	res, err := Compute(nil, nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if res.CriticalPathDuration != 0 || len(res.Tasks) != 0 {
		t.Fatalf("expected empty result")
	}
}

func TestTopoOrderDeterministic(t *testing.T) {
	tasks := []Task{task("z", 1), task("m", 1), task("a", 1)}
	g, err := BuildGraph(tasks, nil)
	if err != nil {
		t.Fatal(err)
	}
	order := g.TopoOrder()
	want := []string{"a", "m", "z"}
	for i, idx := range order {
		if g.tasks[idx].ID != want[i] {
			t.Fatalf("expected id-sorted order %v", want)
		}
	}
}
