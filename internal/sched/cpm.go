package sched

// Compute runs the full critical path method over a project's tasks and
// dependencies: build and validate the graph, forward pass, backward pass,
// float derivation. All values are whole-day offsets from the project start.
func Compute(tasks []Task, deps []Dependency) (*Result, error) {
	for _, t := range tasks {
		if t.Duration < 0 {
			return nil, InvalidDurationError{TaskID: t.ID, Duration: t.Duration}
		}
	}
	g, err := BuildGraph(tasks, deps)
	if err != nil {
		return nil, err
	}
	order := g.TopoOrder()

	result := &Result{
		Tasks:     make(map[string]*TaskSchedule, len(tasks)),
		TopoOrder: make([]string, 0, len(tasks)),
	}
	byIndex := make([]*TaskSchedule, len(tasks))
	for _, i := range order {
		t := g.tasks[i]
		ts := &TaskSchedule{TaskID: t.ID, Duration: t.Duration}
		byIndex[i] = ts
		result.Tasks[t.ID] = ts
		result.TopoOrder = append(result.TopoOrder, t.ID)
	}

	// Forward pass. Every predecessor is final before its successors are
	// visited, which is what the topological order guarantees.
	for _, i := range order {
		t := g.tasks[i]
		ts := byIndex[i]
		es := 0
		for _, e := range g.in[i] {
			pred := byIndex[e.from]
			if b := earlyBound(e.dep.Type, pred.EarlyStart, pred.EarlyFinish, e.dep.Lag, t.Duration); b > es {
				es = b
			}
		}
		if t.ConstraintStart != nil && *t.ConstraintStart > es {
			es = *t.ConstraintStart
		}
		ts.EarlyStart = es
		ts.EarlyFinish = es + t.Duration
		if ts.EarlyFinish > result.ProjectFinish {
			result.ProjectFinish = ts.EarlyFinish
		}
	}

	// Backward pass in reverse topological order. Terminal tasks anchor at
	// the project finish.
	for k := len(order) - 1; k >= 0; k-- {
		i := order[k]
		t := g.tasks[i]
		ts := byIndex[i]
		lf := result.ProjectFinish
		if ts.EarlyFinish > lf {
			lf = ts.EarlyFinish
		}
		for _, e := range g.out[i] {
			succ := byIndex[e.to]
			if b := lateBound(e.dep.Type, succ.LateStart, succ.LateFinish, e.dep.Lag, t.Duration); b < lf {
				lf = b
			}
		}
		ts.LateFinish = lf
		ts.LateStart = lf - t.Duration
	}

	minES := 0
	for k, i := range order {
		ts := byIndex[i]
		ts.TotalFloat = ts.LateStart - ts.EarlyStart
		if ts.TotalFloat < 0 {
			return nil, NegativeFloatError{TaskID: ts.TaskID, Float: ts.TotalFloat}
		}
		ts.IsCritical = ts.TotalFloat == 0
		if k == 0 || ts.EarlyStart < minES {
			minES = ts.EarlyStart
		}
	}
	for _, id := range result.TopoOrder {
		if result.Tasks[id].IsCritical {
			result.CriticalPath = append(result.CriticalPath, id)
		}
	}
	if len(tasks) > 0 {
		result.CriticalPathDuration = result.ProjectFinish - minES
	}
	return result, nil
}
