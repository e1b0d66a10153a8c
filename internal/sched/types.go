package sched

// DepType is a closed set of precedence semantics. The zero value is not valid.
type DepType string

const (
	FinishToStart  DepType = "FS"
	StartToStart   DepType = "SS"
	FinishToFinish DepType = "FF"
	StartToFinish  DepType = "SF"
)

// Valid reports whether t is one of the four dependency types.
func (t DepType) Valid() bool {
	switch t {
	case FinishToStart, StartToStart, FinishToFinish, StartToFinish:
		return true
	}
	return false
}

// Task is the scheduler's view of a task: identity, duration in whole days,
// and an optional earliest-permissible-start floor as a day offset from the
// project start date.
type Task struct {
	ID              string
	Duration        int
	ConstraintStart *int
}

// Dependency is a typed predecessor->successor edge with signed lag in days.
type Dependency struct {
	ID            string
	PredecessorID string
	SuccessorID   string
	Type          DepType
	Lag           int
}

// TaskSchedule holds the computed dates for one task, as day offsets.
type TaskSchedule struct {
	TaskID      string
	Duration    int
	EarlyStart  int
	EarlyFinish int
	LateStart   int
	LateFinish  int
	TotalFloat  int
	IsCritical  bool
}

// Result is the outcome of a full forward/backward pass.
type Result struct {
	Tasks map[string]*TaskSchedule
	// TopoOrder is the topological order the passes used, deterministic
	// (ties broken by task id).
	TopoOrder []string
	// CriticalPath lists zero-float tasks in topological order.
	CriticalPath []string
	// CriticalPathDuration is the overall project span: the project's
	// Early Finish minus the Early Start of the first task(s).
	CriticalPathDuration int
	// ProjectFinish is the maximum Early Finish over all tasks.
	ProjectFinish int
}

// earlyBound returns the lower bound a dependency places on its successor's
// Early Start, given the predecessor's early dates and the successor duration.
func earlyBound(t DepType, predES, predEF, lag, succDur int) int {
	switch t {
	case FinishToStart:
		return predEF + lag
	case StartToStart:
		return predES + lag
	case FinishToFinish:
		return predEF + lag - succDur
	case StartToFinish:
		return predES + lag - succDur
	}
	return predEF + lag
}

// lateBound returns the upper bound a dependency places on its predecessor's
// Late Finish, given the successor's late dates and the predecessor duration.
func lateBound(t DepType, succLS, succLF, lag, predDur int) int {
	switch t {
	case FinishToStart:
		return succLS - lag
	case StartToStart:
		return succLS - lag + predDur
	case FinishToFinish:
		return succLF - lag
	case StartToFinish:
		return succLF - lag + predDur
	}
	return succLS - lag
}
