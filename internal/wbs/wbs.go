// Package wbs recomputes dotted Work Breakdown Structure codes over a
// task hierarchy after structural edits.
package wbs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxDepth is the deepest nesting the hierarchy allows.
const MaxDepth = 5

// Node is the renumberer's view of a task: identity, optional parent, the
// current code (used to keep sibling order stable), and a creation ordinal
// used as a tie-break for tasks that have never been numbered.
type Node struct {
	ID       string
	ParentID *string
	Code     string
	Ordinal  int
}

// DepthExceededError reports a task that would end up nested deeper than
// MaxDepth levels. No codes are assigned when this is returned.
type DepthExceededError struct {
	TaskID string
	Depth  int
}

func (e DepthExceededError) Error() string {
	return fmt.Sprintf("task %s would be at depth %d, max is %d", e.TaskID, e.Depth, MaxDepth)
}

// Renumber assigns dotted codes ("1", "1.1", "1.2", "2") top-down,
// breadth-first by level. Children of each parent are ordered by their
// existing code (numeric segment comparison), falling back to creation
// order. Returns the new code per task id.
func Renumber(nodes []Node) (map[string]string, error) {
	children := make(map[string][]Node)
	for _, n := range nodes {
		parent := ""
		if n.ParentID != nil {
			parent = *n.ParentID
		}
		children[parent] = append(children[parent], n)
	}
	for parent := range children {
		siblings := children[parent]
		sort.SliceStable(siblings, func(a, b int) bool {
			if c := compareCodes(siblings[a].Code, siblings[b].Code); c != 0 {
				return c < 0
			}
			return siblings[a].Ordinal < siblings[b].Ordinal
		})
	}

	codes := make(map[string]string, len(nodes))
	type frame struct {
		id     string
		prefix string
		depth  int
	}
	queue := []frame{{id: "", prefix: "", depth: 0}}
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		for i, child := range children[f.id] {
			code := strconv.Itoa(i + 1)
			if f.prefix != "" {
				code = f.prefix + "." + code
			}
			depth := f.depth + 1
			if depth > MaxDepth {
				return nil, DepthExceededError{TaskID: child.ID, Depth: depth}
			}
			codes[child.ID] = code
			queue = append(queue, frame{id: child.ID, prefix: code, depth: depth})
		}
	}
	return codes, nil
}

// Depth returns the nesting level of a task id within the parent map
// (roots are depth 1). A missing parent link terminates the walk.
func Depth(id string, parentOf map[string]*string) int {
	depth := 0
	cur := &id
	for cur != nil {
		depth++
		next, ok := parentOf[*cur]
		if !ok {
			break
		}
		cur = next
	}
	return depth
}

// SubtreeDepth returns the height of the subtree rooted at id, counting id
// itself as 1.
func SubtreeDepth(id string, childrenOf map[string][]string) int {
	max := 1
	for _, c := range childrenOf[id] {
		if d := 1 + SubtreeDepth(c, childrenOf); d > max {
			max = d
		}
	}
	return max
}

// Compare orders dotted codes numerically segment by segment, so "1.10"
// sorts after "1.9". Non-numeric or empty codes sort last.
func Compare(a, b string) int {
	return compareCodes(a, b)
}

func compareCodes(a, b string) int {
	if a == "" || b == "" {
		switch {
		case a == b:
			return 0
		case a == "":
			return 1
		default:
			return -1
		}
	}
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		if aerr != nil || berr != nil {
			if c := strings.Compare(as[i], bs[i]); c != 0 {
				return c
			}
			continue
		}
		if an != bn {
			return an - bn
		}
	}
	return len(as) - len(bs)
}
