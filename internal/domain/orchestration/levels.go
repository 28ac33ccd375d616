package orchestration

import (
	"fmt"

	"github.com/calier/moxie/internal/domain"
)

// Dependencies maps an agent name to the agents whose outputs it requires.
type Dependencies map[string][]string

// Validate rejects cyclic dependency graphs. Cycles are a configuration
// error; they are never recovered from at request time.
func (d Dependencies) Validate() error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(d))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("%w: at %q", domain.ErrCycle, name)
		case done:
			return nil
		}
		state[name] = visiting
		for _, dep := range d[name] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}

	for name := range d {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

// Levels partitions the given agents into executable layers: an agent sits
// one level below the deepest of its prerequisites. Agents with no declared
// prerequisites (or whose prerequisites are not part of this request) form
// level 0. Input order is preserved within each level.
//
// The receiver must have passed Validate; Levels does not re-check for cycles.
func (d Dependencies) Levels(agents []string) [][]string {
	selected := make(map[string]bool, len(agents))
	for _, a := range agents {
		selected[a] = true
	}

	depth := make(map[string]int, len(agents))
	var depthOf func(name string) int
	depthOf = func(name string) int {
		if v, ok := depth[name]; ok {
			return v
		}
		max := 0
		for _, dep := range d[name] {
			if !selected[dep] {
				continue // prerequisite not selected for this request
			}
			if v := depthOf(dep) + 1; v > max {
				max = v
			}
		}
		depth[name] = max
		return max
	}

	maxDepth := 0
	for _, a := range agents {
		if v := depthOf(a); v > maxDepth {
			maxDepth = v
		}
	}

	levels := make([][]string, maxDepth+1)
	for _, a := range agents {
		lv := depth[a]
		levels[lv] = append(levels[lv], a)
	}
	return levels
}

// Prerequisites returns the selected prerequisites of the given agent.
func (d Dependencies) Prerequisites(agent string, selected map[string]bool) []string {
	var out []string
	for _, dep := range d[agent] {
		if selected[dep] {
			out = append(out, dep)
		}
	}
	return out
}
