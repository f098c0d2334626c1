package workflow

import (
	"fmt"
	"strings"
)

// ValidateTaskGraph checks the depends_on references between tasks for
// cycles and returns the task ids in prerequisite-first order. References
// to unknown task ids are ignored here; reference validation reports those
// separately.
func ValidateTaskGraph(taskIDs []string, dependsOn map[string][]string) ([]string, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}

	w := &graphWalk{
		deps:    dependsOn,
		known:   make(map[string]bool, len(taskIDs)),
		done:    make(map[string]bool, len(taskIDs)),
		onTrail: make(map[string]int),
	}
	for _, id := range taskIDs {
		w.known[id] = true
	}
	for _, id := range taskIDs {
		if err := w.visit(id); err != nil {
			return nil, err
		}
	}
	return w.order, nil
}

// graphWalk is a depth-first walk over depends_on edges. trail holds the
// active path so a back-edge can be reported with the whole loop.
type graphWalk struct {
	deps    map[string][]string
	known   map[string]bool
	done    map[string]bool
	onTrail map[string]int
	trail   []string
	order   []string
}

func (w *graphWalk) visit(id string) error {
	if w.done[id] {
		return nil
	}
	if at, ok := w.onTrail[id]; ok {
		loop := append(append([]string(nil), w.trail[at:]...), id)
		return fmt.Errorf("circular dependency among tasks: %s", strings.Join(loop, " -> "))
	}

	w.onTrail[id] = len(w.trail)
	w.trail = append(w.trail, id)
	for _, dep := range w.deps[id] {
		if !w.known[dep] {
			continue
		}
		if err := w.visit(dep); err != nil {
			return err
		}
	}
	w.trail = w.trail[:len(w.trail)-1]
	delete(w.onTrail, id)

	w.done[id] = true
	w.order = append(w.order, id)
	return nil
}
