package delegation

import (
	"fmt"

	"github.com/avimaybee/twinclaw/pkg/models"
)

// validateDAG rejects a brief set with an unknown dependency or a cycle,
// and returns the brief set's children index (id -> ids that depend on it)
// for the scheduler's cascading cancellation.
func validateDAG(briefs []models.DelegationBrief) (map[string][]string, error) {
	byID := make(map[string]models.DelegationBrief, len(briefs))
	for _, b := range briefs {
		if _, dup := byID[b.ID]; dup {
			return nil, fmt.Errorf("duplicate brief id: %s", b.ID)
		}
		byID[b.ID] = b
	}

	children := make(map[string][]string, len(briefs))
	inDegree := make(map[string]int, len(briefs))
	for _, b := range briefs {
		inDegree[b.ID] = len(b.DependsOn)
		for _, dep := range b.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("brief %s depends on unknown brief %s", b.ID, dep)
			}
			children[dep] = append(children[dep], b.ID)
		}
	}

	queue := make([]string, 0, len(briefs))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, child := range children[id] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	if visited != len(briefs) {
		return nil, fmt.Errorf("delegation briefs contain a dependency cycle")
	}
	return children, nil
}

// descendants returns every brief id transitively reachable from id via
// the children index, used to cascade-cancel a failed job's dependents.
func descendants(children map[string][]string, id string) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(string)
	walk = func(cur string) {
		for _, child := range children[cur] {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			walk(child)
		}
	}
	walk(id)
	return out
}
