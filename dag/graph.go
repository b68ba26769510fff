package dag

import "fmt"

// Levels groups task keys by dependency level using Kahn's algorithm.
// Keys within a level may run in parallel and keep definition order.
// Returns an error if an edge names an unknown key or a cycle exists.
func Levels(w *Workflow) ([][]string, error) {
	inDegree := make(map[string]int, len(w.Tasks))
	dependents := make(map[string][]string)

	for _, t := range w.Tasks {
		inDegree[t.Key] = 0
	}
	for _, e := range w.Edges {
		if _, ok := inDegree[e.From]; !ok {
			return nil, fmt.Errorf("dag: edge references unknown task %q", e.From)
		}
		if _, ok := inDegree[e.To]; !ok {
			return nil, fmt.Errorf("dag: edge references unknown task %q", e.To)
		}
		inDegree[e.To]++
		dependents[e.From] = append(dependents[e.From], e.To)
	}

	order := make(map[string]int, len(w.Tasks))
	for i, t := range w.Tasks {
		order[t.Key] = i
	}

	var queue []string
	for _, t := range w.Tasks {
		if inDegree[t.Key] == 0 {
			queue = append(queue, t.Key)
		}
	}

	var levels [][]string
	visited := 0
	for len(queue) > 0 {
		levels = append(levels, queue)
		visited += len(queue)

		var next []string
		for _, key := range queue {
			for _, dep := range dependents[key] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = insertByOrder(next, dep, order)
				}
			}
		}
		queue = next
	}

	if visited != len(w.Tasks) {
		return nil, fmt.Errorf("dag: cycle detected, processed %d of %d tasks", visited, len(w.Tasks))
	}
	return levels, nil
}

func insertByOrder(keys []string, key string, order map[string]int) []string {
	i := len(keys)
	for i > 0 && order[keys[i-1]] > order[key] {
		i--
	}
	keys = append(keys, "")
	copy(keys[i+1:], keys[i:])
	keys[i] = key
	return keys
}

// Predecessors returns the keys each task depends on.
func Predecessors(w *Workflow) map[string][]string {
	preds := make(map[string][]string, len(w.Tasks))
	for _, e := range w.Edges {
		preds[e.To] = append(preds[e.To], e.From)
	}
	return preds
}
