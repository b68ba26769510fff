package dag

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// LoadWorkflow reads a workflow definition from a YAML file. Each task's
// depends_on list is appended to the explicit edges, and the result is
// validated before it is returned.
//
//	name: content
//	tasks:
//	  - key: intent
//	    role: planner
//	  - key: plan
//	    role: planner
//	    depends_on: [intent]
func LoadWorkflow(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dag: reading %s: %w", path, err)
	}
	return ParseWorkflow(data)
}

// ParseWorkflow decodes and validates a YAML workflow definition.
func ParseWorkflow(data []byte) (*Workflow, error) {
	var w Workflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("dag: parsing workflow: %w", err)
	}

	seen := make(map[Edge]bool, len(w.Edges))
	for _, e := range w.Edges {
		seen[e] = true
	}
	for _, t := range w.Tasks {
		for _, from := range t.DependsOn {
			e := Edge{From: from, To: t.Key}
			if !seen[e] {
				seen[e] = true
				w.Edges = append(w.Edges, e)
			}
		}
	}

	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}
