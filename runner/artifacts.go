package runner

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/kbukum/agentflow/agent"
	"github.com/kbukum/agentflow/dag"
	"github.com/kbukum/agentflow/taskgraph"
)

// kindFor returns the artifact kind a task produces. The intent task
// produces none.
func kindFor(task *taskgraph.Task) (taskgraph.ArtifactKind, bool) {
	if task.TaskKey == dag.KeyIntent {
		return "", false
	}
	switch agent.Role(task.Role) {
	case agent.RolePlanner:
		return taskgraph.ArtifactPlan, true
	case agent.RoleBuilder:
		return taskgraph.ArtifactCode, true
	case agent.RoleAsset:
		return taskgraph.ArtifactImageManifest, true
	case agent.RoleQA:
		return taskgraph.ArtifactQAReport, true
	case agent.RolePublisher:
		return taskgraph.ArtifactPublishResult, true
	default:
		return "", false
	}
}

// artifactsFor derives the durable artifacts of a successful task. Code
// tasks produce one artifact per file.
func artifactsFor(jobID uuid.UUID, task *taskgraph.Task, output map[string]any, now time.Time) []*taskgraph.Artifact {
	kind, ok := kindFor(task)
	if !ok {
		return nil
	}
	newArtifact := func(content, meta map[string]any) *taskgraph.Artifact {
		a := &taskgraph.Artifact{
			JobID:     jobID,
			TaskID:    task.ID,
			Kind:      kind,
			Content:   datatypes.JSONMap(content),
			CreatedAt: now,
		}
		if meta != nil {
			a.Metadata = datatypes.JSONMap(meta)
		}
		return a
	}

	switch kind {
	case taskgraph.ArtifactCode:
		var out []*taskgraph.Artifact
		for _, f := range Files(output["files"]) {
			out = append(out, newArtifact(
				map[string]any{"path": f.Path, "content": f.Content},
				map[string]any{"size": len(f.Content), "taskKey": task.TaskKey},
			))
		}
		return out
	case taskgraph.ArtifactImageManifest:
		images := output["images"]
		if images == nil {
			images = []any{}
		}
		return []*taskgraph.Artifact{newArtifact(map[string]any{"images": images}, nil)}
	case taskgraph.ArtifactQAReport:
		findings := output["findings"]
		if findings == nil {
			findings = []any{}
		}
		return []*taskgraph.Artifact{newArtifact(map[string]any{"issues": output["issues"], "findings": findings}, nil)}
	default:
		content := map[string]any{}
		for k, v := range output {
			content[k] = v
		}
		return []*taskgraph.Artifact{newArtifact(content, nil)}
	}
}

// File is a generated source file.
type File struct {
	Path    string `json:"path" validate:"required"`
	Content string `json:"content"`
}

// Files reads a list of {path, content} objects from an agent output value.
// Entries without a string path are dropped.
func Files(v any) []File {
	var items []map[string]any
	switch list := v.(type) {
	case []any:
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				items = append(items, m)
			}
		}
	case []map[string]any:
		items = list
	case []File:
		return list
	}

	files := make([]File, 0, len(items))
	for _, m := range items {
		path, ok := m["path"].(string)
		if !ok {
			continue
		}
		content, _ := m["content"].(string)
		files = append(files, File{Path: path, Content: content})
	}
	return files
}
