package orchestrator

import (
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/kbukum/agentflow/agent"
	"github.com/kbukum/agentflow/dag"
	apperrors "github.com/kbukum/agentflow/errors"
	"github.com/kbukum/agentflow/runner"
	"github.com/kbukum/agentflow/validation"
)

// EntryPoints are the file paths that make a generated site loadable.
var EntryPoints = []string{
	"index.html",
	"src/main.tsx",
	"src/main.jsx",
	"src/App.tsx",
	"src/App.jsx",
	"main.go",
}

const entryPointTag = "entrypoint"

// Result is the assembled output of a successful run.
type Result struct {
	Files   []runner.File `json:"files" validate:"required,min=1,entrypoint,dive"`
	Images  []any         `json:"images"`
	Summary string        `json:"summary" validate:"required"`
	QA      QAReport      `json:"qa"`
}

// QAReport is the review summary carried with the result.
type QAReport struct {
	Issues   *float64 `json:"issues" validate:"required,gte=0"`
	Findings []any    `json:"findings" validate:"required"`
}

// Assemble builds a Result from the outputs of succeeded tasks keyed by
// task key. Files come from fix when it produced any, else from codegen.
func Assemble(outputs map[string]map[string]any) Result {
	files := runner.Files(outputs[dag.KeyFix]["files"])
	if len(files) == 0 {
		files = runner.Files(outputs[dag.KeyCodegen]["files"])
	}

	images, _ := outputs[dag.KeyAsset]["images"].([]any)
	if images == nil {
		images = []any{}
	}

	summary := stringField(outputs[dag.KeyPublishPrep], "summary")
	if summary == "" {
		summary = stringField(outputs[dag.KeyPlan], "summary")
	}

	var qa QAReport
	if review, ok := outputs[dag.KeyQAReview]; ok {
		if n, ok := agent.Number(review["issues"]); ok {
			qa.Issues = &n
		}
		qa.Findings, _ = review["findings"].([]any)
	}

	return Result{Files: files, Images: images, Summary: summary, QA: qa}
}

var registerOnce sync.Once

// Validate checks r against the output contract and returns an
// OUTPUT_INVALID error listing every violation.
func Validate(r Result) error {
	registerOnce.Do(func() {
		if err := validation.RegisterValidation(entryPointTag, hasEntryPoint); err != nil {
			panic(err)
		}
	})
	return validation.ValidateAs(r, apperrors.ErrCodeOutputInvalid)
}

func hasEntryPoint(fl validator.FieldLevel) bool {
	files, ok := fl.Field().Interface().([]runner.File)
	if !ok {
		return false
	}
	return slices.ContainsFunc(files, func(f runner.File) bool {
		return slices.Contains(EntryPoints, strings.TrimPrefix(f.Path, "./"))
	})
}

// EventData is the caller-facing completion payload.
func (r Result) EventData() map[string]any {
	files := make([]map[string]any, 0, len(r.Files))
	for _, f := range r.Files {
		files = append(files, map[string]any{"path": f.Path, "content": f.Content})
	}
	return map[string]any{
		"type":    EventCompleted,
		"files":   files,
		"images":  r.Images,
		"summary": r.Summary,
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}
