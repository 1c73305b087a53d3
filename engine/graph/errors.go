package graph

import (
	"fmt"
	"strings"
)

// BuildErrorCode classifies graph compilation failures.
type BuildErrorCode string

const (
	CodeDuplicateTaskID    BuildErrorCode = "DUPLICATE_TASK_ID"
	CodeUnknownDependency  BuildErrorCode = "UNKNOWN_DEPENDENCY"
	CodeCircularDependency BuildErrorCode = "CIRCULAR_DEPENDENCY"
)

// BuildError is one compilation failure. Cycle errors carry the closed path
// so the message can show "a -> b -> a".
type BuildError struct {
	Code    BuildErrorCode `json:"code"`
	TaskID  string         `json:"taskId,omitempty"`
	Message string         `json:"message"`
	Path    []string       `json:"path,omitempty"`
}

func (e *BuildError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("%s: task %s: %s", e.Code, e.TaskID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func duplicateTaskIDError(id string) *BuildError {
	return &BuildError{
		Code:    CodeDuplicateTaskID,
		TaskID:  id,
		Message: "step id appears more than once",
	}
}

func unknownDependencyError(id, dep, source string) *BuildError {
	msg := fmt.Sprintf("depends on unknown step %q", dep)
	if source != "dependsOn" {
		msg = fmt.Sprintf("references unknown step %q in %s", dep, source)
	}
	return &BuildError{
		Code:    CodeUnknownDependency,
		TaskID:  id,
		Message: msg,
	}
}

func circularDependencyError(path []string) *BuildError {
	return &BuildError{
		Code:    CodeCircularDependency,
		TaskID:  path[0],
		Message: fmt.Sprintf("dependency cycle: %s", strings.Join(path, " -> ")),
		Path:    path,
	}
}

// DependencyDiagnostic flags an ordering edge that exists only through a
// template reference, suggesting it be declared in dependsOn.
type DependencyDiagnostic struct {
	TaskID    string `json:"taskId"`
	DependsOn string `json:"dependsOn"`
	Source    string `json:"source"`
}

func (d DependencyDiagnostic) String() string {
	return fmt.Sprintf(
		"step %s reads tasks.%s in %s; consider declaring it in dependsOn",
		d.TaskID, d.DependsOn, d.Source,
	)
}
