package core

import "os"

func GetVersion() string {
	if version := os.Getenv("DAGRUN_VERSION"); version != "" {
		return version
	}
	return "v0"
}

// -----------------------------------------------------------------------------
// Component Type
// -----------------------------------------------------------------------------

type ComponentType string

const (
	ComponentWorkflow ComponentType = "workflow"
	ComponentTask     ComponentType = "task"
)

// -----------------------------------------------------------------------------
// Status
// -----------------------------------------------------------------------------

type StatusType string

const (
	StatusPending  StatusType = "PENDING"
	StatusReady    StatusType = "READY"
	StatusRunning  StatusType = "RUNNING"
	StatusSuccess  StatusType = "SUCCESS"
	StatusSkipped  StatusType = "SKIPPED"
	StatusFailed   StatusType = "FAILED"
	StatusCanceled StatusType = "CANCELED"
	StatusTimedOut StatusType = "TIMED_OUT"
)

func (s StatusType) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition can happen for s.
func (s StatusType) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusSkipped, StatusFailed, StatusCanceled, StatusTimedOut:
		return true
	}
	return false
}

// SatisfiesDependency reports whether a dependent task may become ready
// when its upstream finished with s. Skipped upstreams satisfy dependents;
// reading their output is a template concern, not a scheduling one.
func (s StatusType) SatisfiesDependency() bool {
	return s == StatusSuccess || s == StatusSkipped
}
