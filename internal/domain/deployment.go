package domain

import (
	"fmt"
	"strings"
	"time"
)

// Sink names the deployment targets in the order they are written.
type Sink string

const (
	SinkSpec      Sink = "spec"
	SinkDocuments Sink = "documents"
	SinkRoster    Sink = "roster"
	SinkTasks     Sink = "tasks"
)

// Label is the display form of a sink name.
func (s Sink) Label() string {
	switch s {
	case SinkSpec:
		return "Spec"
	case SinkDocuments:
		return "Documents"
	case SinkRoster:
		return "Roster"
	case SinkTasks:
		return "Tasks"
	}
	return string(s)
}

// SinkResult records the outcome of writing one sink.
type SinkResult struct {
	Sink  Sink   `json:"sink"`
	OK    bool   `json:"ok"`
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

// String renders the result as "Tasks: ok (3)" or "Documents: failed: reason".
func (r SinkResult) String() string {
	if !r.OK {
		return fmt.Sprintf("%s: failed: %s", r.Sink.Label(), r.Error)
	}
	if r.Sink == SinkTasks || r.Sink == SinkDocuments {
		return fmt.Sprintf("%s: ok (%d)", r.Sink.Label(), r.Count)
	}
	return r.Sink.Label() + ": ok"
}

// DeploymentReport enumerates per-sink outcomes of a deployment.
type DeploymentReport struct {
	ProjectID  string       `json:"project_id"`
	Results    []SinkResult `json:"results"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Succeeded reports whether every sink was written.
func (r DeploymentReport) Succeeded() bool {
	for _, res := range r.Results {
		if !res.OK {
			return false
		}
	}
	return len(r.Results) > 0
}

// Result returns the outcome for one sink.
func (r DeploymentReport) Result(s Sink) (SinkResult, bool) {
	for _, res := range r.Results {
		if res.Sink == s {
			return res, true
		}
	}
	return SinkResult{}, false
}

// Summary renders all results on one line.
func (r DeploymentReport) Summary() string {
	parts := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		parts = append(parts, res.String())
	}
	return strings.Join(parts, ", ")
}

// EventKind identifies a change notification.
type EventKind string

const (
	EventSpecUpdated   EventKind = "spec.updated"
	EventRosterUpdated EventKind = "roster.updated"
	EventTasksCreated  EventKind = "tasks.created"
	EventConfigChanged EventKind = "config.changed"
)

// Event is a fire-and-forget notification for other UI surfaces.
type Event struct {
	Kind      EventKind `json:"kind"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}
