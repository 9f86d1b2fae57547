package site

import "context"

// Source represents one artifact type that can be polled for its current
// downloads.
type Source interface {
	// Type returns the artifact type this source produces records for.
	Type() Type

	// Description returns a human-readable description of where the
	// artifact is looked up.
	Description() string

	// Fetch queries the upstream host once. It never returns an error:
	// failures are reported through the Result's outcome.
	Fetch(ctx context.Context) Result
}

// Outcome classifies a single fetch.
type Outcome string

const (
	Found   Outcome = "found"
	Empty   Outcome = "empty"
	Skipped Outcome = "skipped"
	Failed  Outcome = "failed"
)

// Result is what a Source produced in one cycle.
type Result struct {
	Outcome   Outcome
	Artifacts []Artifact
	Reason    string
	Err       error
}

func found(artifacts []Artifact) Result {
	if len(artifacts) == 0 {
		return emptyResult("no parseable artifacts")
	}
	return Result{Outcome: Found, Artifacts: artifacts}
}

func emptyResult(reason string) Result {
	return Result{Outcome: Empty, Reason: reason}
}

func skipped(reason string) Result {
	return Result{Outcome: Skipped, Reason: reason}
}

func failed(err error) Result {
	return Result{Outcome: Failed, Err: err, Reason: err.Error()}
}
