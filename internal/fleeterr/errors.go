// Package fleeterr defines the typed error kinds shared across fleet
// subsystems, so callers can distinguish "bad input" from "not found"
// from "try again later" with errors.Is instead of string matching.
package fleeterr

import "errors"

// Kind sentinels. Wrap one of these with fmt.Errorf("...: %w", KindX) to
// produce a caller-facing error that still classifies with errors.Is.
var (
	// InvalidArgument: bad trust vector length, unknown tier, non-member voter.
	InvalidArgument = errors.New("invalid argument")
	// NotFound: agent/task/session does not exist.
	NotFound = errors.New("not found")
	// Conflict: duplicate vote, double assignment.
	Conflict = errors.New("conflict")
	// PreconditionFailed: insufficient eligible agents, tier mismatch, circuit broken.
	PreconditionFailed = errors.New("precondition failed")
	// Transient: backend temporarily disconnected, stale claim recovered.
	Transient = errors.New("transient")
	// Fatal: signature invalid, policy expired during apply, terminal-state mutation.
	Fatal = errors.New("fatal")
)

// Is reports whether err ultimately wraps kind.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
