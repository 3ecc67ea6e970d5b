package model

import "errors"

// Error kinds returned by the retrieval engines, the conversation store, and
// the orchestration loop. Callers classify failures with errors.Is; everything
// else wraps one of these sentinels.
var (
	// ErrInvalidArgument marks a malformed request: bad filter values, empty
	// query text, out-of-range limits. Never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound marks a lookup for a (user_id, chat_id) pair that was never
	// created.
	ErrNotFound = errors.New("not found")

	// ErrUpstream marks a failure in an external collaborator: catalog store,
	// vector index, embedding service, or reasoning backend.
	ErrUpstream = errors.New("upstream unavailable")

	// ErrIterationLimit marks an orchestration turn that exceeded the maximum
	// reasoning iterations. Fatal for the turn only; the session stays usable.
	ErrIterationLimit = errors.New("iteration limit exceeded")
)
