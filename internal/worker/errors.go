package worker

import "errors"

// Error taxonomy for the states worker, matching the contract's error
// kinds: InvalidRecipe, NoManager, AdaptError/ExecError, WaitFormatError,
// WatchIOError. The child never raises outward — every failure surfaces as
// a StateResult triple; these sentinels are for the parent-side operations
// that do raise (load) and for classifying what produced a FAIL comment.
var (
	// ErrInvalidRecipe is returned by Load when states is present but
	// empty or malformed.
	ErrInvalidRecipe = errors.New("invalid recipe")

	// ErrNoManager marks a transient send failure caused by no Manager
	// being configured; callers should retry, never surface this to a user.
	ErrNoManager = errors.New("no manager configured")

	// ErrWaitFormat marks a malformed meta.wait state (missing/invalid id).
	ErrWaitFormat = errors.New("wrong wait request")

	// ErrWatchIO marks a failure to read a watched file during watch
	// pre-processing.
	ErrWatchIO = errors.New("watched file error")
)
