// ============================================================================
// Watch-based trigger
// ============================================================================
//
// File: watchtrigger.go
// Purpose: pre-process a state's reserved "watch" parameter against the
// Checksum store before handing the state to the Child Executor, turning
// file content changes into a "run triggered" flag the module can read.
// ============================================================================

package worker

import (
	"fmt"

	"github.com/opslink/states-agent/internal/checksum"
	"github.com/opslink/states-agent/pkg/types"
)

// preprocessWatch returns a copy of state with its "watch" parameter
// resolved against store: the list of watched paths is replaced by a
// boolean parameter["watch"], true only if at least one watched file's
// content changed since the last time this sid observed it. A path with no
// prior digest establishes a baseline and does not trigger. Failure to
// read a watched file is reported as WatchIOError.
func preprocessWatch(store *checksum.Store, state types.State) (types.State, error) {
	rawWatch, ok := state.Parameter["watch"]
	if !ok {
		return state, nil
	}

	paths, err := toStringSlice(rawWatch)
	if err != nil {
		return state, fmt.Errorf("%w: %v", ErrWatchIO, err)
	}

	triggered := false
	for _, path := range paths {
		status, err := store.Observe(state.ID, path)
		if err != nil {
			return state, fmt.Errorf("%w: %s: %v", ErrWatchIO, path, err)
		}
		if status == checksum.StatusTriggered {
			triggered = true
		}
	}

	out := state
	out.Parameter = make(map[string]any, len(state.Parameter))
	for k, v := range state.Parameter {
		if k == "watch" {
			continue
		}
		out.Parameter[k] = v
	}
	if triggered {
		out.Parameter["watch"] = true
	}
	return out, nil
}

func toStringSlice(v any) ([]string, error) {
	list, ok := v.([]any)
	if !ok {
		if strs, ok := v.([]string); ok {
			return strs, nil
		}
		return nil, fmt.Errorf("watch parameter must be a list of paths")
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("watch parameter entries must be strings")
		}
		out = append(out, s)
	}
	return out, nil
}
