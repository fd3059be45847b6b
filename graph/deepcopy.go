package graph

import "encoding/json"

// deepCopy produces an independent copy of state via JSON round-trip.
// State types used with Engine must be JSON-serializable (the same
// requirement CheckpointV2 already imposes for persistence), so this
// is sufficient to isolate concurrent branches from each other without
// requiring every state type to implement its own Clone method.
func deepCopy[S any](state S) (S, error) {
	var out S
	buf, err := json.Marshal(state)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(buf, &out); err != nil {
		return out, err
	}
	return out, nil
}

// deepCopyState is the WorkItem-oriented alias used by the concurrent
// scheduler paths; it has identical semantics to deepCopy.
func deepCopyState[S any](state S) (S, error) {
	return deepCopy(state)
}
