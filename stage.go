package stagegraph

import (
	"encoding/json"
	"fmt"
)

// StatusPending is the lifecycle status assigned to newly added stages.
// Callers may overwrite it with any status string of their own.
const StatusPending = "pending"

// Stage represents one unit of work in a pipeline's dependency graph.
// DependsOn lists the names of prerequisite stages (edge direction:
// dependent → dependency). Config is an opaque payload owned by the caller.
type Stage struct {
	Name      string          `json:"name"`
	DependsOn DepList         `json:"depends_on,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
	Status    string          `json:"status,omitempty"`
}

// Graph is the mutable collection of all stages at a point in time,
// keyed by stage name.
type Graph map[string]Stage

// DepList is an ordered list of stage names. On the wire a dependency field
// may be either a bare string or an array of strings; both forms normalize
// to a DepList at ingestion so the ambiguity never reaches the detector.
type DepList []string

// UnmarshalJSON accepts "a" or ["a", "b"]. Anything else fails fast —
// silent coercion could mask a real cycle.
func (d *DepList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = nil
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*d = DepList{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("stagegraph: depends_on must be a string or an array of strings: %w", err)
	}
	*d = DepList(many)
	return nil
}

// Dependencies returns the name → dependency-list mapping for the graph.
// Slices are copied so callers can't reach back into the graph.
func (g Graph) Dependencies() map[string][]string {
	deps := make(map[string][]string, len(g))
	for name, s := range g {
		deps[name] = append([]string{}, s.DependsOn...)
	}
	return deps
}

// clone returns a shallow copy of the graph. Stage values are copied by
// value; DependsOn slices are shared, which is safe because no operation
// mutates a DepList in place.
func (g Graph) clone() Graph {
	out := make(Graph, len(g))
	for name, s := range g {
		out[name] = s
	}
	return out
}
