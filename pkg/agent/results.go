package agent

import "maps"

// Results is the output of the plan steps run so far, keyed by step_<n>.
// Values are never mutated in place: With returns an extended copy.
type Results struct {
	values map[string]any
}

func (r Results) With(key string, value any) Results {
	next := make(map[string]any, len(r.values)+1)
	maps.Copy(next, r.values)
	next[key] = value

	return Results{values: next}
}

func (r Results) Len() int {
	return len(r.values)
}

// Map returns a copy safe to hand out.
func (r Results) Map() map[string]any {
	out := make(map[string]any, len(r.values))
	maps.Copy(out, r.values)

	return out
}
