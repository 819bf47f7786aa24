package scope

// ChangeKind classifies which project attribute a proposed change touches.
type ChangeKind string

const (
	ChangeMaterial      ChangeKind = "material"
	ChangeSize          ChangeKind = "size"
	ChangeFeatureAdd    ChangeKind = "feature_addition"
	ChangeFeatureRemove ChangeKind = "feature_removal"
	ChangeTimeline      ChangeKind = "timeline"
	ChangeBudget        ChangeKind = "budget"
)

// Valid reports whether the kind is one of the closed set.
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeMaterial, ChangeSize, ChangeFeatureAdd, ChangeFeatureRemove, ChangeTimeline, ChangeBudget:
		return true
	}
	return false
}

// Candidate is one detected scope-change proposal. Value hints are best
// effort; FieldPath and ChangeKind are always populated when any signal
// exists, even if extraction of the values was ambiguous.
type Candidate struct {
	ChangeKind   ChangeKind `json:"change_kind"`
	FieldPath    string     `json:"field_path"`
	OldValueHint string     `json:"old_value_hint,omitempty"`
	NewValueHint string     `json:"new_value_hint,omitempty"`
	Confidence   float64    `json:"confidence"`
}

// Qualified filters candidates at or above the minimum detection confidence.
// Sub-threshold candidates are still persisted for audit and tuning, but they
// never reach the decision engine.
func Qualified(candidates []Candidate, minConfidence float64) []Candidate {
	var out []Candidate
	for _, c := range candidates {
		if c.Confidence >= minConfidence {
			out = append(out, c)
		}
	}
	return out
}
