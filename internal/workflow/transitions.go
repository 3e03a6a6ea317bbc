package workflow

import "github.com/garyjia/contract-pipeline/internal/domain/entity"

// allowedTransitions is the exhaustive legal-transition table. Terminal states
// map to an empty set. Adding a state requires an entry here; Transition
// refuses anything not listed.
var allowedTransitions = map[entity.State][]entity.State{
	entity.StatePending:        {entity.StateParsingPDF},
	entity.StateParsingPDF:     {entity.StateExtracting, entity.StateFailed},
	entity.StateExtracting:     {entity.StateValidating, entity.StateFailed},
	entity.StateValidating:     {entity.StateValidated, entity.StateReviewRequired, entity.StateFailed},
	entity.StateReviewRequired: {entity.StateValidated, entity.StateRejected, entity.StateTimedOut},
	entity.StateValidated:      {entity.StateComparing},
	entity.StateComparing:      {entity.StateCompleted, entity.StateFailed},
	entity.StateFailed:         {entity.StateParsingPDF, entity.StateExtracting, entity.StateValidating, entity.StateComparing, entity.StateRejected},
	entity.StateCompleted:      {},
	entity.StateRejected:       {},
	entity.StateTimedOut:       {},
}

// CanTransition reports whether the table permits from → to.
func CanTransition(from, to entity.State) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedFrom returns the legal target states from the given state.
func AllowedFrom(from entity.State) []entity.State {
	targets := allowedTransitions[from]
	out := make([]entity.State, len(targets))
	copy(out, targets)
	return out
}
