package entity

import "time"

// State represents a workflow state in the contract processing lifecycle.
// Values are wire literals and must not change.
type State string

const (
	StatePending        State = "pending"
	StateParsingPDF     State = "parsing_pdf"
	StateExtracting     State = "extracting"
	StateValidating     State = "validating"
	StateReviewRequired State = "review_required"
	StateValidated      State = "validated"
	StateComparing      State = "comparing"
	StateCompleted      State = "completed"
	StateRejected       State = "rejected"
	StateTimedOut       State = "timed_out"
	StateFailed         State = "failed"
)

var validStates = map[State]bool{
	StatePending:        true,
	StateParsingPDF:     true,
	StateExtracting:     true,
	StateValidating:     true,
	StateReviewRequired: true,
	StateValidated:      true,
	StateComparing:      true,
	StateCompleted:      true,
	StateRejected:       true,
	StateTimedOut:       true,
	StateFailed:         true,
}

var terminalStates = map[State]bool{
	StateCompleted: true,
	StateRejected:  true,
	StateTimedOut:  true,
}

// IsValid returns true if the state is a known workflow state.
func (s State) IsValid() bool {
	return validStates[s]
}

// IsTerminal returns true if no further transitions are allowed from the state.
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// AllStates returns every workflow state, in lifecycle order.
func AllStates() []State {
	return []State{
		StatePending, StateParsingPDF, StateExtracting, StateValidating,
		StateReviewRequired, StateValidated, StateComparing, StateCompleted,
		StateRejected, StateTimedOut, StateFailed,
	}
}

// Workflow is one document's end-to-end run through the pipeline.
type Workflow struct {
	ID             string
	VerticalID     string
	ProviderID     *string
	PDFStoragePath string
	PDFFilename    *string
	State          State
	RetryCount     int
	ErrorMessage   *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WorkflowStateLog is one append-only audit entry per accepted transition.
// FromState is nil only for the entry recording workflow creation.
type WorkflowStateLog struct {
	ID         string
	WorkflowID string
	FromState  *State
	ToState    State
	Metadata   map[string]interface{}
	CreatedAt  time.Time
}
