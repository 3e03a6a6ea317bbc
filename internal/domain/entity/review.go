package entity

import "time"

// ReviewStatus represents the lifecycle of a human review task.
// Values are wire literals and must not change.
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewApproved  ReviewStatus = "approved"
	ReviewRejected  ReviewStatus = "rejected"
	ReviewCorrected ReviewStatus = "corrected"
	ReviewTimedOut  ReviewStatus = "timed_out"
)

// String returns the string representation of the status.
func (s ReviewStatus) String() string {
	return string(s)
}

// IsResolved returns true once the task has left pending. Resolution is
// one-way and happens exactly once.
func (s ReviewStatus) IsResolved() bool {
	return s != ReviewPending
}

// ReviewTask is a human-in-the-loop work item tied to a workflow/contract
// pair, created when automated confidence or validation falls short.
type ReviewTask struct {
	ID            string
	WorkflowID    string
	ContractID    string
	Status        ReviewStatus
	CorrectedData map[string]interface{}
	ReviewerNotes *string
	TimeoutAt     *time.Time
	ReviewedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
