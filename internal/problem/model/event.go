package model

import "time"

const (
	ProblemEventValidated = "problem.validated"
	ProblemEventDeleted   = "problem.deleted"
)

// Trigger values recorded on lifecycle events.
const (
	TriggerVote      = "vote"
	TriggerAdmin     = "admin"
	TriggerReconcile = "reconcile"
)

// ProblemLifecycleEvent announces a trust transition.
type ProblemLifecycleEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	ProblemID  int64     `json:"problem_id"`
	OwnerID    int64     `json:"owner_id"`
	Trigger    string    `json:"trigger"`
	VoteScore  int64     `json:"vote_score"`
	UpCount    int64     `json:"up_count"`
	DownCount  int64     `json:"down_count"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SubmissionJudgedEvent is emitted by the judge pipeline for every finished submission.
type SubmissionJudgedEvent struct {
	SubmissionID string    `json:"submission_id"`
	ProblemID    int64     `json:"problem_id"`
	UserID       int64     `json:"user_id"`
	Accepted     bool      `json:"accepted"`
	JudgedAt     time.Time `json:"judged_at"`
}
