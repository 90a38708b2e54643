package model

import (
	"fmt"
	"strings"
	"time"
)

// Validity is the trust state of a problem. Deleted problems are removed.
type Validity int8

const (
	ValidityPending Validity = 0
	ValidityValid   Validity = 1
)

func (v Validity) String() string {
	switch v {
	case ValidityPending:
		return "pending"
	case ValidityValid:
		return "valid"
	default:
		return fmt.Sprintf("validity(%d)", int8(v))
	}
}

// Difficulty is the discrete difficulty label.
type Difficulty string

const (
	DifficultyLow  Difficulty = "Low"
	DifficultyMid  Difficulty = "Mid"
	DifficultyHigh Difficulty = "High"
)

// ParseDifficulty accepts the canonical labels case-insensitively.
func ParseDifficulty(raw string) (Difficulty, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low":
		return DifficultyLow, nil
	case "mid":
		return DifficultyMid, nil
	case "high":
		return DifficultyHigh, nil
	}
	return "", fmt.Errorf("unknown difficulty %q", raw)
}

// Problem is a problem row together with its derived vote counts.
// At most one of CourseID, CollectionID and ContestID is non-zero.
type Problem struct {
	ID              int64      `json:"id"`
	OwnerID         int64      `json:"owner_id"`
	Title           string     `json:"title"`
	Validity        Validity   `json:"validity"`
	VoteUpCount     int64      `json:"vote_up_count"`
	VoteDownCount   int64      `json:"vote_down_count"`
	RankScore       float64    `json:"rank_score"`
	Difficulty      Difficulty `json:"difficulty"`
	SubmissionCount int64      `json:"submission_count"`
	AcceptedCount   int64      `json:"accepted_count"`
	CourseID        int64      `json:"course_id,omitempty"`
	CollectionID    int64      `json:"collection_id,omitempty"`
	ContestID       int64      `json:"contest_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// InContest reports whether the problem belongs to a contest.
func (p *Problem) InContest() bool {
	return p.ContestID != 0
}

// Votable reports whether the community may vote on the problem.
func (p *Problem) Votable() bool {
	return p.ContestID == 0 && p.CourseID == 0
}

// TotalVotes returns up plus down votes.
func (p *Problem) TotalVotes() int64 {
	return p.VoteUpCount + p.VoteDownCount
}

// Vote is an immutable ballot. (ProblemID, UserID) is unique.
type Vote struct {
	ID        int64     `json:"id"`
	ProblemID int64     `json:"problem_id"`
	UserID    int64     `json:"user_id"`
	IsUp      bool      `json:"is_up"`
	Score     int64     `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// VoteStatus tells a user how they voted on a problem.
type VoteStatus int

const (
	VoteStatusNone VoteStatus = 0
	VoteStatusUp   VoteStatus = 1
	VoteStatusDown VoteStatus = 2
)

// Validation records an administrator approving a pending problem.
type Validation struct {
	ProblemID   int64
	ValidatorID int64
	ValidatedAt time.Time
}
