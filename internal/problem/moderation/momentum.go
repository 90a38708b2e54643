package moderation

import "ojtrust/internal/problem/model"

// NextVoteScore returns the score stored on a new vote given the most recent
// vote on the same problem. A streak in one direction accumulates; a change of
// direction, or the first vote, starts again from ±1.
// The problem's running score is the score of its latest vote.
func NextVoteScore(last *model.Vote, isUp bool) int64 {
	inc := int64(-1)
	if isUp {
		inc = 1
	}
	if last == nil || last.IsUp != isUp {
		return inc
	}
	return last.Score + inc
}

// RunningScore returns the aggregate score implied by the latest vote.
func RunningScore(last *model.Vote) int64 {
	if last == nil {
		return 0
	}
	return last.Score
}
