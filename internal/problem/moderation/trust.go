package moderation

import "ojtrust/internal/problem/model"

// Action is the outcome of a trust evaluation.
type Action int

const (
	ActionNone Action = iota
	ActionValidate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionValidate:
		return "validate"
	case ActionDelete:
		return "delete"
	default:
		return "none"
	}
}

// Evaluate decides the trust transition for p given its running vote score.
// p must carry current vote counts. Contest problems are never transitioned.
func Evaluate(p *model.Problem, score int64, t Thresholds) Action {
	if p == nil || p.InContest() {
		return ActionNone
	}

	switch p.Validity {
	case model.ValidityPending:
		if p.TotalVotes() > t.MaxVotesBeforeTrigger {
			if p.VoteUpCount > p.VoteDownCount {
				return ActionValidate
			}
			return ActionDelete
		}
		if score <= t.InvalidToDelete {
			return ActionDelete
		}
		if score >= t.InvalidToValid {
			return ActionValidate
		}
	case model.ValidityValid:
		if score <= t.ValidToDelete {
			return ActionDelete
		}
	}
	return ActionNone
}
