package moderation

import "ojtrust/internal/problem/model"

// EstimateDifficulty picks the label implied by p's acceptance rate. The first
// rate in table order whose threshold is at least the acceptance rate wins.
// ok is false when p is not valid, has fewer than base submissions, or no
// rate matches; the current label then stays.
func EstimateDifficulty(p *model.Problem, base int64, rates []DifficultyRate) (model.Difficulty, bool) {
	if p == nil || p.Validity != model.ValidityValid {
		return "", false
	}
	if p.SubmissionCount <= 0 || p.SubmissionCount < base {
		return "", false
	}

	rate := float64(p.AcceptedCount) / float64(p.SubmissionCount)
	for _, r := range rates {
		if rate <= r.Threshold {
			return r.Label, true
		}
	}
	return "", false
}
