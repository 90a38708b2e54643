package moderation

import "math"

// WilsonLowerBound is the lower bound of the Wilson score interval for the
// proportion of up votes. It is 0 when there are no votes and stays in [0,1).
func WilsonLowerBound(up, down int64, z float64) float64 {
	if up < 0 || down < 0 || up+down == 0 {
		return 0
	}
	n := float64(up + down)
	p := float64(up) / n
	z2 := z * z

	score := (p + z2/(2*n) - z*math.Sqrt((p*(1-p)+z2/(4*n))/n)) / (1 + z2/n)
	if score < 0 {
		return 0
	}
	return score
}
