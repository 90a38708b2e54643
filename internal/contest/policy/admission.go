// Package policy decides whether a user may compete in a contest.
package policy

import (
	"net/netip"

	"ojtrust/internal/contest/model"
)

// Reason names the rule that produced a decision.
type Reason string

const (
	ReasonAnonymous       Reason = "anonymous"
	ReasonNoContest       Reason = "no_contest"
	ReasonAdmin           Reason = "admin"
	ReasonInvisible       Reason = "invisible"
	ReasonUnrestricted    Reason = "unrestricted"
	ReasonGroupMismatch   Reason = "group_mismatch"
	ReasonMissingSourceIP Reason = "missing_source_ip"
	ReasonIPNotAllowed    Reason = "ip_not_allowed"
	ReasonAdmitted        Reason = "admitted"
)

// Decision is the result of an admission check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

// Decide evaluates the admission rules in order: a missing contest and
// anonymous users are refused,
// admins admitted, invisible contests refused, unrestricted contests admitted,
// then group membership and the source address allow-list must both pass.
// A contest with IP ranges and no sourceIP fails closed.
func Decide(user model.User, contest *model.Contest, sourceIP *netip.Addr) Decision {
	if contest == nil {
		return deny(ReasonNoContest)
	}
	if user.Anonymous() {
		return deny(ReasonAnonymous)
	}
	if user.Admin {
		return allow(ReasonAdmin)
	}
	if !contest.Visible {
		return deny(ReasonInvisible)
	}
	if len(contest.Groups) == 0 && len(contest.AllowedIPRanges) == 0 {
		return allow(ReasonUnrestricted)
	}
	if len(contest.Groups) > 0 && !contest.HasGroup(user.GroupID) {
		return deny(ReasonGroupMismatch)
	}
	if len(contest.AllowedIPRanges) > 0 {
		if sourceIP == nil || !sourceIP.IsValid() {
			return deny(ReasonMissingSourceIP)
		}
		if !inAnyRange(sourceIP.Unmap(), contest.AllowedIPRanges) {
			return deny(ReasonIPNotAllowed)
		}
	}
	return allow(ReasonAdmitted)
}

// CanCompete reports whether user may compete in contest.
func CanCompete(user model.User, contest *model.Contest, sourceIP *netip.Addr) bool {
	return Decide(user, contest, sourceIP).Allowed
}

// inAnyRange ignores ranges that do not parse; they admit nobody.
func inAnyRange(addr netip.Addr, ranges []string) bool {
	for _, raw := range ranges {
		prefix, err := model.ParseIPRange(raw)
		if err != nil {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func allow(reason Reason) Decision { return Decision{Allowed: true, Reason: reason} }

func deny(reason Reason) Decision { return Decision{Allowed: false, Reason: reason} }
