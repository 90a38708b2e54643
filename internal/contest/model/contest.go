package model

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Contest is an immutable snapshot of a contest and its access restrictions.
// Empty Groups or AllowedIPRanges mean no restriction of that kind.
type Contest struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	Visible         bool      `json:"visible"`
	Groups          []int64   `json:"groups"`
	AllowedIPRanges []string  `json:"allowed_ip_ranges"`
	CreatedBy       int64     `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
}

// HasGroup reports whether groupID is one of the contest groups.
func (c *Contest) HasGroup(groupID int64) bool {
	if groupID == 0 {
		return false
	}
	for _, g := range c.Groups {
		if g == groupID {
			return true
		}
	}
	return false
}

// Started reports whether the contest has begun at now.
func (c *Contest) Started(now time.Time) bool {
	return !now.Before(c.StartTime)
}

// Ended reports whether the contest is over at now.
func (c *Contest) Ended(now time.Time) bool {
	return !now.Before(c.EndTime)
}

// User is the subject of an admission decision. ID 0 is anonymous.
type User struct {
	ID      int64
	Admin   bool
	GroupID int64
}

// Anonymous reports whether no user is attached.
func (u User) Anonymous() bool {
	return u.ID == 0
}

// ParseIPRange parses a CIDR range. Host bits are allowed and masked off; a
// bare address is a single-host range.
func ParseIPRange(raw string) (netip.Prefix, error) {
	s := strings.TrimSpace(raw)
	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil || addr.Zone() != "" {
			return netip.Prefix{}, fmt.Errorf("%q is not a valid cidr network", raw)
		}
		addr = addr.Unmap()
		return netip.PrefixFrom(addr, addr.BitLen()), nil
	}
	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%q is not a valid cidr network", raw)
	}
	return prefix.Masked(), nil
}

// ParseIPRanges parses every range, failing on the first invalid one.
func ParseIPRanges(ranges []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(ranges))
	for _, raw := range ranges {
		prefix, err := ParseIPRange(raw)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, prefix)
	}
	return prefixes, nil
}
