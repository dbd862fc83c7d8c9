// Package tiers partitions test users into permission tiers and publishes
// the tiers as cluster groups.
package tiers

import (
	"fmt"
	"strings"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/failure"
)

// Tier is a permission and quota class.
type Tier string

const (
	Enterprise Tier = "enterprise"
	Premium    Tier = "premium"
	Free       Tier = "free"
)

// Order lists the tiers in assignment order.
var Order = []Tier{Enterprise, Premium, Free}

const memberSeparator = ":"

// Default tier sizes: enterprise takes the first two users, premium the
// next two and free the rest. With fewer than four users premium stays
// empty and the third user goes to free.
const (
	enterpriseSize = 2
	premiumSize    = 2
)

// Assignment maps each tier to its ordered usernames.
type Assignment map[Tier][]string

// Users returns the users of t, never nil.
func (a Assignment) Users(t Tier) []string {
	if users := a[t]; users != nil {
		return users
	}
	return []string{}
}

// ParseTier returns the Tier named s.
func ParseTier(s string) (Tier, error) {
	for _, t := range Order {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown tier %q", failure.ErrInvalidConfig, s)
}

// AssignTiers slices users by position, letting overrides replace the
// default of any tier they name. A username is kept only in the first tier
// listing it.
func AssignTiers(users []string, overrides map[Tier][]string) Assignment {
	defaults := defaultTiers(users)

	seen := make(map[string]struct{}, len(users))
	out := make(Assignment, len(Order))

	for _, t := range Order {
		candidates, ok := overrides[t]
		if !ok {
			candidates = defaults[t]
		}

		members := make([]string, 0, len(candidates))
		for _, u := range candidates {
			if _, dup := seen[u]; dup || u == "" {
				continue
			}
			seen[u] = struct{}{}
			members = append(members, u)
		}
		out[t] = members
	}

	return out
}

func defaultTiers(users []string) map[Tier][]string {
	enterprise := min(enterpriseSize, len(users))
	premium := 0
	if len(users) >= enterpriseSize+premiumSize {
		premium = premiumSize
	}

	return map[Tier][]string{
		Enterprise: window(users, 0, enterprise),
		Premium:    window(users, enterprise, enterprise+premium),
		Free:       window(users, enterprise+premium, len(users)),
	}
}

func window(users []string, from, to int) []string {
	return append([]string{}, users[from:to]...)
}

// FirstOfEachTier returns the first user of each non-empty tier, in tier
// order.
func FirstOfEachTier(a Assignment) []string {
	out := make([]string, 0, len(Order))
	for _, t := range Order {
		if users := a[t]; len(users) > 0 {
			out = append(out, users[0])
		}
	}
	return out
}

// ParseMemberList splits a colon-delimited member list. Empty entries are
// dropped; an empty string yields an empty list.
func ParseMemberList(s string) []string {
	out := []string{}
	for _, m := range strings.Split(s, memberSeparator) {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

// GroupName returns the name of the cluster group of t.
func GroupName(prefix string, t Tier) string {
	return fmt.Sprintf("%s%s-users", prefix, t)
}
