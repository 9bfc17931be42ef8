package policy

import (
	"time"

	"github.com/roach88/ncflow/internal/domain"
)

// Lockout decides access locks from overdue-record counts.
type Lockout struct {
	Threshold int
}

// Decide reports whether a should be locked out given overdueCount.
// Admins are never locked.
func (l Lockout) Decide(a domain.Actor, overdueCount int) bool {
	if a.IsAdmin() {
		return false
	}
	threshold := l.Threshold
	if threshold < 1 {
		threshold = DefaultOverdueThreshold
	}
	return overdueCount >= threshold
}

// OverdueCount counts records in recs for which userID is responsible and
// which are overdue at now.
func OverdueCount(userID string, recs []*domain.Record, now time.Time) int {
	n := 0
	for _, rec := range recs {
		if rec.ResponsibleID == userID && IsOverdue(rec, now) {
			n++
		}
	}
	return n
}

// Operations that stay available to a locked-out user.
const (
	OpSignOut      = "sign_out"
	OpAuthenticate = "authenticate"
)

// AllowedWhileLocked reports whether op is reachable by a locked user.
func AllowedWhileLocked(op string) bool {
	return op == OpSignOut || op == OpAuthenticate
}
