package chat

import (
	"sync"
	"time"

	"github.com/mercaline/market-chat-api/models"
)

// RateWindow is the sliding window length for all event ceilings.
const RateWindow = 60 * time.Second

// Decision is the limiter verdict for one event.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter is a sliding-window rate limiter keyed by (identity, eventType).
// Timestamps older than the window are evicted on every check so the windows
// never grow unbounded. Safe for concurrent checks on the same identity from
// multiple connections.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

// NewLimiter builds a limiter using the wall clock.
func NewLimiter() *Limiter {
	return &Limiter{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records one event for identity+eventType against the given ceiling
// and reports whether it fit in the current window.
func (l *Limiter) Allow(identityID, eventType string, ceiling int) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-RateWindow)
	key := identityID + ":" + eventType

	window := l.windows[key]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= ceiling {
		l.windows[key] = kept
		return Decision{Allowed: false, Remaining: 0, ResetAt: kept[0].Add(RateWindow)}
	}

	kept = append(kept, now)
	l.windows[key] = kept
	return Decision{
		Allowed:   true,
		Remaining: ceiling - len(kept),
		ResetAt:   kept[0].Add(RateWindow),
	}
}

// Ceiling returns the per-minute event ceiling for an account. Professional
// and admin roles get the elevated ceiling; consumer accounts scale with
// subscription tier.
func Ceiling(u *models.User) int {
	switch u.Details.Role {
	case models.RoleProfessional, models.RoleAdmin:
		return 25
	case models.RoleConsumer:
		switch u.Details.Tier {
		case models.TierVIP:
			return 30
		case models.TierPremium:
			return 20
		default:
			return 5
		}
	default:
		return 10
	}
}
