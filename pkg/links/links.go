// Package links defines the domain types shared by the resolver, ingestion,
// and rollup services: the link record itself, individual click events, and
// the per-day aggregates derived from them.
package links

import (
	"errors"
	"regexp"
	"time"
)

// Short-code format boundaries. Codes outside these are rejected before any
// cache or database work happens.
const (
	MinCodeLength = 4
	MaxCodeLength = 12
)

var (
	// ErrInvalidCode is returned when a short code fails the format check.
	ErrInvalidCode = errors.New("invalid short code")

	// ErrNotFound is returned by link stores when no row exists for a code.
	ErrNotFound = errors.New("link not found")

	codePattern = regexp.MustCompile(`^[a-zA-Z0-9]{4,12}$`)
)

// ValidateCode checks the short-code format: alphanumeric, 4-12 characters.
func ValidateCode(code string) error {
	if !codePattern.MatchString(code) {
		return ErrInvalidCode
	}

	return nil
}

// Link is a row in the links table. The core never creates or mutates links
// beyond the click counter; management lives in a separate service.
type Link struct {
	ID          int64      `json:"id"`
	ShortCode   string     `json:"short_code"`
	OriginalURL string     `json:"original_url"`
	Active      bool       `json:"active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	ClickLimit  int64      `json:"click_limit"`
	ClickCount  int64      `json:"click_count"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Eligible reports whether the link may be served: it must be active, not
// expired, and under its click cap (a zero cap means uncapped).
func (l *Link) Eligible(now time.Time) bool {
	if !l.Active {
		return false
	}

	if l.ExpiresAt != nil && !l.ExpiresAt.After(now) {
		return false
	}

	if l.ClickLimit > 0 && l.ClickCount >= l.ClickLimit {
		return false
	}

	return true
}

// Permanent reports whether redirects to this link may be advertised as
// permanent (HTTP 301): no expiration and no click cap. Everything else is
// served as a temporary redirect so clients re-resolve.
func (l *Link) Permanent() bool {
	return l.ExpiresAt == nil && l.ClickLimit == 0
}

// ClickEvent is a row in the click_events table. EventID doubles as the queue
// task ID and the insert conflict key, which is what makes redelivery safe.
type ClickEvent struct {
	EventID   string    `json:"event_id"`
	LinkID    int64     `json:"link_id"`
	ShortCode string    `json:"short_code"`
	Timestamp time.Time `json:"ts"`
	IPHash    string    `json:"ip_hash,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Referrer  string    `json:"referrer,omitempty"`
	Country   string    `json:"country,omitempty"`
	Region    string    `json:"region,omitempty"`
	IsBot     bool      `json:"is_bot"`
}

// DayStat is a row in the link_stats_daily table: one link, one UTC day.
// Rollups overwrite whole rows, so a stat is always reproducible from the
// underlying events.
type DayStat struct {
	LinkID         int64     `json:"link_id"`
	Day            time.Time `json:"day"`
	Clicks         int64     `json:"clicks"`
	UniqueVisitors int64     `json:"unique_visitors"`
}
