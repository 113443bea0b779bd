package events

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/linkhop/linkhop/pkg/links"
)

const (
	// TypeClickEvent is the asynq task type for click events
	TypeClickEvent = "click:event"

	// QueueClicks is the queue name for click events, namespaced per instance
	QueueClicks = "clicks"
)

// Free-text fields are truncated before serialization so a hostile client
// cannot inflate queue payloads or event rows
const (
	maxUserAgentLen = 512
	maxReferrerLen  = 2048
)

// ClickPayload is the JSON document carried on the clicks queue. The event
// id doubles as the asynq task ID and the storage conflict key, so redelivery
// anywhere along the pipeline collapses into a single row.
type ClickPayload struct {
	EventID     string `json:"eventId"`
	ShortCode   string `json:"shortCode"`
	LinkID      int64  `json:"linkId"`
	TimestampMs int64  `json:"timestampMs"`
	IPHash      string `json:"ipHash,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
	Country     string `json:"country,omitempty"`
	Region      string `json:"region,omitempty"`
	IsBot       bool   `json:"isBot"`
}

// Event converts the payload to its durable row form
func (p *ClickPayload) Event() *links.ClickEvent {
	return &links.ClickEvent{
		EventID:   p.EventID,
		LinkID:    p.LinkID,
		ShortCode: p.ShortCode,
		Timestamp: time.UnixMilli(p.TimestampMs).UTC(),
		IPHash:    p.IPHash,
		UserAgent: p.UserAgent,
		Referrer:  p.Referrer,
		Country:   p.Country,
		Region:    p.Region,
		IsBot:     p.IsBot,
	}
}

// HashIdentity derives the stable hash stored in place of a raw client
// address: salted SHA-256, hex encoded. Raw identities never leave the
// producer.
func HashIdentity(salt, raw string) string {
	sum := sha256.Sum256([]byte(salt + ":" + raw))

	return hex.EncodeToString(sum[:])
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	return s[:limit]
}
