package events

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashIdentity(t *testing.T) {
	h1 := HashIdentity("pepper", "203.0.113.7")
	h2 := HashIdentity("pepper", "203.0.113.7")
	h3 := HashIdentity("other", "203.0.113.7")
	h4 := HashIdentity("pepper", "203.0.113.8")

	assert.Equal(t, h1, h2, "same salt and input must hash identically")
	assert.NotEqual(t, h1, h3, "salt must change the hash")
	assert.NotEqual(t, h1, h4)
	assert.Len(t, h1, 64)
	assert.NotContains(t, h1, "203.0.113.7")
}

func TestClickPayloadEvent(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	p := ClickPayload{
		EventID:     "evt-1",
		ShortCode:   "abc123",
		LinkID:      42,
		TimestampMs: at.UnixMilli(),
		IPHash:      "deadbeef",
		UserAgent:   "Mozilla/5.0",
		Referrer:    "https://example.com",
		Country:     "DE",
		Region:      "BE",
		IsBot:       true,
	}

	ev := p.Event()
	require.NotNil(t, ev)

	assert.Equal(t, "evt-1", ev.EventID)
	assert.Equal(t, int64(42), ev.LinkID)
	assert.Equal(t, "abc123", ev.ShortCode)
	assert.True(t, ev.Timestamp.Equal(at))
	assert.Equal(t, time.UTC, ev.Timestamp.Location())
	assert.Equal(t, "deadbeef", ev.IPHash)
	assert.Equal(t, "DE", ev.Country)
	assert.True(t, ev.IsBot)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{name: "shorter than limit", in: "abc", limit: 10, want: "abc"},
		{name: "exactly at limit", in: "abcde", limit: 5, want: "abcde"},
		{name: "over limit", in: strings.Repeat("x", 20), limit: 5, want: "xxxxx"},
		{name: "empty", in: "", limit: 5, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.in, tt.limit))
		})
	}
}
