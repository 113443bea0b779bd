package botdetect

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkhop/linkhop/pkg/freqtrack"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// fakeTracker flags every identity it is asked about
type fakeTracker struct {
	high   bool
	checks int
}

func (f *fakeTracker) Start(_ context.Context) error { return nil }
func (f *fakeTracker) Stop() error                   { return nil }

func (f *fakeTracker) Check(_ context.Context, _ string) freqtrack.Result {
	f.checks++

	return freqtrack.Result{Count: 99, HighFrequency: f.high}
}

func testDetector(t *testing.T, tracker freqtrack.Tracker) Detector {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	d, err := NewDetector(log, &Config{CacheSize: 128}, tracker)
	require.NoError(t, err)

	return d
}

func TestDetectOrderedChecks(t *testing.T) {
	tests := []struct {
		name           string
		userAgent      string
		identityHash   string
		trackerHigh    bool
		wantBot        bool
		wantReason     string
		wantConfidence float64
	}{
		{
			name:           "missing user agent",
			userAgent:      "",
			wantBot:        true,
			wantReason:     ReasonMissingUserAgent,
			wantConfidence: 0.9,
		},
		{
			name:           "whitespace only user agent",
			userAgent:      "   ",
			wantBot:        true,
			wantReason:     ReasonMissingUserAgent,
			wantConfidence: 0.9,
		},
		{
			name:           "crawler signature",
			userAgent:      "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
			wantBot:        true,
			wantReason:     ReasonSignature,
			wantConfidence: 0.95,
		},
		{
			name:           "cli tool signature",
			userAgent:      "curl/8.4.0",
			wantBot:        true,
			wantReason:     ReasonSignature,
			wantConfidence: 0.95,
		},
		{
			name:           "http library signature",
			userAgent:      "python-requests/2.31.0",
			wantBot:        true,
			wantReason:     ReasonSignature,
			wantConfidence: 0.95,
		},
		{
			name:           "signature wins over frequency",
			userAgent:      "Wget/1.21",
			identityHash:   "id-1",
			trackerHigh:    true,
			wantBot:        true,
			wantReason:     ReasonSignature,
			wantConfidence: 0.95,
		},
		{
			name:           "high frequency browser",
			userAgent:      chromeUA,
			identityHash:   "id-2",
			trackerHigh:    true,
			wantBot:        true,
			wantReason:     ReasonFrequency,
			wantConfidence: 0.8,
		},
		{
			name:           "very short user agent",
			userAgent:      "x11/1.0",
			wantBot:        true,
			wantReason:     ReasonHeuristic,
			wantConfidence: 0.6,
		},
		{
			name:           "bare framework token",
			userAgent:      "Mozilla/5.0",
			wantBot:        true,
			wantReason:     ReasonHeuristic,
			wantConfidence: 0.6,
		},
		{
			name:      "real browser",
			userAgent: chromeUA,
			wantBot:   false,
		},
		{
			name:      "real mobile browser",
			userAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1",
			wantBot:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDetector(t, &fakeTracker{high: tt.trackerHigh})

			res := d.Detect(context.Background(), tt.userAgent, tt.identityHash)

			assert.Equal(t, tt.wantBot, res.IsBot)
			assert.Equal(t, tt.wantReason, res.Reason)
			assert.InDelta(t, tt.wantConfidence, res.Confidence, 0.001)
		})
	}
}

func TestDetectWithoutTracker(t *testing.T) {
	d := testDetector(t, nil)

	res := d.Detect(context.Background(), chromeUA, "id-3")
	assert.False(t, res.IsBot)
}

func TestDetectSkipsFrequencyWithoutIdentity(t *testing.T) {
	tracker := &fakeTracker{high: true}
	d := testDetector(t, tracker)

	res := d.Detect(context.Background(), chromeUA, "")

	assert.False(t, res.IsBot)
	assert.Zero(t, tracker.checks, "frequency check requires an identity")
}

func TestSignatureMatchIsMemoized(t *testing.T) {
	d := testDetector(t, nil)
	impl, ok := d.(*detector)
	require.True(t, ok)

	d.Detect(context.Background(), chromeUA, "")

	matched, cached := impl.matches.Get(chromeUA)
	require.True(t, cached)
	assert.False(t, matched)

	d.Detect(context.Background(), "AhrefsBot/7.0", "")

	matched, cached = impl.matches.Get("AhrefsBot/7.0")
	require.True(t, cached)
	assert.True(t, matched)
}

func TestFrequencyResultIsNotCached(t *testing.T) {
	tracker := &fakeTracker{high: true}
	d := testDetector(t, tracker)
	ctx := context.Background()

	d.Detect(ctx, chromeUA, "id-4")
	d.Detect(ctx, chromeUA, "id-4")

	assert.Equal(t, 2, tracker.checks, "every detect must consult the tracker")
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, (&Config{CacheSize: 10}).Validate())
	require.ErrorIs(t, (&Config{}).Validate(), ErrCacheSizeRequired)
}
