package botdetect

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/linkhop/linkhop/pkg/freqtrack"
	"github.com/linkhop/linkhop/pkg/observability"
)

// Detection reasons. Reputation is produced by the events pipeline when the
// reputation filter matches before detection even runs; it lives here so the
// reason vocabulary stays in one place.
const (
	ReasonMissingUserAgent = "missing_ua"
	ReasonSignature        = "signature"
	ReasonFrequency        = "frequency"
	ReasonHeuristic        = "heuristic"
	ReasonReputation       = "reputation"
)

// Confidence per reason. The ordering of checks matters more than the exact
// values: earlier checks are stronger signals and short-circuit later ones.
const (
	confidenceMissingUserAgent = 0.9
	confidenceSignature        = 0.95
	confidenceFrequency        = 0.8
	confidenceHeuristic        = 0.6
)

// shortUALength is below what any real browser sends
const shortUALength = 16

// bareFrameworkToken matches a user agent that is nothing but the Mozilla
// compatibility prefix, which no actual browser sends on its own
var bareFrameworkToken = regexp.MustCompile(`^Mozilla/\d+\.\d+$`)

// Result is a bot classification
type Result struct {
	IsBot      bool
	Reason     string
	Confidence float64
}

// Detector classifies a request as bot or human
type Detector interface {
	// Detect runs the ordered checks, first match wins: missing user agent,
	// signature list, frequency flag, suspicious shape. Stateless except for
	// the frequency check, which shares the tracker's window state.
	Detect(ctx context.Context, userAgent, identityHash string) Result
}

type detector struct {
	log     logrus.FieldLogger
	tracker freqtrack.Tracker

	// signature matching is pure per user-agent string, so verdicts are
	// memoized; frequency results are never cached
	matches *lru.Cache[string, bool]
}

var _ Detector = (*detector)(nil)

// NewDetector creates a bot detector. The tracker may be nil, which disables
// the frequency check.
func NewDetector(logger logrus.FieldLogger, cfg *Config, tracker freqtrack.Tracker) (Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	matches, err := lru.New[string, bool](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create memoization cache: %w", err)
	}

	return &detector{
		log:     logger.WithField("component", "botdetect"),
		tracker: tracker,
		matches: matches,
	}, nil
}

func (d *detector) Detect(ctx context.Context, userAgent, identityHash string) Result {
	ua := strings.TrimSpace(userAgent)
	if ua == "" {
		return d.bot(ReasonMissingUserAgent, confidenceMissingUserAgent)
	}

	if d.matchesSignature(ua) {
		return d.bot(ReasonSignature, confidenceSignature)
	}

	if identityHash != "" && d.tracker != nil {
		if freq := d.tracker.Check(ctx, identityHash); freq.HighFrequency {
			return d.bot(ReasonFrequency, confidenceFrequency)
		}
	}

	if suspiciousShape(ua) {
		return d.bot(ReasonHeuristic, confidenceHeuristic)
	}

	return Result{}
}

func (d *detector) matchesSignature(ua string) bool {
	if matched, ok := d.matches.Get(ua); ok {
		return matched
	}

	matched := signatureRegex.MatchString(ua)
	d.matches.Add(ua, matched)

	return matched
}

func (d *detector) bot(reason string, confidence float64) Result {
	observability.RecordBotDetection(reason)

	return Result{IsBot: true, Reason: reason, Confidence: confidence}
}

func suspiciousShape(ua string) bool {
	return len(ua) < shortUALength || bareFrameworkToken.MatchString(ua)
}
