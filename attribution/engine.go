package attribution

import (
	"context"
	"strings"
	"time"

	"funnelpulse/api/models"
)

// Method labels how a conversion was matched to a session.
type Method string

const (
	MethodOrderID            Method = "order_id"
	MethodEmail              Method = "email"
	MethodSessionFingerprint Method = "session_fingerprint"
	MethodUserID             Method = "user_id"
	MethodProbabilistic      Method = "probabilistic"
	MethodNone               Method = "none"
)

// Lookback windows for the time-scoped strategies.
const (
	emailLookback       = 24 * time.Hour
	fingerprintLookback = 2 * time.Hour
)

// SessionFinder is the read contract the engine needs from the session
// store. All lookups are scoped to one analysis; multi-row lookups return
// results ordered by last_seen_at descending so the engine can break ties
// by recency. "No rows" is a nil/empty result, never an error.
type SessionFinder interface {
	FindByOrderID(ctx context.Context, analysisID, orderID string) (*models.Session, error)
	FindByEmail(ctx context.Context, analysisID, email string, firstSeenAfter time.Time) ([]models.Session, error)
	FindBySessionID(ctx context.Context, analysisID, sessionID string) (*models.Session, error)
	FindByUserID(ctx context.Context, analysisID, userID string) ([]models.Session, error)
	FindByFingerprint(ctx context.Context, analysisID, fingerprint string, firstSeenAfter time.Time) ([]models.Session, error)
}

// Input carries whatever identifiers arrived with a conversion event. Any
// subset may be empty. A zero ConversionTime means "now".
type Input struct {
	AnalysisID     string
	Email          string
	OrderID        string
	UserID         string
	SessionID      string
	IPAddress      string
	UserAgent      string
	ConversionTime time.Time
}

// Result is the attribution outcome. Session is nil exactly when Method is
// MethodNone, which is exactly when Confidence is 0.
type Result struct {
	Session    *models.Session
	Method     Method
	Confidence int
	Metadata   map[string]interface{}
}

// Engine matches conversions to sessions by trying a fixed sequence of
// strategies in priority order. It is stateless and read-only; it may run
// concurrently for many conversions without coordination.
type Engine struct {
	sessions SessionFinder
}

func NewEngine(sessions SessionFinder) *Engine {
	return &Engine{sessions: sessions}
}

// confidenceTier maps an elapsed-time upper bound (inclusive) to a score.
type confidenceTier struct {
	upperBound time.Duration
	confidence int
}

var emailTiers = []confidenceTier{
	{30 * time.Minute, 95},
	{2 * time.Hour, 90},
	{6 * time.Hour, 85},
	{24 * time.Hour, 75},
}

var fingerprintTiers = []confidenceTier{
	{5 * time.Minute, 70},
	{15 * time.Minute, 65},
	{30 * time.Minute, 60},
	{60 * time.Minute, 55},
	{2 * time.Hour, 50},
}

// tierConfidence walks the ordered tier table. A negative elapsed time
// (conversion timestamped before the session's last activity) falls into the
// widest, lowest-confidence tier rather than erroring.
func tierConfidence(tiers []confidenceTier, elapsed time.Duration) int {
	widest := tiers[len(tiers)-1].confidence
	if elapsed < 0 {
		return widest
	}
	for _, t := range tiers {
		if elapsed <= t.upperBound {
			return t.confidence
		}
	}
	return widest
}

// AttributeConversion tries each strategy in priority order and returns the
// first match. A triggerable strategy whose query finds nothing falls
// through to the next one. Store faults abort the whole call; no partial
// result is synthesized.
func (e *Engine) AttributeConversion(ctx context.Context, in Input) (Result, error) {
	when := in.ConversionTime
	if when.IsZero() {
		when = time.Now()
	}
	when = when.UTC()

	// Strategy 1: exact order id.
	if in.OrderID != "" {
		sess, err := e.sessions.FindByOrderID(ctx, in.AnalysisID, in.OrderID)
		if err != nil {
			return Result{}, err
		}
		if sess != nil {
			return Result{
				Session:    sess,
				Method:     MethodOrderID,
				Confidence: 100,
				Metadata:   map[string]interface{}{"order_id": in.OrderID},
			}, nil
		}
	}

	// Strategy 2: normalized email within a 24h window, newest activity wins.
	if in.Email != "" {
		email := strings.ToLower(strings.TrimSpace(in.Email))
		matches, err := e.sessions.FindByEmail(ctx, in.AnalysisID, email, when.Add(-emailLookback))
		if err != nil {
			return Result{}, err
		}
		if len(matches) > 0 {
			sess := matches[0]
			elapsed := when.Sub(sess.LastSeenAt)
			return Result{
				Session:    &sess,
				Method:     MethodEmail,
				Confidence: tierConfidence(emailTiers, elapsed),
				Metadata: map[string]interface{}{
					"email":           email,
					"elapsed_minutes": int(elapsed.Minutes()),
				},
			}, nil
		}
	}

	// Strategy 3: the client-supplied session id.
	if in.SessionID != "" {
		sess, err := e.sessions.FindBySessionID(ctx, in.AnalysisID, in.SessionID)
		if err != nil {
			return Result{}, err
		}
		if sess != nil {
			return Result{
				Session:    sess,
				Method:     MethodSessionFingerprint,
				Confidence: 90,
				Metadata:   map[string]interface{}{"session_id": in.SessionID},
			}, nil
		}
	}

	// Strategy 4: external user id, newest activity wins.
	if in.UserID != "" {
		matches, err := e.sessions.FindByUserID(ctx, in.AnalysisID, in.UserID)
		if err != nil {
			return Result{}, err
		}
		if len(matches) > 0 {
			sess := matches[0]
			return Result{
				Session:    &sess,
				Method:     MethodUserID,
				Confidence: 85,
				Metadata:   map[string]interface{}{"external_user_id": in.UserID},
			}, nil
		}
	}

	// Strategy 5: device fingerprint. Requires both ip and user agent; the
	// hash uses the same signal set the tracking endpoint stores, so exact
	// matches are possible.
	if in.IPAddress != "" && in.UserAgent != "" {
		fp := GenerateFingerprint(in.IPAddress, in.UserAgent, "", "", "")
		matches, err := e.sessions.FindByFingerprint(ctx, in.AnalysisID, fp, when.Add(-fingerprintLookback))
		if err != nil {
			return Result{}, err
		}
		if len(matches) > 0 {
			sess := matches[0]
			elapsed := when.Sub(sess.LastSeenAt)
			return Result{
				Session:    &sess,
				Method:     MethodProbabilistic,
				Confidence: tierConfidence(fingerprintTiers, elapsed),
				Metadata: map[string]interface{}{
					"fingerprint":     fp,
					"elapsed_minutes": int(elapsed.Minutes()),
				},
			}, nil
		}
	}

	return Result{Method: MethodNone, Confidence: 0}, nil
}
