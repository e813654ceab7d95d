package models

import (
	"encoding/json"
	"time"
)

// Session represents one visitor's journey through a funnel analysis.
// Identity signals (email, external user id, order id) start empty and are
// backfilled as the visitor reveals them.
type Session struct {
	ID               int64     `json:"id"`
	AnalysisID       string    `json:"analysisId"`
	SessionID        string    `json:"sessionId"`
	Fingerprint      string    `json:"fingerprint"`
	Email            string    `json:"email,omitempty"`
	ExternalUserID   string    `json:"externalUserId,omitempty"`
	OrderID          string    `json:"orderId,omitempty"`
	LandingPage      string    `json:"landingPage,omitempty"`
	Referrer         string    `json:"referrer,omitempty"`
	UtmSource        string    `json:"utmSource,omitempty"`
	UtmMedium        string    `json:"utmMedium,omitempty"`
	UtmCampaign      string    `json:"utmCampaign,omitempty"`
	IPAddress        string    `json:"ipAddress,omitempty"`
	UserAgent        string    `json:"userAgent,omitempty"`
	ScreenResolution string    `json:"screenResolution,omitempty"`
	Timezone         string    `json:"timezone,omitempty"`
	Language         string    `json:"language,omitempty"`
	PageViewCount    int       `json:"pageViewCount"`
	LastPageURL      string    `json:"lastPageUrl,omitempty"`
	FirstSeenAt      time.Time `json:"firstSeenAt"`
	LastSeenAt       time.Time `json:"lastSeenAt"`
}

// SessionUpdate collects the changes one tracking call wants to apply to an
// existing session. Nil pointer fields are left untouched; the whole set is
// applied as a single UPDATE.
type SessionUpdate struct {
	Email          *string
	ExternalUserID *string
	OrderID        *string
	LastPageURL    *string
	PageViewDelta  int
	LastSeenAt     time.Time
}

// JourneyEvent is one append-only record in a session's event stream.
type JourneyEvent struct {
	EventID    string          `json:"eventId"`
	AnalysisID string          `json:"analysisId"`
	SessionID  string          `json:"sessionId"`
	EventType  string          `json:"eventType"`
	PageURL    string          `json:"pageUrl"`
	Timestamp  time.Time       `json:"timestamp"`
	IPAddress  string          `json:"ipAddress"`
	UserAgent  string          `json:"userAgent"`
	EventData  json.RawMessage `json:"eventData,omitempty"`
}

// TrackRequest is the body of a client-side tracking call: a snapshot of the
// session plus the events batched since the last call.
type TrackRequest struct {
	AnalysisID       string         `json:"analysisId" binding:"required"`
	SessionID        string         `json:"sessionId" binding:"required"`
	Email            string         `json:"email"`
	ExternalUserID   string         `json:"externalUserId"`
	OrderID          string         `json:"orderId"`
	LandingPage      string         `json:"landingPage"`
	Referrer         string         `json:"referrer"`
	UtmSource        string         `json:"utmSource"`
	UtmMedium        string         `json:"utmMedium"`
	UtmCampaign      string         `json:"utmCampaign"`
	UserAgent        string         `json:"userAgent"`
	ScreenResolution string         `json:"screenResolution"`
	Timezone         string         `json:"timezone"`
	Language         string         `json:"language"`
	LastPageURL      string         `json:"lastPageUrl"`
	Events           []JourneyEvent `json:"events"`
}

type TopPageResult struct {
	PageURL string `json:"pageUrl"`
	Count   uint64 `json:"count"`
}
