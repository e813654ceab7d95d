package models

import (
	"encoding/json"
	"time"
)

// Conversion represents one monetization event received from a payment
// webhook. The attribution outcome (session reference, method, confidence,
// metadata) is written once when the record is created and never re-run.
//
// SessionRowID is a nullable reference, not ownership: funnel-level cleanup
// may delete the session later, in which case SessionID keeps the client
// session id as a historical denormalized value.
type Conversion struct {
	ID           int64           `json:"id"`
	AnalysisID   string          `json:"analysisId"`
	ConversionID string          `json:"conversionId"`
	Email        string          `json:"email,omitempty"`
	CustomerName string          `json:"customerName,omitempty"`
	RevenueMinor int64           `json:"revenueMinor"`
	Currency     string          `json:"currency,omitempty"`
	ProductName  string          `json:"productName,omitempty"`
	Source       string          `json:"source,omitempty"`
	RawPayload   json.RawMessage `json:"-"`
	SessionRowID *int64          `json:"-"`
	SessionID    string          `json:"sessionId,omitempty"`
	Method       string          `json:"method"`
	Confidence   int             `json:"confidence"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	ConvertedAt  time.Time       `json:"convertedAt"`
	AttributedAt *time.Time      `json:"attributedAt,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// ConversionWebhookRequest is the payment-provider webhook body. The session
// id / user id / ip / user agent fields are optional echoes from the
// client-side checkout and feed the attribution waterfall.
type ConversionWebhookRequest struct {
	AnalysisID   string `json:"analysisId" binding:"required"`
	ConversionID string `json:"conversionId" binding:"required"`
	Email        string `json:"email"`
	CustomerName string `json:"customerName"`
	RevenueMinor int64  `json:"revenueMinor"`
	Currency     string `json:"currency"`
	ProductName  string `json:"productName"`
	Source       string `json:"source"`
	ConvertedAt  string `json:"convertedAt"`
	OrderID      string `json:"orderId"`
	SessionID    string `json:"sessionId"`
	UserID       string `json:"userId"`
	IPAddress    string `json:"ipAddress"`
	UserAgent    string `json:"userAgent"`
}

// AttributionBreakdownRow is one line of the per-method conversion report.
type AttributionBreakdownRow struct {
	Method        string  `json:"method"`
	Conversions   int64   `json:"conversions"`
	RevenueMinor  int64   `json:"revenueMinor"`
	AvgConfidence float64 `json:"avgConfidence"`
}
