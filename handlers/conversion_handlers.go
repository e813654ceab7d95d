package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"funnelpulse/api/attribution"
	"funnelpulse/api/models"
	"funnelpulse/api/store"
)

// conversionStore is the slice of the conversion store the webhook needs.
// *store.ConversionStore satisfies it; tests substitute an in-memory fake.
type conversionStore interface {
	GetByConversionID(ctx context.Context, conversionID string) (*models.Conversion, error)
	Create(ctx context.Context, conv *models.Conversion) (*models.Conversion, bool, error)
}

type ConversionHandlers struct {
	Conversions conversionStore
	Engine      *attribution.Engine
}

func NewConversionHandlers(conversions conversionStore, engine *attribution.Engine) *ConversionHandlers {
	return &ConversionHandlers{Conversions: conversions, Engine: engine}
}

type conversionResponse struct {
	ConversionID string `json:"conversionId"`
	Attributed   bool   `json:"attributed"`
	Method       string `json:"method"`
	Confidence   int    `json:"confidence"`
	SessionID    string `json:"sessionId,omitempty"`
	Duplicate    bool   `json:"duplicate,omitempty"`
}

// HandleWebhook ingests one payment webhook: de-duplicates by conversion id,
// runs the attribution waterfall, and persists the outcome. A conversion
// with no match is still recorded; ingestion never rejects an event because
// attribution found nothing.
func (h *ConversionHandlers) HandleWebhook(c *gin.Context) {
	rawPayload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unable to read request body"})
		return
	}

	var req models.ConversionWebhookRequest
	if err := json.Unmarshal(rawPayload, &req); err != nil {
		log.Printf("Error binding conversion webhook JSON: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.AnalysisID == "" || req.ConversionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "analysisId and conversionId are required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	// Duplicate deliveries short-circuit: return the stored attribution, do
	// not re-run matching.
	existing, err := h.Conversions.GetByConversionID(ctx, req.ConversionID)
	if err == nil {
		c.JSON(http.StatusOK, responseFromConversion(existing, true))
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		log.Printf("Error checking for existing conversion %s: %v", req.ConversionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process conversion"})
		return
	}

	convertedAt := parseConvertedAt(req.ConvertedAt)

	result, err := h.Engine.AttributeConversion(ctx, attribution.Input{
		AnalysisID:     req.AnalysisID,
		Email:          req.Email,
		OrderID:        req.OrderID,
		UserID:         req.UserID,
		SessionID:      req.SessionID,
		IPAddress:      req.IPAddress,
		UserAgent:      req.UserAgent,
		ConversionTime: convertedAt,
	})
	if err != nil {
		log.Printf("Error attributing conversion %s: %v", req.ConversionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to attribute conversion"})
		return
	}

	conv := &models.Conversion{
		AnalysisID:   req.AnalysisID,
		ConversionID: req.ConversionID,
		Email:        req.Email,
		CustomerName: req.CustomerName,
		RevenueMinor: req.RevenueMinor,
		Currency:     req.Currency,
		ProductName:  req.ProductName,
		Source:       req.Source,
		RawPayload:   rawPayload,
		Method:       string(result.Method),
		Confidence:   result.Confidence,
		ConvertedAt:  convertedAt,
	}
	if result.Session != nil {
		conv.SessionRowID = &result.Session.ID
		conv.SessionID = result.Session.SessionID
		attributedAt := time.Now().UTC()
		conv.AttributedAt = &attributedAt
	}
	if len(result.Metadata) > 0 {
		if metadata, err := json.Marshal(result.Metadata); err == nil {
			conv.Metadata = metadata
		} else {
			log.Printf("Error marshaling attribution metadata for %s: %v", req.ConversionID, err)
		}
	}

	stored, created, err := h.Conversions.Create(ctx, conv)
	if err != nil {
		log.Printf("Error storing conversion %s: %v", req.ConversionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store conversion"})
		return
	}

	status := http.StatusCreated
	if !created {
		// A concurrent duplicate delivery won the insert race; its stored
		// attribution is the answer.
		status = http.StatusOK
	}
	c.JSON(status, responseFromConversion(stored, !created))
}

func responseFromConversion(conv *models.Conversion, duplicate bool) conversionResponse {
	return conversionResponse{
		ConversionID: conv.ConversionID,
		Attributed:   conv.AttributedAt != nil,
		Method:       conv.Method,
		Confidence:   conv.Confidence,
		SessionID:    conv.SessionID,
		Duplicate:    duplicate,
	}
}

// parseConvertedAt interprets the webhook timestamp, substituting receipt
// time when it is missing or unparsable: a best-effort match is more
// valuable than failing the whole attribution attempt.
func parseConvertedAt(raw string) time.Time {
	if raw == "" {
		return time.Now().UTC()
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		log.Printf("Unparsable convertedAt %q, substituting receipt time", raw)
		return time.Now().UTC()
	}
	return t.UTC()
}
