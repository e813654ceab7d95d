package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"funnelpulse/api/attribution"
	"funnelpulse/api/models"
	"funnelpulse/api/store"
)

type TrackHandlers struct {
	Sessions *store.SessionStore
	Events   *store.EventStore
}

func NewTrackHandlers(sessions *store.SessionStore, events *store.EventStore) *TrackHandlers {
	return &TrackHandlers{Sessions: sessions, Events: events}
}

// TrackSession handles one client-side tracking call: it creates the session
// on first sight, applies backfilled identity signals on later calls, and
// batch-inserts the journey events into ClickHouse.
func (h *TrackHandlers) TrackSession(c *gin.Context) {
	var req models.TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("Error binding incoming tracking JSON: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	// The server-observed IP wins over anything the client claims.
	clientIP := c.ClientIP()

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	sess, err := h.Sessions.FindBySessionID(ctx, req.AnalysisID, req.SessionID)
	if err != nil {
		log.Printf("Error looking up session %s: %v", req.SessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record tracking data"})
		return
	}

	if sess == nil {
		sess = newSessionFromTrack(req, clientIP)
		if err := h.Sessions.Create(ctx, sess); err != nil {
			log.Printf("Error creating session %s: %v", req.SessionID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record tracking data"})
			return
		}
	} else {
		upd := buildSessionUpdate(sess, req)
		if err := h.Sessions.Update(ctx, req.AnalysisID, req.SessionID, upd); err != nil {
			log.Printf("Error updating session %s: %v", req.SessionID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record tracking data"})
			return
		}
	}

	if len(req.Events) > 0 {
		events := make([]models.JourneyEvent, 0, len(req.Events))
		for _, event := range req.Events {
			event.EventID = uuid.New().String()
			event.AnalysisID = req.AnalysisID
			event.SessionID = req.SessionID
			event.IPAddress = clientIP
			if event.UserAgent == "" {
				event.UserAgent = req.UserAgent
			}
			if event.Timestamp.IsZero() {
				event.Timestamp = time.Now().UTC()
			}
			events = append(events, event)
		}
		if err := h.Events.InsertJourneyEvents(ctx, events); err != nil {
			log.Printf("Error inserting journey events into ClickHouse: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record tracking events"})
			return
		}
	}

	c.Status(http.StatusOK)
}

// newSessionFromTrack builds the initial session row. The stored fingerprint
// uses the same signal set the attribution engine hashes at conversion time
// (ip + user agent), so probabilistic matching can find it later.
func newSessionFromTrack(req models.TrackRequest, clientIP string) *models.Session {
	return &models.Session{
		AnalysisID:       req.AnalysisID,
		SessionID:        req.SessionID,
		Fingerprint:      attribution.GenerateFingerprint(clientIP, req.UserAgent, "", "", ""),
		Email:            req.Email,
		ExternalUserID:   req.ExternalUserID,
		OrderID:          req.OrderID,
		LandingPage:      req.LandingPage,
		Referrer:         req.Referrer,
		UtmSource:        req.UtmSource,
		UtmMedium:        req.UtmMedium,
		UtmCampaign:      req.UtmCampaign,
		IPAddress:        clientIP,
		UserAgent:        req.UserAgent,
		ScreenResolution: req.ScreenResolution,
		Timezone:         req.Timezone,
		Language:         req.Language,
		PageViewCount:    countPageViews(req.Events),
		LastPageURL:      req.LastPageURL,
	}
}

// buildSessionUpdate collects only the fields this call newly revealed.
// Identity signals are backfilled once and never overwritten with empties.
func buildSessionUpdate(sess *models.Session, req models.TrackRequest) models.SessionUpdate {
	upd := models.SessionUpdate{
		PageViewDelta: countPageViews(req.Events),
		LastSeenAt:    time.Now().UTC(),
	}
	if req.Email != "" && sess.Email == "" {
		upd.Email = &req.Email
	}
	if req.ExternalUserID != "" && sess.ExternalUserID == "" {
		upd.ExternalUserID = &req.ExternalUserID
	}
	if req.OrderID != "" && sess.OrderID == "" {
		upd.OrderID = &req.OrderID
	}
	if req.LastPageURL != "" && req.LastPageURL != sess.LastPageURL {
		upd.LastPageURL = &req.LastPageURL
	}
	return upd
}

func countPageViews(events []models.JourneyEvent) int {
	n := 0
	for _, event := range events {
		if event.EventType == "page_view" {
			n++
		}
	}
	return n
}
