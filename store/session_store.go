package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"funnelpulse/api/models"
)

// sessionColumns is the column list every session SELECT uses; keep it in
// sync with scanSession.
const sessionColumns = `
	id, analysis_id, session_id, fingerprint, email, external_user_id,
	order_id, landing_page, referrer, utm_source, utm_medium, utm_campaign,
	ip_address, user_agent, screen_resolution, timezone, language,
	page_view_count, last_page_url, first_seen_at, last_seen_at`

type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func scanSession(row interface{ Scan(...interface{}) error }) (*models.Session, error) {
	sess := &models.Session{}
	err := row.Scan(
		&sess.ID,
		&sess.AnalysisID,
		&sess.SessionID,
		&sess.Fingerprint,
		&sess.Email,
		&sess.ExternalUserID,
		&sess.OrderID,
		&sess.LandingPage,
		&sess.Referrer,
		&sess.UtmSource,
		&sess.UtmMedium,
		&sess.UtmCampaign,
		&sess.IPAddress,
		&sess.UserAgent,
		&sess.ScreenResolution,
		&sess.Timezone,
		&sess.Language,
		&sess.PageViewCount,
		&sess.LastPageURL,
		&sess.FirstSeenAt,
		&sess.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}
	sess.FirstSeenAt = sess.FirstSeenAt.UTC()
	sess.LastSeenAt = sess.LastSeenAt.UTC()
	return sess, nil
}

// Create inserts a new session row. FirstSeenAt/LastSeenAt default to now
// when zero; the stored values are written back onto sess along with the id.
func (s *SessionStore) Create(ctx context.Context, sess *models.Session) error {
	now := time.Now().UTC()
	if sess.FirstSeenAt.IsZero() {
		sess.FirstSeenAt = now
	}
	if sess.LastSeenAt.IsZero() {
		sess.LastSeenAt = now
	}

	query := `
		INSERT INTO sessions (
			analysis_id, session_id, fingerprint, email, external_user_id,
			order_id, landing_page, referrer, utm_source, utm_medium,
			utm_campaign, ip_address, user_agent, screen_resolution, timezone,
			language, page_view_count, last_page_url, first_seen_at, last_seen_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id;
	`
	err := s.db.QueryRowContext(ctx, query,
		sess.AnalysisID, sess.SessionID, sess.Fingerprint, sess.Email,
		sess.ExternalUserID, sess.OrderID, sess.LandingPage, sess.Referrer,
		sess.UtmSource, sess.UtmMedium, sess.UtmCampaign, sess.IPAddress,
		sess.UserAgent, sess.ScreenResolution, sess.Timezone, sess.Language,
		sess.PageViewCount, sess.LastPageURL, sess.FirstSeenAt, sess.LastSeenAt,
	).Scan(&sess.ID)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Update applies one SessionUpdate as a single UPDATE statement. Only the
// fields the tracking call actually revealed are included in the SET list.
func (s *SessionStore) Update(ctx context.Context, analysisID, sessionID string, upd models.SessionUpdate) error {
	set, args := buildSessionUpdateSet(upd)

	args = append(args, analysisID, sessionID)
	query := fmt.Sprintf(`
		UPDATE sessions SET %s
		WHERE analysis_id = $%d AND session_id = $%d;
	`, set, len(args)-1, len(args))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// buildSessionUpdateSet turns a SessionUpdate into a SET clause and its
// arguments. last_seen_at is always bumped.
func buildSessionUpdateSet(upd models.SessionUpdate) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(column string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Email != nil {
		add("email", *upd.Email)
	}
	if upd.ExternalUserID != nil {
		add("external_user_id", *upd.ExternalUserID)
	}
	if upd.OrderID != nil {
		add("order_id", *upd.OrderID)
	}
	if upd.LastPageURL != nil {
		add("last_page_url", *upd.LastPageURL)
	}
	if upd.PageViewDelta != 0 {
		args = append(args, upd.PageViewDelta)
		clauses = append(clauses, fmt.Sprintf("page_view_count = page_view_count + $%d", len(args)))
	}

	lastSeen := upd.LastSeenAt
	if lastSeen.IsZero() {
		lastSeen = time.Now().UTC()
	}
	add("last_seen_at", lastSeen.UTC())

	return strings.Join(clauses, ", "), args
}

// The finder methods below back the attribution waterfall. "No rows" is a
// nil/empty result, not an error; only real query faults are returned.

func (s *SessionStore) FindByOrderID(ctx context.Context, analysisID, orderID string) (*models.Session, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM sessions
		WHERE analysis_id = $1 AND order_id = $2
		ORDER BY last_seen_at DESC
		LIMIT 1;
	`, sessionColumns)

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, analysisID, orderID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session by order id: %w", err)
	}
	return sess, nil
}

func (s *SessionStore) FindByEmail(ctx context.Context, analysisID, email string, firstSeenAfter time.Time) ([]models.Session, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM sessions
		WHERE analysis_id = $1 AND lower(trim(email)) = $2 AND first_seen_at >= $3
		ORDER BY last_seen_at DESC;
	`, sessionColumns)

	return s.querySessions(ctx, "email", query, analysisID, email, firstSeenAfter.UTC())
}

func (s *SessionStore) FindBySessionID(ctx context.Context, analysisID, sessionID string) (*models.Session, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM sessions
		WHERE analysis_id = $1 AND session_id = $2;
	`, sessionColumns)

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, analysisID, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session by session id: %w", err)
	}
	return sess, nil
}

func (s *SessionStore) FindByUserID(ctx context.Context, analysisID, userID string) ([]models.Session, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM sessions
		WHERE analysis_id = $1 AND external_user_id = $2
		ORDER BY last_seen_at DESC;
	`, sessionColumns)

	return s.querySessions(ctx, "user id", query, analysisID, userID)
}

func (s *SessionStore) FindByFingerprint(ctx context.Context, analysisID, fingerprint string, firstSeenAfter time.Time) ([]models.Session, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM sessions
		WHERE analysis_id = $1 AND fingerprint = $2 AND first_seen_at >= $3
		ORDER BY last_seen_at DESC;
	`, sessionColumns)

	return s.querySessions(ctx, "fingerprint", query, analysisID, fingerprint, firstSeenAfter.UTC())
}

func (s *SessionStore) querySessions(ctx context.Context, what, query string, args ...interface{}) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find sessions by %s: %w", what, err)
	}
	defer rows.Close()

	var results []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row (%s query): %w", what, err)
		}
		results = append(results, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during session %s query: %w", what, err)
	}
	return results, nil
}
