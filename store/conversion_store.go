package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"funnelpulse/api/models"
)

const conversionColumns = `
	id, analysis_id, conversion_id, email, customer_name, revenue_minor,
	currency, product_name, source, raw_payload, session_row_id, session_id,
	method, confidence, metadata, converted_at, attributed_at, created_at`

// uniqueViolation is the Postgres error code for a unique-constraint breach.
const uniqueViolation = "23505"

type ConversionStore struct {
	db *sql.DB
}

func NewConversionStore(db *sql.DB) *ConversionStore {
	return &ConversionStore{db: db}
}

func scanConversion(row interface{ Scan(...interface{}) error }) (*models.Conversion, error) {
	conv := &models.Conversion{}
	var (
		sessionRowID sql.NullInt64
		sessionID    sql.NullString
		attributedAt sql.NullTime
	)
	err := row.Scan(
		&conv.ID,
		&conv.AnalysisID,
		&conv.ConversionID,
		&conv.Email,
		&conv.CustomerName,
		&conv.RevenueMinor,
		&conv.Currency,
		&conv.ProductName,
		&conv.Source,
		&conv.RawPayload,
		&sessionRowID,
		&sessionID,
		&conv.Method,
		&conv.Confidence,
		&conv.Metadata,
		&conv.ConvertedAt,
		&attributedAt,
		&conv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if sessionRowID.Valid {
		conv.SessionRowID = &sessionRowID.Int64
	}
	conv.SessionID = sessionID.String
	if attributedAt.Valid {
		t := attributedAt.Time.UTC()
		conv.AttributedAt = &t
	}
	conv.ConvertedAt = conv.ConvertedAt.UTC()
	conv.CreatedAt = conv.CreatedAt.UTC()
	return conv, nil
}

// GetByConversionID looks up a conversion by its external id. Returns
// ErrNotFound when the id has not been seen.
func (s *ConversionStore) GetByConversionID(ctx context.Context, conversionID string) (*models.Conversion, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM conversions
		WHERE conversion_id = $1;
	`, conversionColumns)

	conv, err := scanConversion(s.db.QueryRowContext(ctx, query, conversionID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversion by id: %w", err)
	}
	return conv, nil
}

// Create inserts a conversion with its attribution outcome already attached.
// A duplicate conversion_id is not an error: the unique constraint is the
// correctness backstop under concurrent webhook deliveries, and a violation
// is mapped to (existing record, created=false).
func (s *ConversionStore) Create(ctx context.Context, conv *models.Conversion) (*models.Conversion, bool, error) {
	if conv.ConvertedAt.IsZero() {
		conv.ConvertedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO conversions (
			analysis_id, conversion_id, email, customer_name, revenue_minor,
			currency, product_name, source, raw_payload, session_row_id,
			session_id, method, confidence, metadata, converted_at, attributed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at;
	`
	var sessionRowID interface{}
	if conv.SessionRowID != nil {
		sessionRowID = *conv.SessionRowID
	}
	var sessionID interface{}
	if conv.SessionID != "" {
		sessionID = conv.SessionID
	}
	var attributedAt interface{}
	if conv.AttributedAt != nil {
		attributedAt = conv.AttributedAt.UTC()
	}

	err := s.db.QueryRowContext(ctx, query,
		conv.AnalysisID, conv.ConversionID, conv.Email, conv.CustomerName,
		conv.RevenueMinor, conv.Currency, conv.ProductName, conv.Source,
		conv.RawPayload, sessionRowID, sessionID, conv.Method,
		conv.Confidence, conv.Metadata, conv.ConvertedAt.UTC(), attributedAt,
	).Scan(&conv.ID, &conv.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			existing, getErr := s.GetByConversionID(ctx, conv.ConversionID)
			if getErr != nil {
				return nil, false, fmt.Errorf("duplicate conversion %s but fetch failed: %w", conv.ConversionID, getErr)
			}
			log.Printf("Duplicate conversion delivery detected: %s", conv.ConversionID)
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create conversion: %w", err)
	}
	conv.CreatedAt = conv.CreatedAt.UTC()
	return conv, true, nil
}

// GetAttributionBreakdown aggregates conversions and revenue by attribution
// method for one analysis. This is the downstream consumer of the engine's
// confidence output.
func (s *ConversionStore) GetAttributionBreakdown(ctx context.Context, analysisID string) ([]models.AttributionBreakdownRow, error) {
	query := `
		SELECT method, count(*), coalesce(sum(revenue_minor), 0), coalesce(avg(confidence), 0)
		FROM conversions
		WHERE analysis_id = $1
		GROUP BY method
		ORDER BY count(*) DESC;
	`
	rows, err := s.db.QueryContext(ctx, query, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attribution breakdown: %w", err)
	}
	defer rows.Close()

	var results []models.AttributionBreakdownRow
	for rows.Next() {
		var r models.AttributionBreakdownRow
		if err := rows.Scan(&r.Method, &r.Conversions, &r.RevenueMinor, &r.AvgConfidence); err != nil {
			return nil, fmt.Errorf("failed to scan attribution breakdown row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during attribution breakdown query: %w", err)
	}
	return results, nil
}
