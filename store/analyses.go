package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Sentiment is the overall tone of an analyzed document.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Entities groups the named entities found in a document.
type Entities struct {
	People    []string `json:"people"`
	Companies []string `json:"companies"`
	Dates     []string `json:"dates"`
}

// Analysis is one AI analysis run over a document. Rows are append-only:
// a new run inserts a new row, nothing is ever recomputed in place.
type Analysis struct {
	ID           string
	DocumentID   string
	OrgID        string
	UserID       string
	AnalysisType string
	Summary      string
	Entities     Entities
	Sentiment    Sentiment
	KeyPoints    []string
	ActionItems  []string
	Confidence   float64
	Model        string
	CreatedAt    time.Time
}

// InsertAnalysis appends an analysis row. The ID is generated when empty.
func (s *Store) InsertAnalysis(ctx context.Context, a *Analysis) error {
	if a.ID == "" {
		a.ID = s.newID()
	}
	if a.Sentiment == "" {
		a.Sentiment = SentimentNeutral
	}
	a.CreatedAt = time.Now()

	entities, err := json.Marshal(a.Entities)
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}
	keyPoints, err := json.Marshal(emptyIfNil(a.KeyPoints))
	if err != nil {
		return fmt.Errorf("marshal key points: %w", err)
	}
	actionItems, err := json.Marshal(emptyIfNil(a.ActionItems))
	if err != nil {
		return fmt.Errorf("marshal action items: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO document_analyses
			(id, document_id, org_id, user_id, analysis_type, summary, entities,
			 sentiment, key_points, action_items, confidence, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.DocumentID, a.OrgID, a.UserID, a.AnalysisType, a.Summary, string(entities),
		a.Sentiment, string(keyPoints), string(actionItems), a.Confidence, a.Model,
		a.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

// GetAnalyses returns all analyses for a document, newest first.
func (s *Store) GetAnalyses(ctx context.Context, documentID string) ([]Analysis, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, org_id, user_id, analysis_type, summary, entities,
		       sentiment, key_points, action_items, confidence, model, created_at
		FROM document_analyses WHERE document_id = ?
		ORDER BY created_at DESC, id DESC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("get analyses: %w", err)
	}
	defer rows.Close()

	var out []Analysis
	for rows.Next() {
		var a Analysis
		var entities, keyPoints, actionItems string
		var createdAt int64
		err := rows.Scan(&a.ID, &a.DocumentID, &a.OrgID, &a.UserID, &a.AnalysisType,
			&a.Summary, &entities, &a.Sentiment, &keyPoints, &actionItems,
			&a.Confidence, &a.Model, &createdAt)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(entities), &a.Entities); err != nil {
			return nil, fmt.Errorf("unmarshal entities: %w", err)
		}
		if err := json.Unmarshal([]byte(keyPoints), &a.KeyPoints); err != nil {
			return nil, fmt.Errorf("unmarshal key points: %w", err)
		}
		if err := json.Unmarshal([]byte(actionItems), &a.ActionItems); err != nil {
			return nil, fmt.Errorf("unmarshal action items: %w", err)
		}
		a.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountAnalyses returns the number of analyses for a document.
func (s *Store) CountAnalyses(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM document_analyses WHERE document_id = ?`, documentID,
	).Scan(&n)
	return n, err
}

func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
