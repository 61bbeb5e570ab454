package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AIConfig is the per-organization AI capability configuration. A missing
// row means the capability is not configured — that is a normal state, not
// an error.
type AIConfig struct {
	OrgID         string
	Provider      string // "anthropic" or "openai"
	Endpoint      string
	APIKey        string
	Model         string
	EmbedEndpoint string
	EmbedModel    string
	EmbedDim      int
}

// HasGeneration reports whether a text-generation model is configured.
func (c *AIConfig) HasGeneration() bool {
	return c != nil && c.Provider != "" && c.Model != ""
}

// HasEmbedding reports whether an embedding model is configured.
func (c *AIConfig) HasEmbedding() bool {
	return c != nil && c.EmbedEndpoint != "" && c.EmbedModel != ""
}

// CreateOrganization inserts an organization row.
func (s *Store) CreateOrganization(ctx context.Context, id, name string) error {
	if id == "" {
		id = s.newID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, created_at) VALUES (?, ?, ?)`,
		id, name, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert organization: %w", err)
	}
	return nil
}

// AddMember adds a user to an organization with the given status
// ("active" or "suspended").
func (s *Store) AddMember(ctx context.Context, orgID, userID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO org_members (org_id, user_id, status) VALUES (?, ?, ?)
		ON CONFLICT (org_id, user_id) DO UPDATE SET status = excluded.status`,
		orgID, userID, status)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// CreateCustomer inserts a customer row owned by an organization.
func (s *Store) CreateCustomer(ctx context.Context, id, orgID, name string) error {
	if id == "" {
		id = s.newID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, org_id, name) VALUES (?, ?, ?)`, id, orgID, name)
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

// AssignCustomer links a user to a customer record.
func (s *Store) AssignCustomer(ctx context.Context, customerID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO customer_assignments (customer_id, user_id) VALUES (?, ?)`,
		customerID, userID)
	if err != nil {
		return fmt.Errorf("assign customer: %w", err)
	}
	return nil
}

// HasDocumentAccess reports whether the user may read the document: either
// through an assignment on the document's customer, or through active
// membership in the owning organization.
func (s *Store) HasDocumentAccess(ctx context.Context, doc *Document, userID string) (bool, error) {
	if doc.CustomerID != "" {
		var n int
		err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM customer_assignments WHERE customer_id = ? AND user_id = ?`,
			doc.CustomerID, userID).Scan(&n)
		if err != nil {
			return false, fmt.Errorf("check assignment: %w", err)
		}
		if n > 0 {
			return true, nil
		}
	}

	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM org_members WHERE org_id = ? AND user_id = ?`,
		doc.OrgID, userID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return status == "active", nil
}

// SetAIConfig upserts the organization's AI capability configuration.
func (s *Store) SetAIConfig(ctx context.Context, cfg *AIConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO org_ai_configs (org_id, provider, endpoint, api_key, model, embed_endpoint, embed_model, embed_dim)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id) DO UPDATE SET
			provider = excluded.provider,
			endpoint = excluded.endpoint,
			api_key = excluded.api_key,
			model = excluded.model,
			embed_endpoint = excluded.embed_endpoint,
			embed_model = excluded.embed_model,
			embed_dim = excluded.embed_dim`,
		cfg.OrgID, cfg.Provider, cfg.Endpoint, cfg.APIKey, cfg.Model,
		cfg.EmbedEndpoint, cfg.EmbedModel, cfg.EmbedDim)
	if err != nil {
		return fmt.Errorf("set ai config: %w", err)
	}
	return nil
}

// GetAIConfig returns the organization's AI configuration, or nil when none
// is configured.
func (s *Store) GetAIConfig(ctx context.Context, orgID string) (*AIConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT org_id, provider, endpoint, api_key, model, embed_endpoint, embed_model, embed_dim
		FROM org_ai_configs WHERE org_id = ?`, orgID)

	var cfg AIConfig
	err := row.Scan(&cfg.OrgID, &cfg.Provider, &cfg.Endpoint, &cfg.APIKey, &cfg.Model,
		&cfg.EmbedEndpoint, &cfg.EmbedModel, &cfg.EmbedDim)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ai config: %w", err)
	}
	return &cfg, nil
}
