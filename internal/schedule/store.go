package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bookline/bookline/internal/apperr"
	"github.com/bookline/bookline/internal/db"
)

// Store loads and saves tenant config documents. Documents are stored as a
// single jsonb column and decoded strictly into Config.
type Store struct {
	pool *db.Pool
}

func NewStore(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Get(ctx context.Context, tenantID string) (*Config, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `
		SELECT document
		FROM tenant_configs
		WHERE tenant_id = $1
	`, tenantID).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFoundf("config for tenant %q", tenantID)
		}
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("tenant %s: malformed config document: %w", tenantID, err)
	}
	cfg.TenantID = tenantID
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tenant %s: invalid config document: %w", tenantID, err)
	}
	return &cfg, nil
}

func (s *Store) Put(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %s", apperr.ErrInvalid, err)
	}
	doc, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tenant_configs (tenant_id, document)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id) DO UPDATE
		SET document = EXCLUDED.document,
			updated_at = now()
	`, cfg.TenantID, doc)
	return err
}
