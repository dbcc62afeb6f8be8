package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/loomery/loom/common/db"
	"github.com/loomery/loom/common/models"
)

// CredentialRepository handles database operations for credentials
type CredentialRepository struct {
	db *db.DB
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(database *db.DB) *CredentialRepository {
	return &CredentialRepository{db: database}
}

// GetByIDs fetches credential rows for a workspace in one query
func (r *CredentialRepository) GetByIDs(ctx context.Context, workspaceID uuid.UUID, ids []uuid.UUID) ([]*models.CredentialRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, workspace_id, name, type, data_encrypted, expires_at, last_used_at
		FROM credential
		WHERE workspace_id = $1 AND id = ANY($2)
	`

	rows, err := r.db.Query(ctx, query, workspaceID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	defer rows.Close()

	var records []*models.CredentialRecord
	for rows.Next() {
		rec := &models.CredentialRecord{}
		if err := rows.Scan(&rec.ID, &rec.WorkspaceID, &rec.Name, &rec.Type, &rec.DataEncrypted, &rec.ExpiresAt, &rec.LastUsedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// GetByName fetches one credential row by name within a workspace
func (r *CredentialRepository) GetByName(ctx context.Context, workspaceID uuid.UUID, name string) (*models.CredentialRecord, error) {
	query := `
		SELECT id, workspace_id, name, type, data_encrypted, expires_at, last_used_at
		FROM credential
		WHERE workspace_id = $1 AND name = $2
	`

	rec := &models.CredentialRecord{}
	err := r.db.QueryRow(ctx, query, workspaceID, name).Scan(
		&rec.ID, &rec.WorkspaceID, &rec.Name, &rec.Type, &rec.DataEncrypted, &rec.ExpiresAt, &rec.LastUsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential by name: %w", err)
	}

	return rec, nil
}

// TouchLastUsed bumps last_used_at for the given credential ids
func (r *CredentialRepository) TouchLastUsed(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE credential SET last_used_at = $2 WHERE id = ANY($1)`
	if _, err := r.db.Exec(ctx, query, ids, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to touch credential last_used: %w", err)
	}
	return nil
}
