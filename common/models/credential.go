package models

import (
	"time"

	"github.com/google/uuid"
)

// CredentialRecord is the stored credential row. DataEncrypted is an
// opaque AEAD envelope; plaintext is never stored.
type CredentialRecord struct {
	ID            uuid.UUID  `json:"id"`
	WorkspaceID   uuid.UUID  `json:"workspace_id"`
	Name          string     `json:"name"`
	Type          string     `json:"type"`
	DataEncrypted string     `json:"-"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
}

// Credential is the resolved, decrypted view handed to executors
type Credential struct {
	ID        uuid.UUID         `json:"id"`
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	Data      map[string]string `json:"data"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Expired   bool              `json:"expired"`
}
