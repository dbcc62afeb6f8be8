package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loomery/loom/common/cache"
	"github.com/loomery/loom/common/crypto"
	"github.com/loomery/loom/common/logger"
	"github.com/loomery/loom/common/models"
)

// Store fetches credential rows. Batch fetch keeps a multi-credential
// resolve to one query.
type Store interface {
	GetByIDs(ctx context.Context, workspaceID uuid.UUID, ids []uuid.UUID) ([]*models.CredentialRecord, error)
	GetByName(ctx context.Context, workspaceID uuid.UUID, name string) (*models.CredentialRecord, error)
	TouchLastUsed(ctx context.Context, ids []uuid.UUID) error
}

// Resolver decrypts credentials with the master keyring and caches the
// encrypted records. Plaintext never enters the cache: envelopes are
// opened on every resolve, so secrets only live on the caller's stack.
type Resolver struct {
	store   Store
	keyring *crypto.Keyring
	cache   *cache.Layered
	ttl     time.Duration
	log     *logger.Logger

	mu   sync.Mutex
	keys map[uuid.UUID][]string // namespace -> cache keys, for full invalidation
}

// NewResolver creates a credential resolver
func NewResolver(store Store, keyring *crypto.Keyring, c *cache.Layered, ttl time.Duration, log *logger.Logger) *Resolver {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &Resolver{
		store:   store,
		keyring: keyring,
		cache:   c,
		ttl:     ttl,
		log:     log,
		keys:    make(map[uuid.UUID][]string),
	}
}

// Resolve returns decrypted credentials for the given ids, cache-first.
// Missing ids are fetched in one batch query. Expired credentials are
// returned with Expired=true; callers decide whether to use them.
func (r *Resolver) Resolve(ctx context.Context, workspaceID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*models.Credential, error) {
	resolved := make(map[uuid.UUID]*models.Credential, len(ids))
	var misses []uuid.UUID

	for _, id := range ids {
		record, ok := r.cachedRecord(ctx, workspaceID, id)
		if !ok {
			misses = append(misses, id)
			continue
		}
		cred, err := r.decrypt(record)
		if err != nil {
			return nil, err
		}
		resolved[id] = cred
	}

	if len(misses) > 0 {
		records, err := r.store.GetByIDs(ctx, workspaceID, misses)
		if err != nil {
			return nil, fmt.Errorf("fetch credentials: %w", err)
		}

		for _, record := range records {
			r.cacheRecord(ctx, workspaceID, record)
			cred, err := r.decrypt(record)
			if err != nil {
				return nil, err
			}
			resolved[record.ID] = cred
		}

		if err := r.store.TouchLastUsed(ctx, misses); err != nil {
			r.log.Warn("touch credential last_used failed", "error", err)
		}
	}

	for _, id := range ids {
		if _, ok := resolved[id]; !ok {
			return nil, models.WrapCoded(models.CodeNotFound, fmt.Sprintf("credential %s", id), models.ErrNotFound)
		}
	}

	return resolved, nil
}

// ResolveByName returns one decrypted credential looked up by name
func (r *Resolver) ResolveByName(ctx context.Context, workspaceID uuid.UUID, name string) (*models.Credential, error) {
	record, err := r.store.GetByName(ctx, workspaceID, name)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, models.WrapCoded(models.CodeNotFound, fmt.Sprintf("credential %q", name), models.ErrNotFound)
	}

	r.cacheRecord(ctx, workspaceID, record)
	return r.decrypt(record)
}

// Invalidate removes cache entries for the given ids. An empty id list
// clears the entire namespace.
func (r *Resolver) Invalidate(ctx context.Context, workspaceID uuid.UUID, ids ...uuid.UUID) {
	if len(ids) > 0 {
		for _, id := range ids {
			_ = r.cache.Delete(ctx, r.cacheKey(workspaceID, id))
		}
		return
	}

	r.mu.Lock()
	keys := r.keys[workspaceID]
	delete(r.keys, workspaceID)
	r.mu.Unlock()

	for _, key := range keys {
		_ = r.cache.Delete(ctx, key)
	}
}

func (r *Resolver) decrypt(record *models.CredentialRecord) (*models.Credential, error) {
	plaintext, err := r.keyring.Open(record.DataEncrypted)
	if err != nil {
		// Never surface envelope internals or plaintext details.
		r.log.Error("credential decryption failed", "credential_id", record.ID)
		return nil, models.WrapCoded(models.CodeDecryptionFailed, fmt.Sprintf("credential %s", record.ID), models.ErrDecryptionFailed)
	}

	var data map[string]string
	if err := json.Unmarshal(plaintext, &data); err != nil {
		r.log.Error("credential payload malformed", "credential_id", record.ID)
		return nil, models.WrapCoded(models.CodeDecryptionFailed, fmt.Sprintf("credential %s", record.ID), models.ErrDecryptionFailed)
	}

	return &models.Credential{
		ID:        record.ID,
		Name:      record.Name,
		Type:      record.Type,
		Data:      data,
		ExpiresAt: record.ExpiresAt,
		Expired:   record.ExpiresAt != nil && record.ExpiresAt.Before(time.Now()),
	}, nil
}

func (r *Resolver) cachedRecord(ctx context.Context, workspaceID, id uuid.UUID) (*models.CredentialRecord, bool) {
	raw, ok, err := r.cache.Get(ctx, r.cacheKey(workspaceID, id))
	if err != nil || !ok {
		return nil, false
	}
	var record models.CredentialRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, false
	}
	return &record, true
}

func (r *Resolver) cacheRecord(ctx context.Context, workspaceID uuid.UUID, record *models.CredentialRecord) {
	raw, err := json.Marshal(record)
	if err != nil {
		return
	}

	key := r.cacheKey(workspaceID, record.ID)
	if err := r.cache.Set(ctx, key, raw, r.ttl); err != nil {
		return
	}

	r.mu.Lock()
	r.keys[workspaceID] = append(r.keys[workspaceID], key)
	r.mu.Unlock()
}

func (r *Resolver) cacheKey(workspaceID, id uuid.UUID) string {
	return fmt.Sprintf("cred:%s:%s", workspaceID, id)
}
