package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gastrack/gateway/internal/models"
	"github.com/gastrack/gateway/internal/quota"
	"github.com/gastrack/gateway/internal/repository"
	"github.com/gastrack/gateway/internal/storage"
	"github.com/google/uuid"
)

const keyCacheTTL = 5 * time.Minute

// APIKeyService issues and validates caller credentials. Records live in
// postgres; lookups are cached in redis so the hot path usually avoids a
// database round trip. Issuing a key also registers its tier with the
// quota registry, which is what the admission path reads.
type APIKeyService struct {
	repository *repository.APIKeyRepository
	redis      *storage.RedisClient
	registry   *quota.Registry
}

func NewAPIKeyService(repo *repository.APIKeyRepository, redis *storage.RedisClient, registry *quota.Registry) *APIKeyService {
	return &APIKeyService{
		repository: repo,
		redis:      redis,
		registry:   registry,
	}
}

func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// Create issues a new key for the given tier and returns the plain key,
// the only time it is ever visible.
func (s *APIKeyService) Create(ctx context.Context, name, createdBy string, tier quota.Tier) (string, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}

	key := "gw_" + base64.URLEncoding.EncodeToString(keyBytes)

	apiKey := models.APIKey{
		KeyHash:   hashKey(key),
		Name:      name,
		CreatedBy: createdBy,
		Tier:      string(tier),
		IsActive:  true,
	}

	if err := s.repository.Create(ctx, &apiKey); err != nil {
		return "", fmt.Errorf("failed to create API key: %w", err)
	}

	// The quota registry is what admission decisions read; a registry
	// failure here leaves the caller on the default tier until retried.
	if _, err := s.registry.SetTier(ctx, key, tier); err != nil {
		log.Printf("api key %s created but tier not registered: %v", apiKey.ID, err)
	}

	return key, nil
}

// Validate resolves a plain key to its record, via the redis cache when
// possible. Returns (nil, nil) for keys that were never issued.
func (s *APIKeyService) Validate(ctx context.Context, key string) (*models.APIKey, error) {
	keyHash := hashKey(key)

	cacheKey := fmt.Sprintf("apikey:cache:%s", keyHash)
	if cached, err := s.redis.Get(ctx, cacheKey); err == nil && cached != "" {
		var apiKey models.APIKey
		if err := json.Unmarshal([]byte(cached), &apiKey); err == nil {
			return &apiKey, nil
		}
	}

	apiKey, err := s.repository.FindByHash(ctx, keyHash)
	if err != nil || apiKey == nil {
		return nil, err
	}

	if data, err := json.Marshal(apiKey); err == nil {
		s.redis.Set(ctx, cacheKey, data, keyCacheTTL)
	}

	return apiKey, nil
}

func (s *APIKeyService) Get(ctx context.Context, id string) (*models.APIKey, error) {
	return s.repository.FindByID(ctx, id)
}

func (s *APIKeyService) List(ctx context.Context) ([]models.APIKey, error) {
	return s.repository.List(ctx)
}

// SetActive enables or disables a key. Disabled keys are rejected at the
// validation middleware before any quota accounting happens.
func (s *APIKeyService) SetActive(ctx context.Context, id string, active bool) error {
	s.invalidateCache(ctx, id)
	return s.repository.Update(ctx, id, map[string]interface{}{"is_active": active})
}

func (s *APIKeyService) Delete(ctx context.Context, id string) error {
	s.invalidateCache(ctx, id)
	return s.repository.Delete(ctx, id)
}

func (s *APIKeyService) UpdateLastUsed(ctx context.Context, id uuid.UUID) {
	if err := s.repository.UpdateLastUsed(ctx, id); err != nil {
		log.Printf("failed to update last used for key %s: %v", id, err)
	}
}

func (s *APIKeyService) invalidateCache(ctx context.Context, id string) {
	apiKey, err := s.repository.FindByID(ctx, id)
	if err != nil || apiKey == nil {
		return
	}

	s.redis.Del(ctx, fmt.Sprintf("apikey:cache:%s", apiKey.KeyHash))
}
