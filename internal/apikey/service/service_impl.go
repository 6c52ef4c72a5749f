package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/flowvane/creditdesk/internal/apikey/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	apiKeyPrefix              = "cd_live_key_"
	apiKeySecretBytes         = 32
	apiKeyRotationGracePeriod = 24 * time.Hour
)

var allowedScopes = map[string]struct{}{
	apikeydomain.ScopeWorkLogWrite: {},
	apikeydomain.ScopeBalanceRead:  {},
	apikeydomain.ScopeLedgerRead:   {},
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  apikeydomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  apikeydomain.Repository
	genID *snowflake.Node
}

func New(p Params) apikeydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("apikey.service"),
		repo:  p.Repo,
		genID: p.GenID,
	}
}

func (s *Service) List(ctx context.Context, providerID snowflake.ID) ([]apikeydomain.Response, error) {
	if providerID == 0 {
		return nil, apikeydomain.ErrInvalidProvider
	}

	items, err := s.repo.List(ctx, s.db, providerID)
	if err != nil {
		return nil, err
	}

	resp := make([]apikeydomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}

	return resp, nil
}

func (s *Service) Create(ctx context.Context, req apikeydomain.CreateRequest) (*apikeydomain.SecretResponse, error) {
	if req.ProviderID == 0 {
		return nil, apikeydomain.ErrInvalidProvider
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = []string{apikeydomain.ScopeWorkLogWrite}
	}
	for _, scope := range scopes {
		if _, ok := allowedScopes[scope]; !ok {
			return nil, apikeydomain.ErrInvalidScope
		}
	}

	now := time.Now().UTC()
	id := s.genID.Generate()
	keyID := newKeyID(id)
	plain, hash, err := generateAPIKey(keyID)
	if err != nil {
		return nil, err
	}

	key := &apikeydomain.APIKey{
		ID:         id,
		ProviderID: req.ProviderID,
		KeyID:      keyID,
		Name:       name,
		Scopes:     scopes,
		KeyHash:    hash,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.Insert(ctx, s.db, key); err != nil {
		return nil, err
	}

	return &apikeydomain.SecretResponse{KeyID: key.KeyID, APIKey: plain}, nil
}

func (s *Service) Rotate(ctx context.Context, providerID snowflake.ID, keyID string) (*apikeydomain.SecretResponse, error) {
	if providerID == 0 {
		return nil, apikeydomain.ErrInvalidProvider
	}

	trimmed := strings.TrimSpace(keyID)
	if trimmed == "" {
		return nil, apikeydomain.ErrInvalidKeyID
	}

	var result *apikeydomain.SecretResponse
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByKeyID(ctx, tx, trimmed)
		if err != nil {
			return err
		}
		if current == nil || current.ProviderID != providerID || !current.IsActive || isExpired(current.ExpiresAt) {
			return apikeydomain.ErrNotFound
		}

		now := time.Now().UTC()
		current.ExpiresAt = ptrTime(now.Add(apiKeyRotationGracePeriod))
		current.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, current); err != nil {
			return err
		}

		id := s.genID.Generate()
		nextKeyID := newKeyID(id)
		plain, hash, err := generateAPIKey(nextKeyID)
		if err != nil {
			return err
		}

		rotatedFrom := current.KeyID
		next := &apikeydomain.APIKey{
			ID:               id,
			ProviderID:       providerID,
			KeyID:            nextKeyID,
			Name:             current.Name,
			Scopes:           current.Scopes,
			KeyHash:          hash,
			IsActive:         true,
			CreatedAt:        now,
			UpdatedAt:        now,
			RotatedFromKeyID: &rotatedFrom,
		}

		if err := s.repo.Insert(ctx, tx, next); err != nil {
			return err
		}

		result = &apikeydomain.SecretResponse{KeyID: next.KeyID, APIKey: plain}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Service) Revoke(ctx context.Context, providerID snowflake.ID, keyID string) error {
	if providerID == 0 {
		return apikeydomain.ErrInvalidProvider
	}

	trimmed := strings.TrimSpace(keyID)
	if trimmed == "" {
		return apikeydomain.ErrInvalidKeyID
	}

	key, err := s.repo.FindByKeyID(ctx, s.db, trimmed)
	if err != nil {
		return err
	}
	if key == nil || key.ProviderID != providerID {
		return apikeydomain.ErrNotFound
	}

	now := time.Now().UTC()
	key.IsActive = false
	key.UpdatedAt = now
	if key.ExpiresAt == nil || key.ExpiresAt.After(now) {
		key.ExpiresAt = &now
	}
	return s.repo.Update(ctx, s.db, key)
}

func (s *Service) Authenticate(ctx context.Context, raw string) (*apikeydomain.APIKey, error) {
	keyID, ok := keyIDFromPlain(raw)
	if !ok {
		return nil, apikeydomain.ErrUnauthorized
	}

	key, err := s.repo.FindByKeyID(ctx, s.db, keyID)
	if err != nil {
		return nil, err
	}
	if key == nil || !key.IsActive || isExpired(key.ExpiresAt) {
		return nil, apikeydomain.ErrUnauthorized
	}

	if err := bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)); err != nil {
		return nil, apikeydomain.ErrUnauthorized
	}

	now := time.Now().UTC()
	if err := s.repo.TouchLastUsed(ctx, s.db, key.ID, now); err != nil {
		s.log.Warn("touch last_used_at failed", zap.String("key_id", key.KeyID), zap.Error(err))
	}
	key.LastUsedAt = &now

	return key, nil
}

func toResponse(key *apikeydomain.APIKey) apikeydomain.Response {
	return apikeydomain.Response{
		KeyID:            key.KeyID,
		Name:             key.Name,
		Scopes:           key.Scopes,
		IsActive:         key.IsActive,
		CreatedAt:        key.CreatedAt,
		LastUsedAt:       key.LastUsedAt,
		ExpiresAt:        key.ExpiresAt,
		RotatedFromKeyID: key.RotatedFromKeyID,
	}
}

func generateAPIKey(keyID string) (string, string, error) {
	secret := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", "", err
	}

	secretPart := hex.EncodeToString(secret)
	trimmed := strings.TrimPrefix(keyID, "key_")
	plain := fmt.Sprintf("%s%s_%s", apiKeyPrefix, trimmed, secretPart)
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return plain, string(hash), nil
}

// keyIDFromPlain recovers the key_id segment so the hash lookup stays a
// single indexed read.
func keyIDFromPlain(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	rest, ok := strings.CutPrefix(raw, apiKeyPrefix)
	if !ok {
		return "", false
	}
	idPart, _, ok := strings.Cut(rest, "_")
	if !ok || idPart == "" {
		return "", false
	}
	return "key_" + idPart, true
}

func newKeyID(id snowflake.ID) string {
	return "key_" + strings.ToUpper(strconv.FormatInt(int64(id), 36))
}

func isExpired(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*expiresAt)
}

func ptrTime(value time.Time) *time.Time {
	return &value
}
