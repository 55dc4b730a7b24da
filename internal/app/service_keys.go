package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"leadflow/api/internal/keyvault"
	"leadflow/api/internal/openai"
	"leadflow/api/internal/store"
)

const defaultProvider = "openai"

var supportedProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"google":    true,
}

func normalizeProvider(raw string) (string, error) {
	provider := strings.ToLower(strings.TrimSpace(raw))
	if provider == "" {
		return defaultProvider, nil
	}
	if !supportedProviders[provider] {
		return "", validationError("Unsupported provider: " + raw)
	}
	return provider, nil
}

type SecretStatus struct {
	Configured           bool   `json:"configured"`
	Provider             string `json:"provider"`
	EncryptionConfigured bool   `json:"encryption_configured"`
}

// AISecretStatus reports whether the server holds a provider key. It never
// returns the key itself.
func (s *Service) AISecretStatus() SecretStatus {
	return SecretStatus{
		Configured:           s.cfg.OpenAIKey != "",
		Provider:             defaultProvider,
		EncryptionConfigured: s.vault != nil,
	}
}

type KeyStatus struct {
	HasKey    bool       `json:"has_key"`
	Provider  string     `json:"provider"`
	KeyHint   string     `json:"key_hint,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (s *Service) UserKeyStatus(ctx context.Context, caller Caller, provider string) (KeyStatus, error) {
	provider, err := normalizeProvider(provider)
	if err != nil {
		return KeyStatus{}, err
	}
	key, err := s.store.GetAPIKey(ctx, caller.UserID, provider)
	if errors.Is(err, sql.ErrNoRows) {
		return KeyStatus{Provider: provider}, nil
	}
	if err != nil {
		return KeyStatus{}, err
	}
	updated := key.UpdatedAt
	return KeyStatus{HasKey: true, Provider: provider, KeyHint: key.KeyHint, UpdatedAt: &updated}, nil
}

type SaveKeyRequest struct {
	APIKey   string `json:"apiKey"`
	Provider string `json:"provider"`
}

type SavedKey struct {
	Provider string `json:"provider"`
	KeyHint  string `json:"key_hint"`
}

// SaveUserKey encrypts the key under the server secret with a fresh IV and
// upserts it for (user, provider).
func (s *Service) SaveUserKey(ctx context.Context, caller Caller, req SaveKeyRequest) (SavedKey, error) {
	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		return SavedKey{}, validationError("apiKey is required")
	}
	provider, err := normalizeProvider(req.Provider)
	if err != nil {
		return SavedKey{}, err
	}
	if s.vault == nil {
		return SavedKey{}, keyvault.ErrNoKey
	}
	sealed, err := s.vault.Encrypt(apiKey)
	if err != nil {
		return SavedKey{}, err
	}
	hint := keyvault.Hint(apiKey)
	err = s.store.UpsertAPIKey(ctx, store.APIKey{
		UserID:       caller.UserID,
		Provider:     provider,
		EncryptedKey: sealed.Ciphertext,
		IV:           sealed.IV,
		KeyHint:      hint,
	})
	if err != nil {
		return SavedKey{}, err
	}
	s.invalidate(ctx, "ai_keys")
	return SavedKey{Provider: provider, KeyHint: hint}, nil
}

func (s *Service) RemoveUserKey(ctx context.Context, caller Caller, provider string) (bool, error) {
	provider, err := normalizeProvider(provider)
	if err != nil {
		return false, err
	}
	removed, err := s.store.DeleteAPIKey(ctx, caller.UserID, provider)
	if err != nil {
		return false, err
	}
	if removed {
		s.invalidate(ctx, "ai_keys")
	}
	return removed, nil
}

// userAPIKey decrypts the caller's saved OpenAI key, if any.
func (s *Service) userAPIKey(ctx context.Context, userID string) (string, error) {
	if s.vault == nil || userID == "" {
		return "", nil
	}
	key, err := s.store.GetAPIKey(ctx, userID, defaultProvider)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return s.vault.Decrypt(keyvault.Sealed{Ciphertext: key.EncryptedKey, IV: key.IV})
}

// resolveAI returns a provider client for userID. A saved user key wins
// over the server key; an unreadable one falls back to the server key.
func (s *Service) resolveAI(ctx context.Context, userID string) (*openai.Client, error) {
	key, err := s.userAPIKey(ctx, userID)
	if err != nil {
		s.logger.Warn("saved api key unusable, using server key", zap.String("user_id", userID), zap.Error(err))
		key = ""
	}
	client := s.ai.WithKey(key)
	if !client.HasKey() {
		return nil, errNoAIKey
	}
	return client, nil
}
