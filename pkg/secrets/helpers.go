package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/jordanlanch/callops/config"
)

// Keys looked up by Apply. They match the environment variable names so the
// env backend needs no mapping.
const (
	KeyMightyCallAPIKey       = "MIGHTYCALL_API_KEY"
	KeyMightyCallClientSecret = "MIGHTYCALL_CLIENT_SECRET"
	KeyWebhookSecret          = "MIGHTYCALL_WEBHOOK_SECRET"
	KeyWebhookToken           = "MIGHTYCALL_WEBHOOK_TOKEN"
	KeyJWTSecret              = "JWT_SECRET"
	KeyDatabaseURL            = "DATABASE_URL"
)

// LoadString loads a secret as a string with optional fallback
func LoadString(ctx context.Context, m Manager, key, fallback string) (string, error) {
	value, err := m.GetSecret(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Apply fills credentials that are unset in cfg from m. Values already in
// cfg win; a missing secret leaves the field as it was.
func Apply(ctx context.Context, m Manager, cfg *config.Config) error {
	fields := []struct {
		key string
		dst *string
	}{
		{KeyMightyCallAPIKey, &cfg.MightyCall.APIKey},
		{KeyMightyCallClientSecret, &cfg.MightyCall.ClientSecret},
		{KeyWebhookSecret, &cfg.Webhook.Secret},
		{KeyWebhookToken, &cfg.Webhook.Token},
		{KeyJWTSecret, &cfg.JWTSecret},
		{KeyDatabaseURL, &cfg.DatabaseURL},
	}

	for _, f := range fields {
		if *f.dst != "" && !overridable(cfg, f.key) {
			continue
		}
		value, err := LoadString(ctx, m, f.key, *f.dst)
		if err != nil {
			return fmt.Errorf("failed to load secret %s: %w", f.key, err)
		}
		*f.dst = value
	}
	return nil
}

// overridable reports whether the current value is only the development default
func overridable(cfg *config.Config, key string) bool {
	switch key {
	case KeyJWTSecret:
		return cfg.JWTSecret == config.DefaultJWTSecret
	case KeyDatabaseURL:
		return cfg.DatabaseURL == config.DefaultDatabaseURL
	}
	return false
}
