package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"

	"github.com/jordanlanch/callops/pkg/logger"
)

// ErrNotFound is returned when the backend has no value for a key
var ErrNotFound = errors.New("secret not found")

// Manager defines the interface for secrets management
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// RefreshCache forces a refresh of the cache
	RefreshCache(ctx context.Context) error
}

// Config holds secrets manager configuration
type Config struct {
	Backend       string        // "env" or "aws-secrets-manager"
	AWSRegion     string        // AWS region for Secrets Manager
	Prefix        string        // prepended to every key, e.g. "callops/prod/"
	CacheDuration time.Duration // How long to cache secrets
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Backend:       "env",
		AWSRegion:     "us-east-1",
		CacheDuration: 5 * time.Minute,
	}
}

// NewManager creates a new secrets manager based on configuration
func NewManager(cfg Config, log logger.Logger) (Manager, error) {
	if log == nil {
		log = logger.Default()
	}
	switch strings.ToLower(cfg.Backend) {
	case "aws-secrets-manager", "aws":
		log.Info("Initializing AWS Secrets Manager", "region", cfg.AWSRegion, "prefix", cfg.Prefix)
		return NewAWSSecretsManager(cfg, log)
	case "env", "environment", "":
		return NewEnvironmentManager(), nil
	default:
		return nil, fmt.Errorf("unsupported secrets backend: %s", cfg.Backend)
	}
}

// EnvironmentManager reads secrets from environment variables
type EnvironmentManager struct{}

// NewEnvironmentManager creates a new environment-based secrets manager
func NewEnvironmentManager() *EnvironmentManager {
	return &EnvironmentManager{}
}

func (m *EnvironmentManager) GetSecret(ctx context.Context, key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return value, nil
}

func (m *EnvironmentManager) RefreshCache(ctx context.Context) error {
	return nil
}

// secretsAPI is the part of the Secrets Manager client we call
type secretsAPI interface {
	GetSecretValueWithContext(ctx aws.Context, input *secretsmanager.GetSecretValueInput, opts ...request.Option) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManager loads secrets from AWS Secrets Manager
type AWSSecretsManager struct {
	client  secretsAPI
	cache   map[string]cachedSecret
	cacheMu sync.RWMutex
	config  Config
	logger  logger.Logger
	now     func() time.Time
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

// NewAWSSecretsManager creates a new AWS Secrets Manager client
func NewAWSSecretsManager(cfg Config, log logger.Logger) (*AWSSecretsManager, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.AWSRegion),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return newAWSSecretsManager(secretsmanager.New(sess), cfg, log), nil
}

func newAWSSecretsManager(client secretsAPI, cfg Config, log logger.Logger) *AWSSecretsManager {
	if cfg.CacheDuration <= 0 {
		cfg.CacheDuration = DefaultConfig().CacheDuration
	}
	return &AWSSecretsManager{
		client: client,
		cache:  make(map[string]cachedSecret),
		config: cfg,
		logger: log.With("component", "secrets"),
		now:    time.Now,
	}
}

// GetSecret retrieves Prefix+key from AWS Secrets Manager
func (m *AWSSecretsManager) GetSecret(ctx context.Context, key string) (string, error) {
	id := m.config.Prefix + key
	if value, ok := m.getCached(id); ok {
		return value, nil
	}

	result, err := m.client.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == secretsmanager.ErrCodeResourceNotFoundException {
			return "", fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return "", fmt.Errorf("failed to get secret %s: %w", id, err)
	}
	if result.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", id)
	}

	m.setCached(id, *result.SecretString)
	m.logger.Debug("Loaded secret from AWS Secrets Manager", "secret_id", id)

	return *result.SecretString, nil
}

// RefreshCache drops every cached value
func (m *AWSSecretsManager) RefreshCache(ctx context.Context) error {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	m.cache = make(map[string]cachedSecret)
	return nil
}

func (m *AWSSecretsManager) getCached(id string) (string, bool) {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()

	cached, ok := m.cache[id]
	if !ok || m.now().After(cached.expiresAt) {
		return "", false
	}
	return cached.value, true
}

func (m *AWSSecretsManager) setCached(id, value string) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	m.cache[id] = cachedSecret{
		value:     value,
		expiresAt: m.now().Add(m.config.CacheDuration),
	}
}
