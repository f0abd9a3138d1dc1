// Package vault fetches provider API keys from HashiCorp Vault so
// they never sit in config files. Vault is optional; when disabled
// the environment-sourced keys stay in effect.
package vault

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"trading-analytics/config"
)

// cacheTTL bounds how long a fetched key is reused before re-reading
const cacheTTL = 15 * time.Minute

type cachedKey struct {
	value     string
	fetchedAt time.Time
}

// Client reads API keys from a KV v2 secrets engine
type Client struct {
	api        *vaultapi.Client
	mountPath  string
	secretPath string

	mu    sync.Mutex
	cache map[string]cachedKey
}

// NewClient connects to Vault and verifies the token. Returns nil
// without error when Vault is disabled in config.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	apiCfg := vaultapi.DefaultConfig()
	apiCfg.Address = cfg.Address
	if cfg.TLSEnabled && cfg.CACert != "" {
		if err := apiCfg.ConfigureTLS(&vaultapi.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("failed to configure vault tls: %w", err)
		}
	}

	client, err := vaultapi.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	if _, err := client.Auth().Token().LookupSelf(); err != nil {
		return nil, fmt.Errorf("vault token check failed: %w", err)
	}

	log.Printf("[VAULT] Connected to %s", cfg.Address)
	return &Client{
		api:        client,
		mountPath:  cfg.MountPath,
		secretPath: cfg.SecretPath,
		cache:      make(map[string]cachedKey),
	}, nil
}

// GetAPIKey reads one named key from the configured secret path.
// Values are cached for cacheTTL.
func (c *Client) GetAPIKey(ctx context.Context, name string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("vault is not configured")
	}

	c.mu.Lock()
	if entry, ok := c.cache[name]; ok && time.Since(entry.fetchedAt) < cacheTTL {
		c.mu.Unlock()
		return entry.value, nil
	}
	c.mu.Unlock()

	secret, err := c.api.KVv2(c.mountPath).Get(ctx, c.secretPath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s/%s: %w", c.mountPath, c.secretPath, err)
	}
	raw, ok := secret.Data[name]
	if !ok {
		return "", fmt.Errorf("key %q not found at %s/%s", name, c.mountPath, c.secretPath)
	}
	value, ok := raw.(string)
	if !ok || value == "" {
		return "", fmt.Errorf("key %q at %s/%s is not a string", name, c.mountPath, c.secretPath)
	}

	c.mu.Lock()
	c.cache[name] = cachedKey{value: value, fetchedAt: time.Now()}
	c.mu.Unlock()
	return value, nil
}

// ApplyToConfig overrides the quotes and AI keys from Vault when
// present. Missing keys are not fatal; the env values stand.
func (c *Client) ApplyToConfig(ctx context.Context, cfg *config.Config) {
	if c == nil {
		return
	}
	if key, err := c.GetAPIKey(ctx, "quotes_api_key"); err == nil {
		cfg.QuotesConfig.APIKey = key
	} else {
		log.Printf("[VAULT] quotes_api_key not loaded: %v", err)
	}
	if key, err := c.GetAPIKey(ctx, "ai_api_key"); err == nil {
		cfg.AIConfig.APIKey = key
	} else {
		log.Printf("[VAULT] ai_api_key not loaded: %v", err)
	}
}
