package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// Placeholder values that must never reach a live venue
var commonPlaceholders = []string{
	"changeme",
	"your_api_key",
	"your_secret",
	"test",
	"password",
	"secret",
	"example",
	"sample",
	"demo",
	"default",
}

// CheckSecret rejects empty and placeholder credential values.
// minLength guards against truncated keys pasted from dashboards.
func CheckSecret(value, name string, minLength int) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}

	lower := strings.ToLower(value)
	for _, placeholder := range commonPlaceholders {
		if lower == placeholder {
			return fmt.Errorf("%s appears to be a placeholder value (%s)", name, placeholder)
		}
	}

	if len(value) < minLength {
		return fmt.Errorf("%s must be at least %d characters (got %d)", name, minLength, len(value))
	}

	return nil
}

// VaultClient wraps the HashiCorp Vault client for secrets management
type VaultClient struct {
	client *vault.Client
	config VaultConfig
}

// NewVaultClient creates a Vault client from configuration.
// Only token authentication is supported; the token comes from
// config or the VAULT_TOKEN environment variable.
func NewVaultClient(cfg VaultConfig) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("vault is not enabled in configuration")
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	switch cfg.AuthMethod {
	case "token", "":
		token := cfg.Token
		if token == "" {
			token = os.Getenv("VAULT_TOKEN")
		}
		if token == "" {
			return nil, fmt.Errorf("VAULT_TOKEN not set for token authentication")
		}
		client.SetToken(token)
	default:
		return nil, fmt.Errorf("unsupported vault auth method: %s", cfg.AuthMethod)
	}

	log.Info().
		Str("address", cfg.Address).
		Str("mount_path", cfg.MountPath).
		Str("secret_path", cfg.SecretPath).
		Msg("Vault client initialized")

	return &VaultClient{client: client, config: cfg}, nil
}

// GetSecret retrieves a secret map from Vault. path is relative to the
// configured SecretPath. KV v2 responses nest the payload under "data".
func (vc *VaultClient) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	fullPath := fmt.Sprintf("%s/data/%s/%s", vc.config.MountPath, vc.config.SecretPath, path)

	secret, err := vc.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from vault: %w", err)
	}
	if secret == nil {
		return nil, fmt.Errorf("secret not found at path: %s", fullPath)
	}

	if data, ok := secret.Data["data"].(map[string]interface{}); ok {
		return data, nil
	}
	return secret.Data, nil
}

// GetSecretString retrieves a single string value from Vault
func (vc *VaultClient) GetSecretString(ctx context.Context, path, key string) (string, error) {
	data, err := vc.GetSecret(ctx, path)
	if err != nil {
		return "", err
	}

	value, ok := data[key].(string)
	if !ok {
		return "", fmt.Errorf("secret key %q not found or not a string at path: %s", key, path)
	}
	return value, nil
}

// LoadSecretsFromVault overlays credentials from Vault onto the config.
// Missing paths degrade to whatever the environment provided; a live
// binance adapter still refuses placeholder keys at validation time.
func LoadSecretsFromVault(ctx context.Context, cfg *Config) error {
	if !cfg.Vault.Enabled {
		log.Debug().Msg("vault integration disabled, using environment for secrets")
		return nil
	}

	vc, err := NewVaultClient(cfg.Vault)
	if err != nil {
		return fmt.Errorf("failed to create vault client: %w", err)
	}

	if secrets, err := vc.GetSecret(ctx, "exchange"); err != nil {
		log.Warn().Err(err).Msg("failed to load exchange secrets from vault")
	} else {
		if key, ok := secrets["api_key"].(string); ok && key != "" {
			cfg.Exchange.APIKey = key
		}
		if secretKey, ok := secrets["api_secret"].(string); ok && secretKey != "" {
			cfg.Exchange.APISecret = secretKey
		}
	}

	if token, err := vc.GetSecretString(ctx, "notification", "telegram_token"); err != nil {
		log.Warn().Err(err).Msg("failed to load telegram token from vault")
	} else if token != "" {
		cfg.Notification.Telegram.Token = token
	}

	if key, err := vc.GetSecretString(ctx, "ai", "api_key"); err != nil {
		log.Warn().Err(err).Msg("failed to load advisor api key from vault")
	} else if key != "" {
		cfg.AI.APIKey = key
	}

	log.Info().Msg("secrets loaded from vault")
	return nil
}

// VerifyLiveCredentials enforces credential hygiene before any live session.
// Simulated trading never requires keys.
func (c *Config) VerifyLiveCredentials() error {
	if c.Exchange.Name != "binance" {
		return nil
	}
	if err := CheckSecret(c.Exchange.APIKey, "exchange.api_key", 10); err != nil {
		return err
	}
	return CheckSecret(c.Exchange.APISecret, "exchange.api_secret", 10)
}
