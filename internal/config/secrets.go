package config

import (
	"context"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// VaultConfig holds the optional Vault secret-source settings
type VaultConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	MountPath  string `mapstructure:"mount_path"`
	SecretPath string `mapstructure:"secret_path"`
}

// VaultClient reads KV v2 secrets for the pipeline
type VaultClient struct {
	client *vault.Client
	cfg    VaultConfig
}

// NewVaultClient creates a Vault client with token authentication. The token
// falls back to VAULT_TOKEN when not configured.
func NewVaultClient(cfg VaultConfig) (*VaultClient, error) {
	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	token := cfg.Token
	if token == "" {
		token = os.Getenv("VAULT_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("vault token is required (set vault.token or VAULT_TOKEN)")
	}
	client.SetToken(token)

	return &VaultClient{client: client, cfg: cfg}, nil
}

// GetSecret reads one secret relative to the configured secret path
func (vc *VaultClient) GetSecret(ctx context.Context, path string) (map[string]any, error) {
	fullPath := fmt.Sprintf("%s/data/%s/%s", vc.cfg.MountPath, vc.cfg.SecretPath, path)

	secret, err := vc.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault secret: %w", err)
	}
	if secret == nil {
		return nil, fmt.Errorf("secret not found at path: %s", fullPath)
	}

	// KV v2 nests the payload under "data"
	if data, ok := secret.Data["data"].(map[string]any); ok {
		return data, nil
	}
	return secret.Data, nil
}

// LoadSecretsFromVault overlays Vault-held credentials onto the loaded
// configuration. Each secret is optional; a missing path keeps whatever the
// config file or environment provided.
func LoadSecretsFromVault(ctx context.Context, cfg *Config) error {
	if !cfg.Vault.Enabled {
		return nil
	}

	vc, err := NewVaultClient(cfg.Vault)
	if err != nil {
		return err
	}

	if secrets, err := vc.GetSecret(ctx, "database"); err != nil {
		log.Warn().Err(err).Msg("Failed to load database secrets from vault")
	} else if url, ok := secrets["url"].(string); ok && url != "" {
		cfg.Database.URL = url
	}

	if secrets, err := vc.GetSecret(ctx, "redis"); err != nil {
		log.Warn().Err(err).Msg("Failed to load redis secrets from vault")
	} else if password, ok := secrets["password"].(string); ok && password != "" {
		cfg.Redis.Password = password
	}

	if secrets, err := vc.GetSecret(ctx, "exchange"); err != nil {
		log.Warn().Err(err).Msg("Failed to load exchange secrets from vault")
	} else {
		if key, ok := secrets["api_key"].(string); ok && key != "" {
			cfg.Exchange.APIKey = key
		}
		if key, ok := secrets["secret_key"].(string); ok && key != "" {
			cfg.Exchange.SecretKey = key
		}
	}

	if secrets, err := vc.GetSecret(ctx, "oracle"); err != nil {
		log.Warn().Err(err).Msg("Failed to load oracle secrets from vault")
	} else {
		if key, ok := secrets["api_key"].(string); ok && key != "" {
			cfg.Oracle.APIKey = key
		}
		if key, ok := secrets["validation_api_key"].(string); ok && key != "" {
			cfg.Broadcast.ValidationAPIKey = key
		}
	}

	if secrets, err := vc.GetSecret(ctx, "alerts"); err != nil {
		log.Warn().Err(err).Msg("Failed to load alert secrets from vault")
	} else if token, ok := secrets["telegram_token"].(string); ok && token != "" {
		cfg.Alerts.TelegramToken = token
	}

	log.Info().Str("address", cfg.Vault.Address).Msg("Secrets loaded from vault")
	return nil
}
