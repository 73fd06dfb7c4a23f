package config

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vaultTestServer(t *testing.T, secrets map[string]map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "test-token" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		data, ok := secrets[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"errors": []string{}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"data": data},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNewVaultClientRequiresToken(t *testing.T) {
	t.Setenv("VAULT_TOKEN", "")

	_, err := NewVaultClient(VaultConfig{Address: "http://localhost:8200"})
	require.Error(t, err)

	_, err = NewVaultClient(VaultConfig{Address: "http://localhost:8200", Token: "test-token"})
	require.NoError(t, err)
}

func TestLoadSecretsFromVault(t *testing.T) {
	server := vaultTestServer(t, map[string]map[string]any{
		"/v1/secret/data/quantpulse/exchange": {
			"api_key":    "vault-exchange-key",
			"secret_key": "vault-exchange-secret",
		},
		"/v1/secret/data/quantpulse/oracle": {
			"api_key":            "vault-oracle-key",
			"validation_api_key": "vault-validation-key",
		},
		"/v1/secret/data/quantpulse/redis": {
			"password": "vault-redis-pass",
		},
	})

	cfg := &Config{
		Vault: VaultConfig{
			Enabled:    true,
			Address:    server.URL,
			Token:      "test-token",
			MountPath:  "secret",
			SecretPath: "quantpulse",
		},
	}
	cfg.Database.URL = "postgres://localhost/quantpulse"
	cfg.Alerts.TelegramToken = "file-token"

	require.NoError(t, LoadSecretsFromVault(context.Background(), cfg))

	assert.Equal(t, "vault-exchange-key", cfg.Exchange.APIKey)
	assert.Equal(t, "vault-exchange-secret", cfg.Exchange.SecretKey)
	assert.Equal(t, "vault-oracle-key", cfg.Oracle.APIKey)
	assert.Equal(t, "vault-validation-key", cfg.Broadcast.ValidationAPIKey)
	assert.Equal(t, "vault-redis-pass", cfg.Redis.Password)

	// Paths missing from vault keep the file/env values
	assert.Equal(t, "postgres://localhost/quantpulse", cfg.Database.URL)
	assert.Equal(t, "file-token", cfg.Alerts.TelegramToken)
}

func TestLoadSecretsFromVaultDisabled(t *testing.T) {
	cfg := &Config{}
	cfg.Exchange.APIKey = "file-key"

	require.NoError(t, LoadSecretsFromVault(context.Background(), cfg))
	assert.Equal(t, "file-key", cfg.Exchange.APIKey)
}
