package vault

import (
	"errors"
	"fmt"

	v "github.com/hashicorp/vault/api"
)

var ErrVaultUnavailable = errors.New("vault is sealed or unreachable")

type Vault = v.Client

type VaultManager struct {
	Api      *Vault
	Services *Vault
}

// Secrets are the credentials the arena needs before it can connect.
type Secrets struct {
	CachePassword string
	DbPassword    string
	JwtKey        string
	ApiKey        string
}

func NewVaultManager(address string) (VaultManager, error) {
	config := v.DefaultConfig()
	config.Address = address

	api, err := v.NewClient(config)
	if err != nil {
		return VaultManager{}, fmt.Errorf("failed to create Vault client: %w", err)
	}

	services, err := v.NewClient(config)
	if err != nil {
		return VaultManager{}, fmt.Errorf("failed to create Vault client: %w", err)
	}

	vault_manager := VaultManager{
		Api:      api,
		Services: services,
	}
	return vault_manager, nil
}

func (manager *VaultManager) Health() bool {
	api_health, err := manager.Api.Sys().Health()
	if err != nil {
		return false
	}
	services_health, err := manager.Services.Sys().Health()
	if err != nil {
		return false
	}

	return (api_health.Initialized && !api_health.Sealed) &&
		(services_health.Initialized && !services_health.Sealed)
}

// readValue reads the "value" field of a KV v2 secret.
func readValue(client *Vault, path string) (string, error) {
	secret, err := client.Logical().Read(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("no secret found at path: %s", path)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("invalid secret data format at path: %s", path)
	}
	key, ok := data["value"].(string)
	if !ok {
		return "", fmt.Errorf("key not found or invalid in secret data at path: %s", path)
	}
	return key, nil
}

func (manager *VaultManager) GetCachePwd() (string, error) {
	return readValue(manager.Services, "services/data/cache/arena_pwd")
}

func (manager *VaultManager) GetDbPwd() (string, error) {
	return readValue(manager.Services, "services/data/db/arena_pwd")
}

func (manager *VaultManager) GetApiKey(name string) (string, error) {
	return readValue(manager.Api, fmt.Sprintf("api/data/%s", name))
}

// Secrets fetches every credential in one go.
func (manager *VaultManager) Secrets() (Secrets, error) {
	var secrets Secrets
	var err error
	if secrets.CachePassword, err = manager.GetCachePwd(); err != nil {
		return Secrets{}, fmt.Errorf("cache password: %w", err)
	}
	if secrets.DbPassword, err = manager.GetDbPwd(); err != nil {
		return Secrets{}, fmt.Errorf("db password: %w", err)
	}
	if secrets.JwtKey, err = manager.GetApiKey("jwt"); err != nil {
		return Secrets{}, fmt.Errorf("jwt key: %w", err)
	}
	if secrets.ApiKey, err = manager.GetApiKey("internal"); err != nil {
		return Secrets{}, fmt.Errorf("internal api key: %w", err)
	}
	return secrets, nil
}
