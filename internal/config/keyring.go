package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name in the OS keychain
	KeyringService = "revgraph"

	// KeyringNeo4jPasswordItem holds the Neo4j password
	KeyringNeo4jPasswordItem = "neo4j-password"
)

// KeyringManager handles secure credential storage in OS keychain
type KeyringManager struct {
	logger *slog.Logger
}

// NewKeyringManager creates a new keyring manager
func NewKeyringManager() *KeyringManager {
	return &KeyringManager{
		logger: slog.Default().With("component", "keyring"),
	}
}

// SaveNeo4jPassword stores the password in the OS keychain (Keychain on
// macOS, Credential Manager on Windows, Secret Service on Linux).
func (km *KeyringManager) SaveNeo4jPassword(password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	if err := keyring.Set(KeyringService, KeyringNeo4jPasswordItem, password); err != nil {
		km.logger.Error("failed to save neo4j password to keychain", "error", err)
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}

	km.logger.Info("neo4j password saved to keychain", "service", KeyringService)
	return nil
}

// GetNeo4jPassword returns "" without error when nothing is stored.
func (km *KeyringManager) GetNeo4jPassword() (string, error) {
	password, err := keyring.Get(KeyringService, KeyringNeo4jPasswordItem)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		km.logger.Error("failed to get neo4j password from keychain", "error", err)
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}

	km.logger.Debug("neo4j password retrieved from keychain")
	return password, nil
}

// DeleteNeo4jPassword removes the stored password. Deleting a missing entry
// is not an error.
func (km *KeyringManager) DeleteNeo4jPassword() error {
	err := keyring.Delete(KeyringService, KeyringNeo4jPasswordItem)
	if err == keyring.ErrNotFound {
		return nil
	}
	if err != nil {
		km.logger.Error("failed to delete neo4j password from keychain", "error", err)
		return fmt.Errorf("failed to delete from OS keychain: %w", err)
	}

	km.logger.Info("neo4j password deleted from keychain")
	return nil
}

// IsAvailable checks if OS keychain is available
// Returns false on headless systems (CI/CD) where keychain isn't available
func (km *KeyringManager) IsAvailable() bool {
	_, err := keyring.Get(KeyringService, "test-availability")
	if err == keyring.ErrNotFound {
		return true
	}
	if err != nil {
		km.logger.Debug("keychain not available", "error", err)
		return false
	}
	return true
}

// SecretSource describes where a secret is coming from
type SecretSource struct {
	Source      string // "env", "keychain", "config", "none"
	Secure      bool
	Recommended string
}

// PasswordSource reports where the Neo4j password in cfg would come from.
func (km *KeyringManager) PasswordSource(cfg *Config) SecretSource {
	if os.Getenv("NEO4J_PASSWORD") != "" {
		return SecretSource{
			Source:      "env",
			Secure:      true,
			Recommended: "Using environment variable (good for CI/CD)",
		}
	}

	if stored, _ := km.GetNeo4jPassword(); stored != "" {
		return SecretSource{
			Source:      "keychain",
			Secure:      true,
			Recommended: "Stored securely in OS keychain",
		}
	}

	if cfg != nil && cfg.Neo4j.Password != "" {
		return SecretSource{
			Source:      "config",
			Secure:      false,
			Recommended: "Plaintext password in config file. Run: revgraph login",
		}
	}

	return SecretSource{
		Source:      "none",
		Recommended: "No Neo4j password configured. Run: revgraph login",
	}
}

// MaskSecret masks a secret for display, keeping at most the first and last
// two characters.
func MaskSecret(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	if len(secret) < 8 {
		return "***"
	}
	return fmt.Sprintf("%s...%s", secret[:2], secret[len(secret)-2:])
}
