package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/rohankatakam/revgraph/internal/errors"
)

// CredentialManager resolves the Neo4j password.
// Priority: Environment Variable → Keychain → Credentials File → Interactive Prompt
type CredentialManager struct {
	mode       DeploymentMode
	keyring    *KeyringManager
	configPath string
	in         io.Reader
	out        io.Writer
}

// Credentials is the on-disk credentials file.
type Credentials struct {
	Neo4jPassword string `yaml:"neo4j_password"`
}

// NewCredentialManager uses ~/.config/revgraph/credentials.yaml as the file
// fallback.
func NewCredentialManager() *CredentialManager {
	homeDir, _ := os.UserHomeDir()
	return NewCredentialManagerAt(filepath.Join(homeDir, ".config", "revgraph", "credentials.yaml"), DetectMode())
}

// NewCredentialManagerAt uses an explicit credentials file and mode.
func NewCredentialManagerAt(path string, mode DeploymentMode) *CredentialManager {
	return &CredentialManager{
		mode:       mode,
		keyring:    NewKeyringManager(),
		configPath: path,
		in:         os.Stdin,
		out:        os.Stdout,
	}
}

// Neo4jPassword resolves the password through the priority chain.
func (cm *CredentialManager) Neo4jPassword() (string, error) {
	if password := os.Getenv("NEO4J_PASSWORD"); password != "" {
		return password, nil
	}

	if cm.keyring.IsAvailable() {
		if password, err := cm.keyring.GetNeo4jPassword(); err == nil && password != "" {
			return password, nil
		}
	}

	if creds, err := cm.loadConfigFile(); err == nil && creds.Neo4jPassword != "" {
		return creds.Neo4jPassword, nil
	}

	if cm.mode.AllowsInteractivePrompts() && isInteractive() {
		fmt.Fprintln(cm.out, "Neo4j password not found.")
		return cm.Prompt()
	}

	return "", errors.ConfigErrorf(
		"NEO4J_PASSWORD not found. Set it via:\n"+
			"  1. Environment variable: export NEO4J_PASSWORD=...\n"+
			"  2. Run: revgraph login (stores it in the keychain)\n"+
			"  3. Credentials file: %s", cm.configPath)
}

// Prompt asks for the password and stores it in the keychain, or in the
// credentials file when no keychain is available.
func (cm *CredentialManager) Prompt() (string, error) {
	fmt.Fprint(cm.out, "Enter Neo4j password: ")
	password, err := cm.readSecurely()
	if err != nil {
		return "", errors.ConfigErrorf("failed to read password: %v", err)
	}
	if password == "" {
		return "", errors.ConfigError("Neo4j password is required")
	}

	if err := cm.Save(Credentials{Neo4jPassword: password}); err != nil {
		return "", err
	}
	return password, nil
}

// Save stores credentials in the keychain (preferred) or the credentials
// file (fallback).
func (cm *CredentialManager) Save(creds Credentials) error {
	if cm.keyring.IsAvailable() {
		if err := cm.keyring.SaveNeo4jPassword(creds.Neo4jPassword); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, errors.SeverityHigh,
				"failed to save Neo4j password to keychain")
		}
		fmt.Fprintln(cm.out, "✓ Saved to keychain")
		return nil
	}

	if err := cm.saveConfigFile(creds); err != nil {
		return errors.FileSystemError(err, "failed to write credentials file")
	}
	fmt.Fprintf(cm.out, "✓ Saved to %s\n", cm.configPath)
	return nil
}

// Forget removes the password from the keychain and the credentials file.
func (cm *CredentialManager) Forget() error {
	if cm.keyring.IsAvailable() {
		if err := cm.keyring.DeleteNeo4jPassword(); err != nil {
			return err
		}
	}
	if err := os.Remove(cm.configPath); err != nil && !os.IsNotExist(err) {
		return errors.FileSystemError(err, "failed to remove credentials file")
	}
	return nil
}

func (cm *CredentialManager) loadConfigFile() (*Credentials, error) {
	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

func (cm *CredentialManager) saveConfigFile(creds Credentials) error {
	if err := os.MkdirAll(filepath.Dir(cm.configPath), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}

	// user-only read/write
	return os.WriteFile(cm.configPath, data, 0600)
}

// readSecurely reads a password from the terminal without echo, or a line
// from piped input.
func (cm *CredentialManager) readSecurely() (string, error) {
	if f, ok := cm.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		bytes, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cm.out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytes)), nil
	}

	line, err := bufio.NewReader(cm.in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// isInteractive returns true if stdin is a terminal (not piped)
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Mode returns the deployment mode the manager was created with.
func (cm *CredentialManager) Mode() DeploymentMode {
	return cm.mode
}

// ConfigPath returns the credentials file path.
func (cm *CredentialManager) ConfigPath() string {
	return cm.configPath
}
