package config

import (
	"bytes"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"NEO4J_URI", "NEO4J_USER", "NEO4J_PASSWORD", "NEO4J_DATABASE", "NEO4J_MAX_POOL_SIZE",
		"REVGRAPH_BACKEND", "REVGRAPH_COMMIT_TIMEOUT", "REVGRAPH_LOCAL_PATH", "REVGRAPH_MODE",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	keyring.MockInit()

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileAndEnv(t *testing.T) {
	clearEnv(t)
	keyring.MockInit()

	path := writeConfig(t, `
backend: neo4j
neo4j:
  uri: neo4j://graph.internal:7687
  user: writer
  database: revisions
  max_pool_size: 20
commit:
  timeout: 45s
queue:
  max_retries: 3
  retry_rate: 0.5
log:
  level: debug
`)
	t.Setenv("NEO4J_PASSWORD", "from-env")
	t.Setenv("NEO4J_DATABASE", "override")
	t.Setenv("REVGRAPH_LOCAL_PATH", "/tmp/rg.db")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendNeo4j, cfg.Backend)
	assert.Equal(t, "neo4j://graph.internal:7687", cfg.Neo4j.URI)
	assert.Equal(t, "writer", cfg.Neo4j.User)
	assert.Equal(t, "from-env", cfg.Neo4j.Password)
	assert.Equal(t, "override", cfg.Neo4j.Database)
	assert.Equal(t, 20, cfg.Neo4j.MaxPoolSize)
	assert.Equal(t, 45*time.Second, cfg.Commit.Timeout)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, 0.5, cfg.Queue.RetryRate)
	assert.Equal(t, "/tmp/rg.db", cfg.Local.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadPasswordFromKeychain(t *testing.T) {
	clearEnv(t)
	keyring.MockInit()
	require.NoError(t, NewKeyringManager().SaveNeo4jPassword("kept-in-keychain"))

	cfg, err := Load(writeConfig(t, "backend: neo4j\n"))
	require.NoError(t, err)
	assert.Equal(t, "kept-in-keychain", cfg.Neo4j.Password)
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "backend: [unterminated\n"))
	require.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	keyring.MockInit()

	cfg := Default()
	cfg.Backend = BackendNeo4j
	cfg.Neo4j.Password = "never-written"
	cfg.Commit.Timeout = 90 * time.Second

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, cfg.Save(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "never-written")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendNeo4j, loaded.Backend)
	assert.Equal(t, 90*time.Second, loaded.Commit.Timeout)
	assert.Empty(t, loaded.Neo4j.Password)
}

func TestValidate(t *testing.T) {
	neo := func() *Config {
		c := Default()
		c.Backend = BackendNeo4j
		c.Neo4j.URI = "neo4j+s://db.example.com:7687"
		c.Neo4j.Password = "a-long-passphrase"
		return c
	}

	tests := []struct {
		name     string
		cfg      func() *Config
		ctx      ValidationContext
		mode     DeploymentMode
		errors   []string
		warnings int
	}{
		{"local defaults", Default, ValidationContextAll, ModeDevelopment, nil, 0},
		{"neo4j complete", neo, ValidationContextCommit, ModePackaged, nil, 0},
		{
			name: "unknown backend",
			cfg:  func() *Config { c := Default(); c.Backend = "sqlite"; return c },
			ctx:  ValidationContextInit, mode: ModeDevelopment,
			errors: []string{"backend must be"},
		},
		{
			name: "missing password",
			cfg:  func() *Config { c := neo(); c.Neo4j.Password = ""; return c },
			ctx:  ValidationContextInspect, mode: ModeCI,
			errors: []string{"NEO4J_PASSWORD is required"},
		},
		{
			name: "localhost outside development",
			cfg:  func() *Config { c := neo(); c.Neo4j.URI = "bolt://localhost:7687"; return c },
			ctx:  ValidationContextInit, mode: ModePackaged,
			errors: []string{"uses localhost"},
		},
		{
			name: "localhost in development",
			cfg:  func() *Config { c := neo(); c.Neo4j.URI = "bolt://localhost:7687"; c.Neo4j.Password = "neo4j"; return c },
			ctx:  ValidationContextInit, mode: ModeDevelopment,
			warnings: 1,
		},
		{
			name: "bad scheme",
			cfg:  func() *Config { c := neo(); c.Neo4j.URI = "http://db:7474"; return c },
			ctx:  ValidationContextInit, mode: ModeDevelopment,
			errors: []string{"scheme \"http\""},
		},
		{
			name: "commit settings",
			cfg: func() *Config {
				c := Default()
				c.Commit.Timeout = 0
				c.Queue.RetryRate = 0
				c.Queue.MaxRetries = -1
				return c
			},
			ctx: ValidationContextCommit, mode: ModeDevelopment,
			errors: []string{"commit.timeout", "max_retries", "retry_rate"},
		},
		{
			name: "commit settings ignored for inspect",
			cfg:  func() *Config { c := Default(); c.Commit.Timeout = 0; return c },
			ctx:  ValidationContextInspect, mode: ModeDevelopment,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.cfg().ValidateWithMode(tt.ctx, tt.mode)
			assert.Equal(t, len(tt.errors) > 0, result.HasErrors(), result.Error())
			require.Len(t, result.Errors, len(tt.errors))
			for i, want := range tt.errors {
				assert.Contains(t, result.Errors[i], want)
			}
			assert.Len(t, result.Warnings, tt.warnings)
		})
	}
}

func TestCheckReturnsConfigError(t *testing.T) {
	t.Setenv("REVGRAPH_MODE", "dev")
	c := Default()
	c.Backend = ""
	err := c.Check(ValidationContextInit)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Configuration validation failed")
}

func TestDetectModeOverride(t *testing.T) {
	t.Setenv("REVGRAPH_MODE", "ci")
	assert.Equal(t, ModeCI, DetectMode())
	t.Setenv("REVGRAPH_MODE", "prod")
	assert.Equal(t, ModePackaged, DetectMode())
	assert.True(t, ModePackaged.AllowsInteractivePrompts())
	assert.False(t, ModeCI.AllowsInteractivePrompts())
}

func TestCredentialManagerChain(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "credentials.yaml")

	t.Run("env wins", func(t *testing.T) {
		keyring.MockInit()
		t.Setenv("NEO4J_PASSWORD", "env-pass")
		got, err := NewCredentialManagerAt(path, ModeCI).Neo4jPassword()
		require.NoError(t, err)
		assert.Equal(t, "env-pass", got)
	})

	t.Run("file when keychain is unavailable", func(t *testing.T) {
		keyring.MockInitWithError(stderrors.New("no secret service"))
		cm := NewCredentialManagerAt(path, ModeCI)
		cm.out = &bytes.Buffer{}
		require.NoError(t, cm.Save(Credentials{Neo4jPassword: "file-pass"}))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

		got, err := cm.Neo4jPassword()
		require.NoError(t, err)
		assert.Equal(t, "file-pass", got)

		require.NoError(t, cm.Forget())
		_, err = cm.Neo4jPassword()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "revgraph login")
	})

	t.Run("prompt stores in keychain", func(t *testing.T) {
		keyring.MockInit()
		cm := NewCredentialManagerAt(path, ModePackaged)
		out := &bytes.Buffer{}
		cm.in = strings.NewReader("typed-pass\n")
		cm.out = out

		got, err := cm.Prompt()
		require.NoError(t, err)
		assert.Equal(t, "typed-pass", got)
		assert.Contains(t, out.String(), "Saved to keychain")

		stored, err := NewKeyringManager().GetNeo4jPassword()
		require.NoError(t, err)
		assert.Equal(t, "typed-pass", stored)
	})

	t.Run("empty prompt", func(t *testing.T) {
		keyring.MockInit()
		cm := NewCredentialManagerAt(path, ModePackaged)
		cm.in = strings.NewReader("\n")
		cm.out = &bytes.Buffer{}
		_, err := cm.Prompt()
		require.Error(t, err)
	})
}
