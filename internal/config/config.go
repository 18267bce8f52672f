package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rohankatakam/revgraph/internal/errors"
)

// Backend names accepted in the backend setting.
const (
	BackendNeo4j = "neo4j"
	BackendLocal = "local"
)

// Config holds all configuration settings
type Config struct {
	// Which store commits go to: "neo4j" or "local"
	Backend string `yaml:"backend" mapstructure:"backend"`

	Neo4j  Neo4jConfig  `yaml:"neo4j" mapstructure:"neo4j"`
	Local  LocalConfig  `yaml:"local" mapstructure:"local"`
	Commit CommitConfig `yaml:"commit" mapstructure:"commit"`
	Queue  QueueConfig  `yaml:"queue" mapstructure:"queue"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

type Neo4jConfig struct {
	URI         string `yaml:"uri" mapstructure:"uri"`
	User        string `yaml:"user" mapstructure:"user"`
	Password    string `yaml:"password" mapstructure:"password"`
	Database    string `yaml:"database" mapstructure:"database"`
	MaxPoolSize int    `yaml:"max_pool_size" mapstructure:"max_pool_size"`
}

type LocalConfig struct {
	Path string `yaml:"path" mapstructure:"path"` // bbolt file holding the local graph
}

type CommitConfig struct {
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// QueueConfig controls the dead-letter queue of rejected plans.
type QueueConfig struct {
	Path       string  `yaml:"path" mapstructure:"path"`
	MaxRetries int     `yaml:"max_retries" mapstructure:"max_retries"`
	RetryRate  float64 `yaml:"retry_rate" mapstructure:"retry_rate"` // retries per second
}

// LogFileAuto as log.file writes a timestamped file under .revgraph/logs.
const LogFileAuto = "auto"

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"` // path, LogFileAuto, or empty for console only
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Backend: BackendLocal,
		Neo4j: Neo4jConfig{
			URI:         "bolt://localhost:7687",
			User:        "neo4j",
			Database:    "neo4j",
			MaxPoolSize: 50,
		},
		Local: LocalConfig{
			Path: filepath.Join(".revgraph", "graph.db"),
		},
		Commit: CommitConfig{
			Timeout: 2 * time.Minute,
		},
		Queue: QueueConfig{
			Path:       filepath.Join(".revgraph", "dlq.db"),
			MaxRetries: 5,
			RetryRate:  2,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path, or from the first config.yaml found in
// .revgraph, the working directory or ~/.revgraph. Environment variables
// prefixed REVGRAPH_ override file values; NEO4J_* variables override the
// Neo4j section.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	setDefaults(v, cfg)

	v.SetEnvPrefix("REVGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".revgraph")
		v.AddConfigPath(".")
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".revgraph"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, errors.SeverityHigh, "failed to read config")
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, errors.SeverityHigh, "failed to unmarshal config")
	}

	applyEnvOverrides(cfg)
	cfg.Local.Path = expandPath(cfg.Local.Path)
	cfg.Queue.Path = expandPath(cfg.Queue.Path)
	cfg.Log.File = expandPath(cfg.Log.File)

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("backend", cfg.Backend)
	v.SetDefault("neo4j.uri", cfg.Neo4j.URI)
	v.SetDefault("neo4j.user", cfg.Neo4j.User)
	v.SetDefault("neo4j.password", cfg.Neo4j.Password)
	v.SetDefault("neo4j.database", cfg.Neo4j.Database)
	v.SetDefault("neo4j.max_pool_size", cfg.Neo4j.MaxPoolSize)
	v.SetDefault("local.path", cfg.Local.Path)
	v.SetDefault("commit.timeout", cfg.Commit.Timeout)
	v.SetDefault("queue.path", cfg.Queue.Path)
	v.SetDefault("queue.max_retries", cfg.Queue.MaxRetries)
	v.SetDefault("queue.retry_rate", cfg.Queue.RetryRate)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.json", cfg.Log.JSON)
}

// loadEnvFiles loads .env files in order of precedence. godotenv never
// overwrites variables that are already set, so the first file wins.
func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}

	if envPath, err := findEnvFile(); err == nil {
		_ = godotenv.Load(envPath)
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		homeEnvFile := filepath.Join(homeDir, ".revgraph", ".env")
		if _, err := os.Stat(homeEnvFile); err == nil {
			_ = godotenv.Load(homeEnvFile)
		}
	}
}

// applyEnvOverrides applies the conventional NEO4J_* variables on top of the
// file and REVGRAPH_* values.
func applyEnvOverrides(cfg *Config) {
	cfg.Neo4j.URI = GetString("NEO4J_URI", cfg.Neo4j.URI)
	cfg.Neo4j.User = GetString("NEO4J_USER", cfg.Neo4j.User)
	cfg.Neo4j.Database = GetString("NEO4J_DATABASE", cfg.Neo4j.Database)
	cfg.Neo4j.MaxPoolSize = GetInt("NEO4J_MAX_POOL_SIZE", cfg.Neo4j.MaxPoolSize)

	// Precedence: env var, then keychain, then config file
	if password := os.Getenv("NEO4J_PASSWORD"); password != "" {
		cfg.Neo4j.Password = password
	} else if cfg.Neo4j.Password == "" {
		km := NewKeyringManager()
		if km.IsAvailable() {
			if stored, err := km.GetNeo4jPassword(); err == nil && stored != "" {
				cfg.Neo4j.Password = stored
			}
		}
	}

	cfg.Commit.Timeout = GetDuration("REVGRAPH_COMMIT_TIMEOUT", cfg.Commit.Timeout)
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[1:])
}

// Save writes the configuration as YAML. The Neo4j password is never written;
// use the keychain or the credentials file for it.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("backend", c.Backend)
	v.Set("neo4j.uri", c.Neo4j.URI)
	v.Set("neo4j.user", c.Neo4j.User)
	v.Set("neo4j.database", c.Neo4j.Database)
	v.Set("neo4j.max_pool_size", c.Neo4j.MaxPoolSize)
	v.Set("local.path", c.Local.Path)
	v.Set("commit.timeout", c.Commit.Timeout.String())
	v.Set("queue.path", c.Queue.Path)
	v.Set("queue.max_retries", c.Queue.MaxRetries)
	v.Set("queue.retry_rate", c.Queue.RetryRate)
	v.Set("log.level", c.Log.Level)
	v.Set("log.file", c.Log.File)
	v.Set("log.json", c.Log.JSON)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.FileSystemError(err, "failed to create config directory")
	}
	if err := v.WriteConfigAs(path); err != nil {
		return errors.FileSystemError(err, "failed to write config")
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	out := *c
	if out.Neo4j.Password != "" {
		out.Neo4j.Password = MaskSecret(out.Neo4j.Password)
	}
	return out
}
