package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rohankatakam/revgraph/internal/errors"
)

// ValidationContext specifies what configuration is required
type ValidationContext string

const (
	// ValidationContextInit - revgraph init needs a reachable store
	ValidationContextInit ValidationContext = "init"
	// ValidationContextCommit - apply and dlq retry need the store and the queue
	ValidationContextCommit ValidationContext = "commit"
	// ValidationContextInspect - log, show and status only read the store
	ValidationContextInspect ValidationContext = "inspect"
	// ValidationContextAll - validate all configuration
	ValidationContextAll ValidationContext = "all"
)

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  ❌ %s\n", err))
	}

	if len(vr.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, warn := range vr.Warnings {
			sb.WriteString(fmt.Sprintf("  ⚠️  %s\n", warn))
		}
	}

	return sb.String()
}

// Validate validates configuration for the given context with auto-detected mode
func (c *Config) Validate(ctx ValidationContext) *ValidationResult {
	return c.ValidateWithMode(ctx, DetectMode())
}

// ValidateWithMode validates configuration for the given context and deployment mode
func (c *Config) ValidateWithMode(ctx ValidationContext, mode DeploymentMode) *ValidationResult {
	result := &ValidationResult{Valid: true}

	switch ctx {
	case ValidationContextInit, ValidationContextInspect:
		c.validateBackend(result, mode)
	case ValidationContextCommit:
		c.validateBackend(result, mode)
		c.validateCommit(result)
		c.validateQueue(result)
	case ValidationContextAll:
		c.validateBackend(result, mode)
		c.validateCommit(result)
		c.validateQueue(result)
		c.validateLog(result)
	}

	return result
}

// Check returns the validation errors of ctx as a config error, or nil.
func (c *Config) Check(ctx ValidationContext) error {
	result := c.Validate(ctx)
	if result.HasErrors() {
		return errors.ConfigError(result.Error())
	}
	return nil
}

func (c *Config) validateBackend(result *ValidationResult, mode DeploymentMode) {
	switch c.Backend {
	case BackendNeo4j:
		c.validateNeo4j(result, mode)
	case BackendLocal:
		if c.Local.Path == "" {
			result.AddError("local.path is required for the local backend")
		}
	default:
		result.AddError("backend must be %q or %q, got %q", BackendNeo4j, BackendLocal, c.Backend)
	}
}

func (c *Config) validateNeo4j(result *ValidationResult, mode DeploymentMode) {
	if c.Neo4j.URI == "" {
		result.AddError("NEO4J_URI is required but not set")
	} else if u, err := url.Parse(c.Neo4j.URI); err != nil {
		result.AddError("NEO4J_URI is invalid: %v", err)
	} else {
		switch u.Scheme {
		case "bolt", "bolt+s", "bolt+ssc", "neo4j", "neo4j+s", "neo4j+ssc":
		default:
			result.AddError("NEO4J_URI scheme %q is not supported", u.Scheme)
		}
		if strings.Contains(u.Host, "localhost") && mode.RequiresSecureCredentials() {
			result.AddError("Neo4j URI uses localhost. In %s mode (%s), you must provide a remote database URI.", mode, mode.Description())
		}
	}

	if c.Neo4j.User == "" {
		result.AddError("NEO4J_USER is required but not set")
	}

	if c.Neo4j.Password == "" {
		result.AddError("NEO4J_PASSWORD is required but not set. Set it via %s.", mode.ConfigSource())
	} else {
		insecure := []string{"password", "neo4j", "changeme"}
		for _, p := range insecure {
			if c.Neo4j.Password != p {
				continue
			}
			if mode.RequiresSecureCredentials() {
				result.AddError("NEO4J_PASSWORD is set to an insecure default (%s). This is not allowed in %s mode.", p, mode)
			} else if mode.AllowsDevelopmentDefaults() {
				result.AddWarning("NEO4J_PASSWORD is set to a very common password (%s).", p)
			}
		}
	}

	if c.Neo4j.Database == "" {
		result.AddWarning("NEO4J_DATABASE is not set, will use 'neo4j' as default")
	}
	if c.Neo4j.MaxPoolSize <= 0 {
		result.AddWarning("neo4j.max_pool_size is not positive, will size the pool from command concurrency")
	}
}

func (c *Config) validateCommit(result *ValidationResult) {
	if c.Commit.Timeout <= 0 {
		result.AddError("commit.timeout must be positive, got %s", c.Commit.Timeout)
	}
}

func (c *Config) validateQueue(result *ValidationResult) {
	if c.Queue.Path == "" {
		result.AddError("queue.path is required")
	}
	if c.Queue.MaxRetries < 0 {
		result.AddError("queue.max_retries must not be negative")
	}
	if c.Queue.RetryRate <= 0 {
		result.AddError("queue.retry_rate must be positive")
	}
}

func (c *Config) validateLog(result *ValidationResult) {
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		result.AddWarning("log.level %q is unknown, will use info", c.Log.Level)
	}
}
