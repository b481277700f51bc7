// Package config loads, expands, and validates the runtime configuration.
//
// The pipeline is always the same: read raw bytes from a provider, parse
// YAML, expand ${ENV_VAR} placeholders, decode into the Config struct,
// apply defaults, validate. Hot reload re-runs the pipeline and hands the
// fresh Config to an onChange callback; only instruction overrides are safe
// to change at runtime, everything else requires a restart.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/arbiterhq/arbiter/pkg/observability"
)

// DefaultModelDeployment is used for every agent when the config names no
// deployment and MODEL_DEPLOYMENT_NAME is unset.
const DefaultModelDeployment = "gpt-4o-mini"

const (
	DefaultAPIVersion   = "2025-05-01"
	DefaultServerPort   = 8080
	DefaultPollInterval = time.Second
	DefaultPollDeadline = 5 * time.Minute
	DefaultStoreBackend = "memory"
)

// Config is the root configuration document.
type Config struct {
	Runtime       RuntimeConfig        `yaml:"runtime"`
	Workflow      WorkflowConfig       `yaml:"workflow"`
	Server        ServerConfig         `yaml:"server"`
	Store         StoreConfig          `yaml:"store"`
	Fabric        FabricConfig         `yaml:"fabric"`
	Evaluation    EvaluationConfig     `yaml:"evaluation"`
	Usage         UsageConfig          `yaml:"usage"`
	Auth          AuthConfig           `yaml:"auth"`
	Observability observability.Config `yaml:"observability"`
	Logging       LoggingConfig        `yaml:"logging"`
}

// RuntimeConfig points the runtime at the remote agent service.
type RuntimeConfig struct {
	// Endpoint is the base URL of the agent service.
	Endpoint   string `yaml:"endpoint"`
	APIVersion string `yaml:"api_version"`

	// APIKey is the service credential. Usually left empty in the file and
	// resolved from ARBITER_API_KEY / AGENT_SERVICE_API_KEY instead.
	APIKey string `yaml:"api_key"`

	// SpecialistModel is the deployment every specialist runs on.
	// SupervisorModel defaults to it when empty.
	SpecialistModel string  `yaml:"specialist_model"`
	SupervisorModel string  `yaml:"supervisor_model"`
	Temperature     float64 `yaml:"temperature"`

	PollInterval   time.Duration `yaml:"poll_interval"`
	PollDeadline   time.Duration `yaml:"poll_deadline"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`

	// TLS tunes certificate handling for the endpoint. Only needed when
	// the service sits behind a private CA.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig configures certificate handling for the agent service
// endpoint.
type TLSConfig struct {
	CACertificate      string `yaml:"ca_certificate"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// WorkflowConfig shapes the supervisor workflow.
type WorkflowConfig struct {
	// Analytics inserts the claims data analyst into the workflow.
	Analytics bool `yaml:"analytics"`

	// Instructions overrides specialist prompts by name. Reloadable.
	Instructions map[string]string `yaml:"instructions"`
}

// ServerConfig configures the REST listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address returns the host:port the server binds to.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StoreConfig selects the execution/usage store backend.
type StoreConfig struct {
	// Backend is one of: memory, sqlite, postgres, mysql, mongo.
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`

	// Database names the mongo database; ignored by other backends.
	Database string `yaml:"database"`
}

// FabricConfig configures the data-analytics path: the connector the
// remote service attaches to the analyst, and the direct SQL source used
// when the remote tool soft-fails.
type FabricConfig struct {
	// Connection is attached verbatim to the analyst's remote tool
	// definition, keyed the way the agent service expects.
	Connection map[string]any `yaml:"connection"`

	// Driver/DSN open the fallback SQL source. One of: sqlite, postgres,
	// mysql. Empty driver disables the SQL fallback; the deterministic
	// sample data still applies.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// EvaluationConfig controls post-run quality scoring.
type EvaluationConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Model   string `yaml:"model"`
}

// UsageConfig controls token accounting.
type UsageConfig struct {
	// EstimateMissing enables tiktoken-based estimation for runs the
	// service reported no usage for. Estimated records are marked.
	EstimateMissing bool `yaml:"estimate_missing"`
}

// AuthConfig enables JWT validation of inbound bearer tokens. Disabled by
// default: tokens then pass through to the agent service unverified.
type AuthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	JWKSURL  string `yaml:"jwks_url"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// BoolPtr returns a pointer to the given bool.
func BoolPtr(b bool) *bool {
	return &b
}

// BoolValue returns the value of the bool pointer, or the default if nil.
func BoolValue(b *bool, defaultValue bool) bool {
	if b == nil {
		return defaultValue
	}
	return *b
}

// Default returns a config with every default applied, suitable for
// running without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills every unset field section by section.
func (c *Config) SetDefaults() {
	c.Runtime.SetDefaults()
	c.Workflow.SetDefaults()
	c.Server.SetDefaults()
	c.Store.SetDefaults()
	c.Evaluation.SetDefaults(c.Runtime.SpecialistModel)
	c.Observability.SetDefaults()
	c.Logging.SetDefaults()
}

func (c *RuntimeConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = os.Getenv("AGENT_SERVICE_ENDPOINT")
	}
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.APIKey == "" {
		c.APIKey = ServiceAPIKey()
	}
	if c.SpecialistModel == "" {
		if env := os.Getenv("MODEL_DEPLOYMENT_NAME"); env != "" {
			c.SpecialistModel = env
		} else {
			c.SpecialistModel = DefaultModelDeployment
		}
	}
	if c.SupervisorModel == "" {
		c.SupervisorModel = c.SpecialistModel
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollDeadline == 0 {
		c.PollDeadline = DefaultPollDeadline
	}
}

func (c *WorkflowConfig) SetDefaults() {
	if c.Instructions == nil {
		c.Instructions = make(map[string]string)
	}
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = DefaultServerPort
	}
}

func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = DefaultStoreBackend
	}
	if c.Backend == "mongo" && c.Database == "" {
		c.Database = "arbiter"
	}
}

func (c *EvaluationConfig) SetDefaults(fallbackModel string) {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.Model == "" {
		c.Model = fallbackModel
	}
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// Validate checks the whole config. Call after SetDefaults.
func (c *Config) Validate() error {
	if err := c.Runtime.Validate(); err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Fabric.Validate(); err != nil {
		return fmt.Errorf("fabric: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	return nil
}

func (c *RuntimeConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required (set runtime.endpoint or AGENT_SERVICE_ENDPOINT)")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.PollDeadline <= c.PollInterval {
		return fmt.Errorf("poll_deadline must exceed poll_interval")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	return nil
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	return nil
}

var validStoreBackends = map[string]bool{
	"memory":   true,
	"sqlite":   true,
	"postgres": true,
	"mysql":    true,
	"mongo":    true,
}

func (c *StoreConfig) Validate() error {
	if !validStoreBackends[c.Backend] {
		return fmt.Errorf("invalid backend %q (valid: memory, sqlite, postgres, mysql, mongo)", c.Backend)
	}
	if c.Backend != "memory" && c.DSN == "" {
		return fmt.Errorf("dsn is required for backend %q", c.Backend)
	}
	return nil
}

var validFabricDrivers = map[string]bool{
	"sqlite":   true,
	"postgres": true,
	"mysql":    true,
}

func (c *FabricConfig) Validate() error {
	if c.Driver == "" {
		return nil
	}
	if !validFabricDrivers[c.Driver] {
		return fmt.Errorf("invalid driver %q (valid: sqlite, postgres, mysql)", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn is required when driver is set")
	}
	return nil
}

func (c *AuthConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.JWKSURL == "" {
		return fmt.Errorf("jwks_url is required when auth is enabled")
	}
	return nil
}
