package launcher

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/wehubfusion/Hestia/pkg/errors"
)

// Config is the host runtime configuration, normally loaded from a TOML
// file. Zero fields fall back to the DefaultConfig values of the component
// they configure.
type Config struct {
	// Version is the runtime version matched against bundle requires
	// constraints and announced in lifecycle events.
	Version string `toml:"version"`

	Executor ExecutorConfig `toml:"executor"`
	Logging  LoggingConfig  `toml:"logging"`
	Faults   FaultsConfig   `toml:"faults"`
	Tracing  TracingConfig  `toml:"tracing"`
	NATS     NATSConfig     `toml:"nats"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Deploy   DeployConfig   `toml:"deploy"`

	// ShutdownGraceSeconds bounds the drain of queued work on shutdown.
	ShutdownGraceSeconds int `toml:"shutdownGraceSeconds"`
}

// ExecutorConfig sizes the worker pool backing the runtime. Zeros use the
// pool's own defaults.
type ExecutorConfig struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queueSize"`
}

// LoggingConfig selects the log level and an optional log file directory.
type LoggingConfig struct {
	Level       string `toml:"level"`
	Directory   string `toml:"directory"`
	Development bool   `toml:"development"`
}

// FaultsConfig names the fault reporting backend. Handler is a registered
// handler name; empty means the log backend.
type FaultsConfig struct {
	Handler     string `toml:"handler"`
	DSN         string `toml:"dsn"`
	Environment string `toml:"environment"`
}

// TracingConfig configures the OTLP span exporter.
type TracingConfig struct {
	Enabled     bool    `toml:"enabled"`
	Endpoint    string  `toml:"endpoint"`
	Protocol    string  `toml:"protocol"`
	Environment string  `toml:"environment"`
	SampleRatio float64 `toml:"sampleRatio"`
}

// NATSConfig configures the messaging connection. An empty URL disables
// NATS entirely: no listener, no lifecycle events.
type NATSConfig struct {
	URL      string `toml:"url"`
	Name     string `toml:"name"`
	Token    string `toml:"token"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Prefix   string `toml:"prefix"`
	Queue    string `toml:"queue"`
}

// GatewayConfig configures the HTTP transport.
type GatewayConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	Prefix  string `toml:"prefix"`
}

// DeployConfig controls bundle auto-deployment at launch.
type DeployConfig struct {
	// Manifests lists explicit manifest paths deployed first, in order.
	Manifests []string `toml:"manifests"`

	// Directory is scanned for *.bundle.toml manifests after the explicit
	// list.
	Directory string `toml:"directory"`

	// Watch keeps watching Directory after launch and deploys manifests as
	// they appear.
	Watch bool `toml:"watch"`

	// Strict makes a failed launch deployment shut the host down. Watched
	// deployments are never fatal.
	Strict bool `toml:"strict"`

	// BlobConnection optionally enables the Azure Blob fetcher for remote
	// artifact and configuration locations.
	BlobConnection string `toml:"blobConnection"`
	BlobContainer  string `toml:"blobContainer"`
}

// DefaultConfig returns a runnable local development configuration: HTTP
// gateway on :8080, log backend for faults, no NATS, no tracing.
func DefaultConfig() Config {
	return Config{
		Version: "1.0.0",
		Logging: LoggingConfig{Level: "info"},
		Faults:  FaultsConfig{Handler: "log"},
		Gateway: GatewayConfig{Enabled: true, Addr: ":8080"},
		NATS: NATSConfig{
			Prefix: "hestia",
			Queue:  "hestia-hosts",
		},
		Tracing: TracingConfig{
			Protocol:    "http",
			SampleRatio: 1.0,
		},
		ShutdownGraceSeconds: 15,
	}
}

// ParseConfig parses TOML configuration data over the defaults.
func ParseConfig(data []byte) (Config, error) {
	config := DefaultConfig()
	if err := toml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.NewConfiguration("parsing runtime configuration", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// LoadConfig reads and parses the TOML configuration at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.NewConfiguration(fmt.Sprintf("reading runtime configuration %s", path), err)
	}
	return ParseConfig(data)
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if c.Executor.Workers < 0 {
		return errors.NewConfiguration("executor workers must not be negative", nil)
	}
	if c.Executor.QueueSize < 0 {
		return errors.NewConfiguration("executor queue size must not be negative", nil)
	}
	if c.ShutdownGraceSeconds < 0 {
		return errors.NewConfiguration("shutdown grace must not be negative", nil)
	}
	if c.Deploy.Watch && c.Deploy.Directory == "" {
		return errors.NewConfiguration("deploy watch requires a deploy directory", nil)
	}
	if c.Gateway.Enabled && c.Gateway.Addr == "" {
		return errors.NewConfiguration("gateway requires a listen address", nil)
	}
	return nil
}

// Grace returns the shutdown drain bound as a duration.
func (c *Config) Grace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}
