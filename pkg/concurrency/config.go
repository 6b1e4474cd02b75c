package concurrency

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// ConfigSource indicates where the configuration came from
type ConfigSource string

const (
	ConfigSourceEnvVar     ConfigSource = "environment_variable"
	ConfigSourceAutoDetect ConfigSource = "auto_detect"
)

// Config holds the host's concurrency parameters: how many dispatches may
// run at once and how many workers the execution service runs.
type Config struct {
	MaxConcurrent int
	ExecutorCount int
	Source        ConfigSource
	IsKubernetes  bool
	EffectiveCPUs int
}

// LoadConfig loads concurrency configuration with priority: env vars > auto-detection
func LoadConfig() *Config {
	config := &Config{}

	// Detect if running in Kubernetes
	config.IsKubernetes = isKubernetes()

	// Get effective CPUs (respects cgroup limits)
	config.EffectiveCPUs = runtime.GOMAXPROCS(0)

	// Load MaxConcurrent with priority
	if maxConcurrent := getEnvInt("HESTIA_MAX_CONCURRENT", 0); maxConcurrent > 0 {
		config.MaxConcurrent = maxConcurrent
		config.Source = ConfigSourceEnvVar
	} else if multiplier := getEnvInt("HESTIA_CONCURRENCY_MULTIPLIER", 0); multiplier > 0 {
		config.MaxConcurrent = config.EffectiveCPUs * multiplier
		config.Source = ConfigSourceEnvVar
	} else {
		config.MaxConcurrent = getDefaultMaxConcurrent(config.IsKubernetes, config.EffectiveCPUs)
		config.Source = ConfigSourceAutoDetect
	}

	// Ensure minimum value
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}

	// Load ExecutorCount
	if executors := getEnvInt("HESTIA_EXECUTOR_COUNT", 0); executors > 0 {
		config.ExecutorCount = executors
	} else {
		config.ExecutorCount = getDefaultExecutorCount(config.IsKubernetes, config.EffectiveCPUs)
	}

	return config
}

// isKubernetes detects if the application is running in Kubernetes
func isKubernetes() bool {
	// Kubernetes sets this environment variable in all containers
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// getDefaultMaxConcurrent returns sensible defaults based on environment
func getDefaultMaxConcurrent(isK8s bool, cpus int) int {
	if isK8s {
		// Conservative for Kubernetes to prevent resource exhaustion
		return cpus * 2
	}
	// More aggressive for bare metal
	return cpus * 4
}

// getDefaultExecutorCount returns sensible defaults for the execution pool
func getDefaultExecutorCount(isK8s bool, cpus int) int {
	if isK8s {
		// Conservative for Kubernetes
		return max(cpus, 4)
	}
	// More workers for bare metal
	return max(cpus*2, 8)
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// max returns the maximum of two integers
func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// String returns a formatted string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{MaxConcurrent: %d, ExecutorCount: %d, IsK8s: %t, CPUs: %d, Source: %s}",
		c.MaxConcurrent,
		c.ExecutorCount,
		c.IsKubernetes,
		c.EffectiveCPUs,
		c.Source,
	)
}
