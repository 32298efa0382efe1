// Package config provides configuration types and loading for the simkube controller and driver.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	simkubev1 "github.com/simkube-io/simkube/api/v1"
	"github.com/simkube-io/simkube/pkg/logging"
)

// Config is the root configuration of sk-ctrl.
type Config struct {
	Driver  DriverConfig  `yaml:"driver"`
	Metrics MetricsConfig `yaml:"metrics"`
	Manager ManagerConfig `yaml:"manager,omitempty"`
	Log     LogConfig     `yaml:"log,omitempty"`

	// CertManagerIssuer names the cert-manager Issuer that signs the driver's serving certificate.
	// If empty, the webhook CA bundle is expected to be provisioned out of band.
	CertManagerIssuer string `yaml:"certManagerIssuer,omitempty"`

	// RequeueDelay is the fixed delay used while waiting for infrastructure to become ready.
	RequeueDelay time.Duration `yaml:"requeueDelay,omitempty"`

	// VirtualNSPrefix prefixes the namespaces simulated objects are replayed into.
	VirtualNSPrefix string `yaml:"virtualNamespacePrefix,omitempty"`
}

// DriverConfig configures the driver Job created for each Simulation.
type DriverConfig struct {
	// Image is the sk-driver container image.
	Image string `yaml:"image"`
	// Port is the admission webhook port of the driver.
	Port int32 `yaml:"port,omitempty"`
	// ServiceAccount is the service account the driver Job runs as.
	ServiceAccount string `yaml:"serviceAccount,omitempty"`
	// LogLevel is passed on to the driver.
	LogLevel string `yaml:"logLevel,omitempty"`
	// FailClosed makes the driver deny pods whose owner chain cannot be resolved.
	FailClosed bool `yaml:"failClosed,omitempty"`
	// OwnerCacheSize bounds the driver's owner-resolution cache.
	OwnerCacheSize int `yaml:"ownerCacheSize,omitempty"`
	// OwnerCacheTTL is how long the driver trusts a cached owner chain.
	OwnerCacheTTL time.Duration `yaml:"ownerCacheTTL,omitempty"`
}

// MetricsConfig describes the shared monitoring stack.
type MetricsConfig struct {
	// Namespace must already exist; it hosts the per-simulation Prometheus.
	Namespace string `yaml:"namespace,omitempty"`
	// ServiceAccount is used by the per-simulation Prometheus.
	ServiceAccount string `yaml:"serviceAccount,omitempty"`
}

// ManagerConfig configures the controller-runtime manager.
type ManagerConfig struct {
	MetricsBindAddress     string `yaml:"metricsBindAddress,omitempty"`
	HealthProbeBindAddress string `yaml:"healthProbeBindAddress,omitempty"`
	LeaderElection         bool   `yaml:"leaderElection,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

const (
	DefaultRequeueDelay   = 5 * time.Second
	DefaultOwnerCacheSize = 10000
	DefaultOwnerCacheTTL  = 10 * time.Minute
)

// Load reads configuration from a YAML file. Unset fields take their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Driver.Image == "" {
		return fmt.Errorf("driver.image must not be empty")
	}
	if c.Driver.Port <= 0 || c.Driver.Port > 65535 {
		return fmt.Errorf("invalid driver.port %d", c.Driver.Port)
	}
	if c.Metrics.Namespace == "" {
		return fmt.Errorf("metrics.namespace must not be empty")
	}
	if c.RequeueDelay <= 0 {
		return fmt.Errorf("requeueDelay must be positive, got %s", c.RequeueDelay)
	}
	if c.Driver.OwnerCacheSize < 0 {
		return fmt.Errorf("driver.ownerCacheSize must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := logging.ParseLevel(c.Driver.LogLevel); err != nil {
		return fmt.Errorf("driver.logLevel: %w", err)
	}
	if !logging.IsValidFormat(c.Log.Format) {
		return fmt.Errorf("invalid log.format %q", c.Log.Format)
	}
	return nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Driver.Port == 0 {
		c.Driver.Port = d.Driver.Port
	}
	if c.Driver.ServiceAccount == "" {
		c.Driver.ServiceAccount = d.Driver.ServiceAccount
	}
	if c.Driver.LogLevel == "" {
		c.Driver.LogLevel = d.Driver.LogLevel
	}
	if c.Driver.OwnerCacheSize == 0 {
		c.Driver.OwnerCacheSize = d.Driver.OwnerCacheSize
	}
	if c.Driver.OwnerCacheTTL == 0 {
		c.Driver.OwnerCacheTTL = d.Driver.OwnerCacheTTL
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = d.Metrics.Namespace
	}
	if c.Metrics.ServiceAccount == "" {
		c.Metrics.ServiceAccount = d.Metrics.ServiceAccount
	}
	if c.RequeueDelay == 0 {
		c.RequeueDelay = d.RequeueDelay
	}
	if c.VirtualNSPrefix == "" {
		c.VirtualNSPrefix = d.VirtualNSPrefix
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// Default returns the default configuration. The driver image has no default.
func Default() *Config {
	return &Config{
		Driver: DriverConfig{
			Port:           simkubev1.DefaultDriverAdmissionPort,
			ServiceAccount: simkubev1.DefaultDriverServiceAccount,
			LogLevel:       "info",
			OwnerCacheSize: DefaultOwnerCacheSize,
			OwnerCacheTTL:  DefaultOwnerCacheTTL,
		},
		Metrics: MetricsConfig{
			Namespace:      simkubev1.DefaultMetricsNamespace,
			ServiceAccount: simkubev1.DefaultMetricsServiceAccount,
		},
		Manager: ManagerConfig{
			MetricsBindAddress:     ":8080",
			HealthProbeBindAddress: ":8081",
		},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatJSON,
		},
		RequeueDelay:    DefaultRequeueDelay,
		VirtualNSPrefix: simkubev1.DefaultVirtualNSPrefix,
	}
}
