package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Flag names shared by sk-ctrl's command line and its environment bindings.
const (
	FlagConfig                = "config"
	FlagDriverImage           = "driver-image"
	FlagDriverPort            = "driver-port"
	FlagDriverServiceAccount  = "driver-service-account"
	FlagDriverLogLevel        = "driver-log-level"
	FlagDriverFailClosed      = "driver-fail-closed"
	FlagOwnerCacheSize        = "owner-cache-size"
	FlagOwnerCacheTTL         = "owner-cache-ttl"
	FlagMetricsNamespace      = "metrics-namespace"
	FlagMetricsServiceAccount = "metrics-service-account"
	FlagCertManagerIssuer     = "cert-manager-issuer"
	FlagRequeueDelay          = "requeue-delay"
	FlagVirtualNSPrefix       = "virtual-ns-prefix"
	FlagMetricsBindAddress    = "metrics-bind-address"
	FlagHealthProbeAddress    = "health-probe-bind-address"
	FlagLeaderElect           = "leader-elect"
	FlagLogLevel              = "log-level"
	FlagLogFormat             = "log-format"
)

// EnvPrefix prefixes environment variables overriding flags, e.g. SK_DRIVER_IMAGE.
const EnvPrefix = "SK"

// PodServiceAccountEnv is set by the deployment to the controller's own service account,
// which the driver Job reuses unless overridden.
const PodServiceAccountEnv = "POD_SVC_ACCOUNT"

// BindFlags registers sk-ctrl's flags on fs. Defaults come from Default().
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String(FlagConfig, "", "Path to a YAML configuration file")
	fs.String(FlagDriverImage, "", "Container image of the simulation driver")
	fs.Int32(FlagDriverPort, d.Driver.Port, "Admission webhook port of the simulation driver")
	fs.String(FlagDriverServiceAccount, d.Driver.ServiceAccount, "Service account the driver Job runs as")
	fs.String(FlagDriverLogLevel, d.Driver.LogLevel, "Log level passed to the driver")
	fs.Bool(FlagDriverFailClosed, d.Driver.FailClosed, "Deny pods whose owner chain cannot be resolved")
	fs.Int(FlagOwnerCacheSize, d.Driver.OwnerCacheSize, "Maximum number of entries in the driver's owner cache")
	fs.Duration(FlagOwnerCacheTTL, d.Driver.OwnerCacheTTL, "Lifetime of an entry in the driver's owner cache")
	fs.String(FlagMetricsNamespace, d.Metrics.Namespace, "Namespace of the shared monitoring stack")
	fs.String(FlagMetricsServiceAccount, d.Metrics.ServiceAccount, "Service account of the per-simulation Prometheus")
	fs.String(FlagCertManagerIssuer, "", "cert-manager Issuer for the driver's serving certificate")
	fs.Duration(FlagRequeueDelay, d.RequeueDelay, "Delay between checks while waiting for infrastructure")
	fs.String(FlagVirtualNSPrefix, d.VirtualNSPrefix, "Prefix of the namespaces simulated objects are created in")
	fs.String(FlagMetricsBindAddress, d.Manager.MetricsBindAddress, "Address the metrics endpoint binds to")
	fs.String(FlagHealthProbeAddress, d.Manager.HealthProbeBindAddress, "Address the health probe endpoint binds to")
	fs.Bool(FlagLeaderElect, d.Manager.LeaderElection, "Enable leader election")
	fs.String(FlagLogLevel, d.Log.Level, "Log level (trace, debug, info, warn, error)")
	fs.String(FlagLogFormat, d.Log.Format, "Log format (json, console)")
}

// FromFlags builds the configuration from a parsed flag set. Precedence, highest first:
// explicitly set flags, environment variables, the config file, defaults.
func FromFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv(FlagDriverServiceAccount, EnvPrefix+"_DRIVER_SERVICE_ACCOUNT", PodServiceAccountEnv); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	cfg := Default()
	if path := v.GetString(FlagConfig); path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	set := func(key string, apply func()) {
		if v.IsSet(key) {
			apply()
		}
	}
	set(FlagDriverImage, func() { cfg.Driver.Image = v.GetString(FlagDriverImage) })
	set(FlagDriverPort, func() { cfg.Driver.Port = v.GetInt32(FlagDriverPort) })
	set(FlagDriverServiceAccount, func() { cfg.Driver.ServiceAccount = v.GetString(FlagDriverServiceAccount) })
	set(FlagDriverLogLevel, func() { cfg.Driver.LogLevel = v.GetString(FlagDriverLogLevel) })
	set(FlagDriverFailClosed, func() { cfg.Driver.FailClosed = v.GetBool(FlagDriverFailClosed) })
	set(FlagOwnerCacheSize, func() { cfg.Driver.OwnerCacheSize = v.GetInt(FlagOwnerCacheSize) })
	set(FlagOwnerCacheTTL, func() { cfg.Driver.OwnerCacheTTL = v.GetDuration(FlagOwnerCacheTTL) })
	set(FlagMetricsNamespace, func() { cfg.Metrics.Namespace = v.GetString(FlagMetricsNamespace) })
	set(FlagMetricsServiceAccount, func() { cfg.Metrics.ServiceAccount = v.GetString(FlagMetricsServiceAccount) })
	set(FlagCertManagerIssuer, func() { cfg.CertManagerIssuer = v.GetString(FlagCertManagerIssuer) })
	set(FlagRequeueDelay, func() { cfg.RequeueDelay = v.GetDuration(FlagRequeueDelay) })
	set(FlagVirtualNSPrefix, func() { cfg.VirtualNSPrefix = v.GetString(FlagVirtualNSPrefix) })
	set(FlagMetricsBindAddress, func() { cfg.Manager.MetricsBindAddress = v.GetString(FlagMetricsBindAddress) })
	set(FlagHealthProbeAddress, func() { cfg.Manager.HealthProbeBindAddress = v.GetString(FlagHealthProbeAddress) })
	set(FlagLeaderElect, func() { cfg.Manager.LeaderElection = v.GetBool(FlagLeaderElect) })
	set(FlagLogLevel, func() { cfg.Log.Level = v.GetString(FlagLogLevel) })
	set(FlagLogFormat, func() { cfg.Log.Format = v.GetString(FlagLogFormat) })

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
