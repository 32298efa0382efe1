package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := *Default()
	cfg.Driver.Image = "quay.io/simkube/sk-driver:v1"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, int32(8888), cfg.Driver.Port)
	assert.Equal(t, "monitoring", cfg.Metrics.Namespace)
	assert.Equal(t, "prometheus-k8s", cfg.Metrics.ServiceAccount)
	assert.Equal(t, "virtual", cfg.VirtualNSPrefix)
	assert.Equal(t, DefaultRequeueDelay, cfg.RequeueDelay)
	assert.Error(t, cfg.Validate(), "default config has no driver image")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no image", mutate: func(c *Config) { c.Driver.Image = "" }, wantErr: true},
		{name: "bad port", mutate: func(c *Config) { c.Driver.Port = 70000 }, wantErr: true},
		{name: "no metrics namespace", mutate: func(c *Config) { c.Metrics.Namespace = "" }, wantErr: true},
		{name: "zero requeue", mutate: func(c *Config) { c.RequeueDelay = 0 }, wantErr: true},
		{name: "negative cache", mutate: func(c *Config) { c.Driver.OwnerCacheSize = -1 }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: true},
		{name: "bad driver log level", mutate: func(c *Config) { c.Driver.LogLevel = "loud" }, wantErr: true},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "full config",
			content: `
driver:
  image: sk-driver:dev
  port: 9000
  failClosed: true
  ownerCacheTTL: 30s
metrics:
  namespace: prom
certManagerIssuer: selfsigned
requeueDelay: 2s
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "sk-driver:dev", cfg.Driver.Image)
				assert.Equal(t, int32(9000), cfg.Driver.Port)
				assert.True(t, cfg.Driver.FailClosed)
				assert.Equal(t, 30*time.Second, cfg.Driver.OwnerCacheTTL)
				assert.Equal(t, "prom", cfg.Metrics.Namespace)
				assert.Equal(t, "prometheus-k8s", cfg.Metrics.ServiceAccount)
				assert.Equal(t, "selfsigned", cfg.CertManagerIssuer)
				assert.Equal(t, 2*time.Second, cfg.RequeueDelay)
			},
		},
		{
			name: "minimal config",
			content: `
driver:
  image: sk-driver:dev
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, int32(8888), cfg.Driver.Port)
				assert.Equal(t, DefaultRequeueDelay, cfg.RequeueDelay)
			},
		},
		{
			name:    "missing image",
			content: "metrics:\n  namespace: prom\n",
			wantErr: true,
		},
		{
			name:    "invalid yaml",
			content: "driver: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tempDir, tt.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			cfg, err := Load(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func newFlagSet(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("sk-ctrl", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestFromFlags(t *testing.T) {
	cfg, err := FromFlags(newFlagSet(t, "--driver-image=sk-driver:flag", "--requeue-delay=1s", "--cert-manager-issuer=ca"))
	require.NoError(t, err)
	assert.Equal(t, "sk-driver:flag", cfg.Driver.Image)
	assert.Equal(t, time.Second, cfg.RequeueDelay)
	assert.Equal(t, "ca", cfg.CertManagerIssuer)
	assert.Equal(t, "monitoring", cfg.Metrics.Namespace)
}

func TestFromFlags_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
driver:
  image: sk-driver:file
metrics:
  namespace: from-file
`), 0o600))

	t.Setenv("SK_METRICS_NAMESPACE", "from-env")
	t.Setenv(PodServiceAccountEnv, "ctrl-sa")

	cfg, err := FromFlags(newFlagSet(t, "--config="+path, "--driver-image=sk-driver:flag"))
	require.NoError(t, err)
	assert.Equal(t, "sk-driver:flag", cfg.Driver.Image)
	assert.Equal(t, "from-env", cfg.Metrics.Namespace)
	assert.Equal(t, "ctrl-sa", cfg.Driver.ServiceAccount)
}

func TestFromFlags_Invalid(t *testing.T) {
	_, err := FromFlags(newFlagSet(t))
	assert.Error(t, err, "driver image is required")
}
