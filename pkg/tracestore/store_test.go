package tracestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTrace = `
version: 1
objects:
  - kube-system/coredns
events:
  - ts: 100
    applied:
      - apiVersion: apps/v1
        kind: Deployment
        metadata:
          name: nginx
          namespace: default
        spec:
          replicas: 2
  - ts: 160
    deleted:
      - apiVersion: apps/v1
        kind: Deployment
        metadata:
          name: nginx
          namespace: default
podLifecycles:
  - ownerKey: default/nginx
    hash: "42"
    lifecycles:
      - startTS: 100
        endTS: 130
      - startTS: 101
`

func writeTrace(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeTrace(t, testTrace)

	for _, uri := range []string{path, "file://" + path} {
		t.Run(uri, func(t *testing.T) {
			s, err := Load(uri)
			require.NoError(t, err)

			assert.True(t, s.HasObj("default/nginx"))
			assert.True(t, s.HasObj("kube-system/coredns"))
			assert.False(t, s.HasObj("default/other"))
			assert.Len(t, s.Events(), 2)
			assert.Equal(t, int64(100), s.Start())
		})
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		uri  string
	}{
		{name: "missing file", uri: filepath.Join(t.TempDir(), "nope.yml")},
		{name: "unsupported scheme", uri: "s3://bucket/trace.yml"},
		{name: "remote file host", uri: "file://example.com/trace.yml"},
		{name: "bad hash", uri: writeTrace(t, "podLifecycles:\n- ownerKey: a/b\n  hash: xyz\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.uri)
			assert.Error(t, err)
		})
	}
}

func TestLookupPodLifecycle(t *testing.T) {
	s, err := Load(writeTrace(t, testTrace))
	require.NoError(t, err)

	tests := []struct {
		name    string
		owner   string
		hash    uint64
		ordinal int
		want    PodLifecycleData
	}{
		{name: "finished", owner: "default/nginx", hash: 42, ordinal: 0, want: Finished(100, 130)},
		{name: "running", owner: "default/nginx", hash: 42, ordinal: 1, want: Running(101)},
		{name: "wraps around", owner: "default/nginx", hash: 42, ordinal: 2, want: Finished(100, 130)},
		{name: "other hash", owner: "default/nginx", hash: 7, ordinal: 0, want: Unknown()},
		{name: "other owner", owner: "default/other", hash: 42, ordinal: 0, want: Unknown()},
		{name: "negative ordinal", owner: "default/nginx", hash: 42, ordinal: -1, want: Unknown()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.LookupPodLifecycle(tt.owner, tt.hash, tt.ordinal))
		})
	}
}

func TestLifetime(t *testing.T) {
	secs, ok := Finished(1, 2).Lifetime()
	assert.True(t, ok)
	assert.Equal(t, int64(1), secs)

	_, ok = Finished(5, 2).Lifetime()
	assert.False(t, ok)

	_, ok = Running(1).Lifetime()
	assert.False(t, ok)

	_, ok = Unknown().Lifetime()
	assert.False(t, ok)
}
