package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ndb/pkg/ndb/source"
)

const sampleYAML = `
dataDir: /tmp/ndb-test
metricsAddr: 127.0.0.1:9200
remoteListenAddr: 0.0.0.0:9300
sources:
  - target: localhost
    persistent: true
  - target: host1
    hostname: host1.example.com
    options:
      addr: host1.example.com:9300
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ndbd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeTemp(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/ndb-test", cfg.DataDir)
	assert.Equal(t, "127.0.0.1:9200", cfg.MetricsAddr)
	assert.Equal(t, "0.0.0.0:9300", cfg.RemoteListenAddr)
	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, "localhost", cfg.Sources[0].Target)
	assert.True(t, cfg.Sources[0].Persistent)
	assert.Equal(t, "host1.example.com:9300", cfg.Sources[1].Options["addr"])
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeTemp(t, "sources: []\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, Default().DataDir, cfg.DataDir)
	assert.Equal(t, Default().MetricsAddr, cfg.MetricsAddr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSpecs(t *testing.T) {
	cfg := &Config{
		Sources: []SourceConfig{
			{Target: "host1", Kind: string(source.KindRemote), Options: map[string]string{"addr": "host1:9300"}},
		},
	}

	specs := cfg.Specs()
	require.Len(t, specs, 1)
	assert.Equal(t, "host1", specs[0].Target)
	assert.Equal(t, source.KindRemote, specs[0].Kind)
	assert.Equal(t, "host1:9300", specs[0].Options["addr"].Value)
}
