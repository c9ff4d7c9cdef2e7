// Package config loads the daemon's YAML configuration file: the list of
// sources to connect at startup plus the daemon-level settings (data
// directory, metrics/remote listen addresses).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/ndb/pkg/ndb/registry"
	"github.com/cuemby/ndb/pkg/ndb/source"
	"github.com/cuemby/ndb/pkg/ndb/store"
)

// Config is cmd/ndbd's top-level configuration.
type Config struct {
	// DataDir holds the bbolt-backed sources/sources_options mirror
	// (pkg/ndb/store). Snapshots stay in memory and are not written here.
	DataDir string `yaml:"dataDir"`
	// MetricsAddr is where pkg/metrics.Handler() and the health/ready/
	// liveness handlers are served.
	MetricsAddr string `yaml:"metricsAddr"`
	// RemoteListenAddr, if set, starts a pkg/rtnlremote.Server exposing
	// this host's own netlink connection to remote callers. Empty means
	// this daemon only dials out, never accepts remote connections.
	RemoteListenAddr string `yaml:"remoteListenAddr,omitempty"`
	// Sources lists the sources to add at startup, the daemon's
	// replacement for NDB(sources=[...]).
	Sources []SourceConfig `yaml:"sources"`
}

// SourceConfig is one entry of Sources, mirroring registry.Spec's fields
// in YAML-friendly form.
type SourceConfig struct {
	Target     string            `yaml:"target"`
	Kind       string            `yaml:"kind,omitempty"`
	Hostname   string            `yaml:"hostname,omitempty"`
	Netns      string            `yaml:"netns,omitempty"`
	Persistent bool              `yaml:"persistent,omitempty"`
	Options    map[string]string `yaml:"options,omitempty"`
}

// Default returns the configuration cmd/ndbd uses when no --config flag
// is given: a single local source, metrics on localhost.
func Default() *Config {
	return &Config{
		DataDir:     "/var/lib/ndbd",
		MetricsAddr: "127.0.0.1:9100",
		Sources: []SourceConfig{
			{Target: "localhost", Kind: string(source.KindLocal), Persistent: true},
		},
	}
}

// Load reads and parses path as YAML into a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = Default().DataDir
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = Default().MetricsAddr
	}
	return cfg, nil
}

// Specs converts every SourceConfig into a registry.Spec, the form
// registry.Add actually accepts.
func (c *Config) Specs() []registry.Spec {
	specs := make([]registry.Spec, 0, len(c.Sources))
	for _, sc := range c.Sources {
		options := map[string]store.SourceOption{}
		for k, v := range sc.Options {
			options[k] = store.SourceOption{Type: "str", Value: v}
		}
		specs = append(specs, registry.Spec{
			Target:     sc.Target,
			Kind:       source.Kind(sc.Kind),
			Hostname:   sc.Hostname,
			Netns:      sc.Netns,
			Persistent: sc.Persistent,
			Options:    options,
		})
	}
	return specs
}
