// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package config loads the monitor configuration: the working directory
// layout, session timing and the set of remote nodes with their enabled
// log streams.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/holger24/AFD-sub000/pkg/statusmap"
	"github.com/holger24/AFD-sub000/pkg/wire"
)

// WorkDirEnv overrides the working directory when the -w flag is absent.
const WorkDirEnv = "AFD_MON_WORK_DIR"

// Node is one monitored remote node.
type Node struct {
	Alias string `yaml:"alias"`
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	// Options names the log streams this monitor subscribes to.
	Options []string `yaml:"options"`
}

// Addr returns the dial address.
func (n Node) Addr() string { return fmt.Sprintf("%s:%d", n.Host, n.Port) }

// OptionsMask folds the stream names into the local options mask.
func (n Node) OptionsMask() (uint32, error) {
	var mask uint32
	for _, name := range n.Options {
		m, ok := optionMasks[name]
		if !ok {
			return 0, fmt.Errorf("node %s: unknown log option %q", n.Alias, name)
		}
		mask |= m
	}
	return mask, nil
}

var optionMasks = map[string]uint32{
	"system":         wire.StreamSystem.MaskOf(),
	"event":          wire.StreamEvent.MaskOf(),
	"receive":        wire.StreamReceive.MaskOf(),
	"transfer":       wire.StreamTransfer.MaskOf(),
	"transfer_debug": wire.StreamTransferDB.MaskOf(),
	"input":          wire.StreamInput.MaskOf(),
	"distribution":   wire.StreamDistribution.MaskOf(),
	"production":     wire.StreamProduction.MaskOf(),
	"output":         wire.StreamOutput.MaskOf(),
	"delete":         wire.StreamDelete.MaskOf(),
	"job_data":       wire.StreamJobData.MaskOf(),
}

// Config is the full monitor configuration.
type Config struct {
	WorkDir    string `yaml:"work_dir"`
	GroupWrite bool   `yaml:"group_write"`

	// TCPTimeout bounds every blocking socket operation.
	TCPTimeout time.Duration `yaml:"tcp_timeout"`
	// RescanInterval bounds duplicate-line suppression.
	RescanInterval time.Duration `yaml:"rescan_interval"`
	// RetentionRollovers is the age window of the historical list
	// accumulators, in history intervals.
	RetentionRollovers int `yaml:"retention_rollovers"`
	// MaxLogSize overrides the per-stream rotation threshold when set.
	MaxLogSize int64 `yaml:"max_log_size"`

	Nodes []Node `yaml:"nodes"`
}

const (
	defaultTCPTimeout     = 20 * time.Second
	defaultRescanInterval = 5 * time.Second
	defaultRetention      = 7
)

// Load reads and validates the configuration file. The working directory
// resolves, in order, from the file, the -w flag and the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.WorkDir == "" {
		if workDirFlag != "" {
			c.WorkDir = workDirFlag
		} else {
			c.WorkDir = os.Getenv(WorkDirEnv)
		}
	}
	if c.TCPTimeout <= 0 {
		c.TCPTimeout = defaultTCPTimeout
	}
	if c.RescanInterval <= 0 {
		c.RescanInterval = defaultRescanInterval
	}
	if c.RetentionRollovers <= 0 {
		c.RetentionRollovers = defaultRetention
	}
}

func (c *Config) validate() error {
	if c.WorkDir == "" {
		return fmt.Errorf("no working directory: set work_dir, -w or %s", WorkDirEnv)
	}
	if len(c.Nodes) == 0 {
		return fmt.Errorf("no nodes configured")
	}
	seen := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.Alias == "" || n.Host == "" || n.Port <= 0 {
			return fmt.Errorf("node %+v: alias, host and port are required", n)
		}
		if len(n.Alias) >= statusmap.AliasLength {
			return fmt.Errorf("node alias %q exceeds %d bytes", n.Alias, statusmap.AliasLength-1)
		}
		if seen[n.Alias] {
			return fmt.Errorf("duplicate node alias %q", n.Alias)
		}
		seen[n.Alias] = true
		if _, err := n.OptionsMask(); err != nil {
			return err
		}
	}
	return nil
}

// FifoDir holds the status map and the associated list files.
func (c *Config) FifoDir() string { return filepath.Join(c.WorkDir, "fifo") }

// LogDir is the root of the local log mirror.
func (c *Config) LogDir() string { return filepath.Join(c.WorkDir, "log") }

// NodeLogDir is the per-node log directory.
func (c *Config) NodeLogDir(alias string) string {
	return filepath.Join(c.LogDir(), alias)
}

// Mode is the creation mode for every file the monitor owns: 0640 with
// group write configured, 0600 otherwise.
func (c *Config) Mode() os.FileMode {
	if c.GroupWrite {
		return 0640
	}
	return 0600
}

// Retention is the accumulator age window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionRollovers) * statusmap.HistoryLogInterval
}

// EnsureDirs creates the working directory layout.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.FifoDir(), c.LogDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
