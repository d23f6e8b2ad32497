// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holger24/AFD-sub000/pkg/wire"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "afdmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
work_dir: /var/lib/afdmon
group_write: true
tcp_timeout: 30s
nodes:
  - alias: bonn
    host: afd.example.org
    port: 4545
    options: [system, transfer]
  - alias: offenbach
    host: 10.1.2.3
    port: 4545
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/afdmon", cfg.WorkDir)
	assert.Equal(t, 30*time.Second, cfg.TCPTimeout)
	assert.Equal(t, 5*time.Second, cfg.RescanInterval)
	assert.Equal(t, 7, cfg.RetentionRollovers)
	assert.Equal(t, os.FileMode(0o640), cfg.Mode())
	assert.Equal(t, 7*time.Hour, cfg.Retention())

	require.Len(t, cfg.Nodes, 2)
	assert.Equal(t, "afd.example.org:4545", cfg.Nodes[0].Addr())

	mask, err := cfg.Nodes[0].OptionsMask()
	require.NoError(t, err)
	assert.Equal(t, wire.StreamSystem.MaskOf()|wire.StreamTransfer.MaskOf(), mask)

	// No options means nothing to subscribe.
	mask, err = cfg.Nodes[1].OptionsMask()
	require.NoError(t, err)
	assert.Zero(t, mask)
}

func TestLoadWorkDirFromEnv(t *testing.T) {
	t.Setenv(WorkDirEnv, "/from/env")
	path := writeConfig(t, `
nodes:
  - {alias: a, host: h, port: 1}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.WorkDir)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no nodes",
			content: "work_dir: /w\n",
			wantErr: "no nodes",
		},
		{
			name: "missing host",
			content: `
work_dir: /w
nodes:
  - {alias: a, port: 1}
`,
			wantErr: "required",
		},
		{
			name: "duplicate alias",
			content: `
work_dir: /w
nodes:
  - {alias: a, host: h, port: 1}
  - {alias: a, host: h2, port: 2}
`,
			wantErr: "duplicate node alias",
		},
		{
			name: "unknown option",
			content: `
work_dir: /w
nodes:
  - {alias: a, host: h, port: 1, options: [telemetry]}
`,
			wantErr: "unknown log option",
		},
		{
			name: "alias too long",
			content: `
work_dir: /w
nodes:
  - {alias: ` + strings.Repeat("x", 40) + `, host: h, port: 1}
`,
			wantErr: "exceeds",
		},
		{
			name:    "not yaml",
			content: "{{nope",
			wantErr: "parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDirLayout(t *testing.T) {
	cfg := &Config{WorkDir: "/w"}
	assert.Equal(t, filepath.Join("/w", "fifo"), cfg.FifoDir())
	assert.Equal(t, filepath.Join("/w", "log"), cfg.LogDir())
	assert.Equal(t, filepath.Join("/w", "log", "bonn"), cfg.NodeLogDir("bonn"))
	assert.Equal(t, os.FileMode(0o600), cfg.Mode())
}

func TestEnsureDirs(t *testing.T) {
	cfg := &Config{WorkDir: filepath.Join(t.TempDir(), "nested", "afdmon")}
	require.NoError(t, cfg.EnsureDirs())
	assert.DirExists(t, cfg.FifoDir())
	assert.DirExists(t, cfg.LogDir())
}
