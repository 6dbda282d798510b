// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

type testConfig struct {
	Server struct {
		Address string `mapstructure:"address"`
	} `mapstructure:"server"`
	Tiers struct {
		Primary struct {
			Driver     string `mapstructure:"driver"`
			QuotaBytes int    `mapstructure:"quota_bytes"`
		} `mapstructure:"primary"`
	} `mapstructure:"tiers"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func TestHierarchicalPrecedence(t *testing.T) {
	t.Setenv("KEEPER_SERVER_ADDRESS", ":9300")

	dir := t.TempDir()
	writeFile(t, dir, "keeper.yaml", `
server:
  address: ":9000"
tiers:
  primary:
    driver: badger
    quota_bytes: 100
log:
  level: info
`)
	writeFile(t, dir, "keeper.dev.yaml", `
server:
  address: ":9100"
tiers:
  primary:
    quota_bytes: 200
`)
	writeFile(t, dir, "keeper.override.yaml", `
log:
  level: debug
`)

	m := NewManager(Options{
		WorkDir:            dir,
		EnvironmentName:    "dev",
		EnvPrefix:          "KEEPER",
		EnableAutomaticEnv: true,
	})
	m.SetDefault("tiers.primary.driver", "memory")
	require.NoError(t, m.Load())

	var cfg testConfig
	require.NoError(t, m.Unmarshal(&cfg))
	assert.Equal(t, ":9300", cfg.Server.Address, "environment wins")
	assert.Equal(t, "badger", cfg.Tiers.Primary.Driver, "base beats defaults")
	assert.Equal(t, 200, cfg.Tiers.Primary.QuotaBytes, "env file beats base")
	assert.Equal(t, "debug", cfg.Log.Level, "override beats base")
	assert.Len(t, m.LoadedFiles(), 3)
}

func TestMissingFilesAreSkipped(t *testing.T) {
	m := NewManager(Options{WorkDir: t.TempDir()})
	m.SetDefault("log.level", "warn")
	require.NoError(t, m.Load())
	assert.Equal(t, "warn", m.Get("log.level"))
	assert.Empty(t, m.LoadedFiles())
}

func TestBrokenFileFailsLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keeper.yaml", "server: [unclosed")
	m := NewManager(Options{WorkDir: dir})
	err := m.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load base config")
}

func TestReloadKeepsDefaultsAndDropsRemovedKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "keeper.yaml", "log:\n  level: debug\nserver:\n  address: \":1\"\n")

	m := NewManager(Options{WorkDir: dir})
	m.SetDefault("log.level", "info")
	require.NoError(t, m.Load())
	assert.Equal(t, "debug", m.Get("log.level"))

	require.NoError(t, os.WriteFile(path, []byte("server:\n  address: \":2\"\n"), 0o644))
	require.NoError(t, m.Reload())
	assert.Equal(t, "info", m.Get("log.level"))
	assert.Equal(t, ":2", m.Get("server.address"))

	require.NoError(t, os.WriteFile(path, []byte("server: [broken"), 0o644))
	require.Error(t, m.Reload())
	assert.Equal(t, ":2", m.Get("server.address"), "a failed reload keeps the previous view")
}

func TestMergeConfigMap(t *testing.T) {
	m := NewManager(Options{WorkDir: t.TempDir()})
	require.NoError(t, m.MergeConfigMap(map[string]interface{}{
		"server": map[string]interface{}{"address": ":7000"},
	}))
	assert.Equal(t, ":7000", m.Get("server.address"))
	assert.Contains(t, m.AllSettings(), "server")
	assert.Error(t, m.Unmarshal(nil))
}

func TestCandidateFiles(t *testing.T) {
	m := NewManager(Options{WorkDir: "/etc/keeper", ConfigType: "yml", EnvironmentName: "Prod"})
	assert.Equal(t, []string{
		"/etc/keeper/keeper.yaml",
		"/etc/keeper/keeper.prod.yaml",
		"/etc/keeper/keeper.override.yaml",
	}, m.CandidateFiles())

	d := DefaultOptions()
	assert.Equal(t, "KEEPER", d.EnvPrefix)
	assert.Equal(t, "keeper.override.yaml", d.OverrideFilename)
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "keeper.yaml", "log:\n  level: info\n")

	m := NewManager(Options{WorkDir: dir})
	require.NoError(t, m.Load())

	w, err := NewWatcher(m, 20*time.Millisecond, nil)
	require.NoError(t, err)

	var calls atomic.Int32
	w.OnChange(func(m *Manager) {
		if m.Get("log.level") == "debug" {
			calls.Add(1)
		}
	})
	w.OnChange(nil)

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()), "already running")

	writeFile(t, dir, "unrelated.txt", "ignored")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, w.Stop())
	assert.Equal(t, "debug", m.Get("log.level"))
}

func TestNewWatcherValidation(t *testing.T) {
	_, err := NewWatcher(nil, 0, nil)
	assert.Error(t, err)

	_, err = NewWatcher(NewManager(Options{WorkDir: filepath.Join(t.TempDir(), "missing")}), 0, nil)
	assert.Error(t, err)

	w, err := NewWatcher(NewManager(Options{WorkDir: t.TempDir()}), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultReloadDebounce, w.debounce)
	assert.NoError(t, w.Stop())
}
