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
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Layer represents a configuration layer in the hierarchy.
//
// Precedence (low → high): Defaults < Base < EnvironmentFile < OverrideFile < EnvironmentVariables
type Layer int

const (
	// DefaultsLayer holds hard-coded default values set via SetDefault.
	DefaultsLayer Layer = iota
	// BaseLayer is the base configuration file, e.g. keeper.yaml.
	BaseLayer
	// EnvironmentFileLayer is the environment-specific file, e.g. keeper.prod.yaml.
	EnvironmentFileLayer
	// OverrideFileLayer is an operator's local override file, e.g. keeper.override.yaml.
	OverrideFileLayer
	// EnvironmentVariablesLayer represents environment variables (highest precedence).
	EnvironmentVariablesLayer
)

// Options configures the Manager.
type Options struct {
	// WorkDir is the directory the configuration files are resolved in.
	WorkDir string

	// ConfigBaseName is the file name without extension (default: "keeper").
	ConfigBaseName string

	// ConfigType is the configuration file type (yaml|yml|json). Default: "yaml".
	ConfigType string

	// EnvironmentName selects the environment file suffix, e.g. "dev" → keeper.dev.yaml.
	EnvironmentName string

	// OverrideFilename is the optional override file name. Default: "keeper.override.yaml".
	OverrideFilename string

	// EnvPrefix is the prefix for environment variables (e.g. "KEEPER").
	EnvPrefix string

	// EnableAutomaticEnv enables automatic env var binding with dot→underscore mapping.
	EnableAutomaticEnv bool
}

// DefaultOptions returns the options the keeper binary uses.
func DefaultOptions() Options {
	return Options{
		WorkDir:            ".",
		ConfigBaseName:     "keeper",
		ConfigType:         "yaml",
		OverrideFilename:   "keeper.override.yaml",
		EnvPrefix:          "KEEPER",
		EnableAutomaticEnv: true,
	}
}

// Manager loads layered configuration files and environment variables into one view.
type Manager struct {
	mu       sync.RWMutex
	v        *viper.Viper
	options  Options
	defaults map[string]interface{}
	loaded   []string
}

// NewManager creates a new Manager with the given options.
func NewManager(options Options) *Manager {
	if options.ConfigType == "" {
		options.ConfigType = "yaml"
	}
	if options.ConfigBaseName == "" {
		options.ConfigBaseName = "keeper"
	}
	if options.WorkDir == "" {
		options.WorkDir = "."
	}
	m := &Manager{options: options, defaults: make(map[string]interface{})}
	m.v = m.newViper()
	return m
}

func (m *Manager) newViper() *viper.Viper {
	v := viper.New()
	if m.options.EnableAutomaticEnv {
		if m.options.EnvPrefix != "" {
			v.SetEnvPrefix(m.options.EnvPrefix)
		}
		v.AutomaticEnv()
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	}
	for k, val := range m.defaults {
		v.SetDefault(k, val)
	}
	return v
}

// SetDefault sets a default value for the given key.
func (m *Manager) SetDefault(key string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults[key] = value
	m.v.SetDefault(key, value)
}

// Load merges every configuration file layer in precedence order. Missing files are skipped.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(m.v)
}

// Reload discards the merged settings and loads every layer again. On error the
// previous settings stay in effect.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fresh := m.newViper()
	if err := m.loadLocked(fresh); err != nil {
		return err
	}
	m.v = fresh
	return nil
}

func (m *Manager) loadLocked(v *viper.Viper) error {
	var loaded []string

	if ok, err := m.mergeFileIfExists(v, m.filePathFor(BaseLayer)); err != nil {
		return fmt.Errorf("load base config: %w", err)
	} else if ok {
		loaded = append(loaded, m.filePathFor(BaseLayer))
	}

	if m.options.EnvironmentName != "" {
		if ok, err := m.mergeFileIfExists(v, m.filePathFor(EnvironmentFileLayer)); err != nil {
			return fmt.Errorf("load env config: %w", err)
		} else if ok {
			loaded = append(loaded, m.filePathFor(EnvironmentFileLayer))
		}
	}

	if ok, err := m.mergeFileIfExists(v, m.filePathFor(OverrideFileLayer)); err != nil {
		return fmt.Errorf("load override config: %w", err)
	} else if ok {
		loaded = append(loaded, m.filePathFor(OverrideFileLayer))
	}

	m.loaded = loaded
	return nil
}

// Unmarshal binds all merged settings into the given struct pointer.
func (m *Manager) Unmarshal(target interface{}) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if target == nil {
		return errors.New("target must not be nil")
	}
	return m.v.Unmarshal(target)
}

// Get returns a value by key from merged configuration.
func (m *Manager) Get(key string) interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v.Get(key)
}

// AllSettings returns a copy of all merged settings as a map.
func (m *Manager) AllSettings() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v.AllSettings()
}

// MergeConfigMap merges settings with low precedence: file layers merged afterwards
// and environment variables still override them.
func (m *Manager) MergeConfigMap(settings map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.MergeConfigMap(settings)
}

// LoadedFiles returns the files merged by the last Load or Reload.
func (m *Manager) LoadedFiles() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.loaded...)
}

// CandidateFiles returns every file path a layer may be read from, present or not.
func (m *Manager) CandidateFiles() []string {
	files := []string{m.filePathFor(BaseLayer)}
	if m.options.EnvironmentName != "" {
		files = append(files, m.filePathFor(EnvironmentFileLayer))
	}
	return append(files, m.filePathFor(OverrideFileLayer))
}

// WorkDir returns the directory configuration files are resolved in.
func (m *Manager) WorkDir() string {
	return m.options.WorkDir
}

func (m *Manager) filePathFor(layer Layer) string {
	dir := m.options.WorkDir
	base := m.options.ConfigBaseName
	switch layer {
	case BaseLayer:
		return filepath.Join(dir, fmt.Sprintf("%s.%s", base, m.normalizedConfigExt()))
	case EnvironmentFileLayer:
		env := m.options.EnvironmentName
		return filepath.Join(dir, fmt.Sprintf("%s.%s.%s", base, strings.ToLower(env), m.normalizedConfigExt()))
	case OverrideFileLayer:
		name := m.options.OverrideFilename
		if name == "" {
			name = fmt.Sprintf("%s.override.%s", base, m.normalizedConfigExt())
		}
		return filepath.Join(dir, name)
	default:
		return ""
	}
}

func (m *Manager) normalizedConfigExt() string {
	t := strings.ToLower(m.options.ConfigType)
	switch t {
	case "yml":
		return "yaml"
	case "yaml", "json", "toml", "hcl":
		return t
	default:
		return "yaml"
	}
}

// mergeFileIfExists merges a configuration file into v and reports whether it existed.
func (m *Manager) mergeFileIfExists(v *viper.Viper, path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	// Parse into a scratch instance so a broken file leaves v untouched.
	tmp := viper.New()
	tmp.SetConfigType(m.normalizedConfigExt())
	if err := tmp.ReadConfig(bytes.NewReader(content)); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, v.MergeConfigMap(tmp.AllSettings())
}
