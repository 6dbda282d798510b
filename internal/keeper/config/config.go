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
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/innovationmech/keeper/pkg/config"
	"github.com/innovationmech/keeper/pkg/keeper"
	"github.com/innovationmech/keeper/pkg/keeper/tier"
)

var (
	// ErrDuplicateKey indicates two key entries with the same name.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrMissingDefault indicates a key without a seed value.
	ErrMissingDefault = errors.New("key has no default value")
)

// AppConfig is the configuration of the keeper binary.
type AppConfig struct {
	Server  ServerConfig         `json:"server" yaml:"server" mapstructure:"server"`
	Log     LogConfig            `json:"log" yaml:"log" mapstructure:"log"`
	Tiers   tier.Config          `json:"tiers" yaml:"tiers" mapstructure:"tiers"`
	Store   keeper.Options       `json:"store" yaml:"store" mapstructure:"store"`
	Trail   TrailConfig          `json:"trail" yaml:"trail" mapstructure:"trail"`
	Monitor keeper.MonitorConfig `json:"monitor" yaml:"monitor" mapstructure:"monitor"`
	Keys    []KeyConfig          `json:"keys" yaml:"keys" mapstructure:"keys" validate:"dive"`
}

// ServerConfig configures the admin HTTP API.
type ServerConfig struct {
	Address         string        `json:"address" yaml:"address" mapstructure:"address" validate:"required,listen_address"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level       string `json:"level" yaml:"level" mapstructure:"level" validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
	Development bool   `json:"development" yaml:"development" mapstructure:"development"`
}

// TrailConfig places the shared recovery trail.
type TrailConfig struct {
	Tier      keeper.Tier `json:"tier" yaml:"tier" mapstructure:"tier"`
	Key       string      `json:"key" yaml:"key" mapstructure:"key"`
	MaxEvents int         `json:"max_events" yaml:"max_events" mapstructure:"max_events" validate:"gte=0"`
}

// KeyConfig declares one logical key. Values are JSON documents; Schema and Expr
// constrain their shape.
type KeyConfig struct {
	Name string `json:"name" yaml:"name" mapstructure:"name" validate:"required,max=200,excludesall=/ "`

	// Default seeds the key when no valid data exists.
	Default any `json:"default" yaml:"default" mapstructure:"default"`

	// Schema is an inline JSON Schema document the value must satisfy.
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty" mapstructure:"schema"`

	// Expr is a boolean expr-lang expression over the value, bound as "data".
	Expr string `json:"expr,omitempty" yaml:"expr,omitempty" mapstructure:"expr"`

	// IDField names the element field emergency recovery deduplicates list items by.
	IDField string `json:"id_field,omitempty" yaml:"id_field,omitempty" mapstructure:"id_field"`

	keeper.Options `yaml:",inline" mapstructure:",squash"`
}

// Default returns the configuration used when no file sets a value.
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Address:         ":8090",
			ShutdownTimeout: 10 * time.Second,
		},
		Log:     LogConfig{Level: "info"},
		Tiers:   *tier.DefaultConfig(),
		Monitor: *keeper.DefaultMonitorConfig(),
		Trail:   TrailConfig{MaxEvents: keeper.DefaultMaxRecoveryEvents},
	}
}

// RegisterDefaults records the scalar defaults on m so that KEEPER_* variables can
// override them.
func RegisterDefaults(m *config.Manager) {
	d := Default()
	m.SetDefault("server.address", d.Server.Address)
	m.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	m.SetDefault("log.level", d.Log.Level)
	m.SetDefault("log.development", d.Log.Development)
	m.SetDefault("monitor.health_check_interval", d.Monitor.HealthCheckInterval)
	m.SetDefault("monitor.auto_backup_interval", d.Monitor.AutoBackupInterval)
	m.SetDefault("monitor.check_timeout", d.Monitor.CheckTimeout)
	m.SetDefault("monitor.enable_auto_backup", d.Monitor.EnableAutoBackup)
	for _, t := range keeper.ReadOrder() {
		b := d.Tiers.Backend(t)
		prefix := "tiers." + string(t) + "."
		m.SetDefault(prefix+"driver", b.Driver)
		m.SetDefault(prefix+"path", b.Path)
		m.SetDefault(prefix+"addr", b.Addr)
		m.SetDefault(prefix+"dsn", b.DSN)
	}
}

// Load reads the merged settings of m into a validated AppConfig.
func Load(m *config.Manager) (*AppConfig, error) {
	c := Default()
	if err := m.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the configuration and fills derived defaults.
func (c *AppConfig) Validate() error {
	if c == nil {
		return errors.New("configuration is nil")
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation("listen_address", validListenAddress); err != nil {
		return err
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := c.Tiers.Validate(); err != nil {
		return fmt.Errorf("invalid tiers: %w", err)
	}
	c.Tiers.ApplyDefaults()

	if len(c.Store.Tiers) == 0 {
		c.Store.Tiers = c.Tiers.Enabled()
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("invalid store defaults: %w", err)
	}
	if err := checkTiers("store", c.Store.Tiers, c.Tiers.Enabled()); err != nil {
		return err
	}
	if c.Trail.Tier != "" {
		if err := checkTiers("trail", []keeper.Tier{c.Trail.Tier}, c.Tiers.Enabled()); err != nil {
			return err
		}
	}
	if err := c.Monitor.Validate(); err != nil {
		return fmt.Errorf("invalid monitor configuration: %w", err)
	}

	seen := make(map[string]struct{}, len(c.Keys))
	for i := range c.Keys {
		k := &c.Keys[i]
		if _, dup := seen[k.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, k.Name)
		}
		seen[k.Name] = struct{}{}
		if k.Default == nil {
			return fmt.Errorf("%w: %s", ErrMissingDefault, k.Name)
		}
		if err := checkTiers(k.Name, k.Tiers, c.Tiers.Enabled()); err != nil {
			return err
		}
	}
	return nil
}

// Key returns the configuration of the named key.
func (c *AppConfig) Key(name string) (*KeyConfig, bool) {
	for i := range c.Keys {
		if c.Keys[i].Name == name {
			return &c.Keys[i], true
		}
	}
	return nil, false
}

func checkTiers(owner string, tiers, enabled []keeper.Tier) error {
	for _, t := range tiers {
		if !t.Valid() {
			return fmt.Errorf("%s: unknown tier %q", owner, t)
		}
		found := false
		for _, e := range enabled {
			if e == t {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%s: tier %s is not configured", owner, t)
		}
	}
	return nil
}

// validListenAddress accepts host:port with an empty host and port 0, which asks
// the kernel for a free port.
func validListenAddress(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	_, err = strconv.ParseUint(port, 10, 16)
	return err == nil
}
