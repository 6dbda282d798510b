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

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/innovationmech/keeper/internal/keeper/cmd/version"
	"github.com/innovationmech/keeper/internal/keeper/config"
	"github.com/innovationmech/keeper/internal/keeper/service"
	cfg "github.com/innovationmech/keeper/pkg/config"
	"github.com/innovationmech/keeper/pkg/logger"
)

// globalOptions are the flags every command shares.
type globalOptions struct {
	configDir string
	env       string
	logLevel  string
	output    string
}

// NewRootCommand creates the keeper command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	cmds := &cobra.Command{
		Use:           "keeper",
		Short:         "keeper resilient key storage",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmds.PersistentFlags()
	flags.StringVarP(&opts.configDir, "config-dir", "c", ".", "directory holding keeper.yaml and its overrides")
	flags.StringVar(&opts.env, "env", "", "environment name selecting keeper.<env>.yaml")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level overriding the configuration")
	flags.StringVarP(&opts.output, "output", "o", "yaml", "output format: yaml or json")

	cmds.AddCommand(
		newServeCmd(opts),
		newGetCmd(opts),
		newPutCmd(opts),
		newClearCmd(opts),
		newReseedCmd(opts),
		newHealthCmd(opts),
		newRecoverCmd(opts),
		newBackupCmd(opts),
		newBackupsCmd(opts),
		newRestoreCmd(opts),
		newHistoryCmd(opts),
		newConfigCmd(opts),
		version.NewVersionCommand(),
	)
	return cmds
}

func (o *globalOptions) manager() *cfg.Manager {
	options := cfg.DefaultOptions()
	options.WorkDir = o.configDir
	options.EnvironmentName = o.env
	m := cfg.NewManager(options)
	config.RegisterDefaults(m)
	return m
}

// load reads the configuration and installs the global logger it asks for.
func (o *globalOptions) load() (*cfg.Manager, *config.AppConfig, error) {
	m := o.manager()
	if err := m.Load(); err != nil {
		return nil, nil, err
	}
	c, err := config.Load(m)
	if err != nil {
		return nil, nil, err
	}
	level := c.Log.Level
	if o.logLevel != "" {
		level = o.logLevel
	}
	if err := logger.InitLoggerWithConfig(level, c.Log.Development); err != nil {
		return nil, nil, err
	}
	return m, c, nil
}

// withService runs fn over a service built from the configuration and closes it afterwards.
func (o *globalOptions) withService(ctx context.Context, fn func(svc *service.Service) error) (err error) {
	_, c, err := o.load()
	if err != nil {
		return err
	}
	svc, err := service.New(ctx, c, logger.GetLogger())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil {
			logger.GetLogger().Warn("failed to close tiers", zap.Error(cerr))
			if err == nil {
				err = cerr
			}
		}
	}()
	return fn(svc)
}

// print writes v in the selected output format.
func (o *globalOptions) print(w io.Writer, v any) error {
	switch o.output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", o.output)
	}
}
