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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/innovationmech/keeper/internal/keeper/service"
	"github.com/innovationmech/keeper/pkg/keeper"
)

func newGetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Load the value of a key, recovering it if necessary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd.Context(), func(svc *service.Service) error {
				k, err := svc.Key(args[0])
				if err != nil {
					return err
				}
				v, err := k.Store.Load(cmd.Context())
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), v)
			})
		},
	}
}

func newPutCmd(opts *globalOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "put KEY [VALUE]",
		Short: "Save a JSON or YAML value to every tier of a key",
		Example: `  keeper put countries '[{"code":"US"}]'
  keeper put countries -f countries.yaml
  cat countries.json | keeper put countries -f -`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readValue(cmd.InOrStdin(), file, args[1:])
			if err != nil {
				return err
			}
			var v any
			if err := yaml.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("failed to parse value: %w", err)
			}
			return opts.withService(cmd.Context(), func(svc *service.Service) error {
				k, err := svc.Key(args[0])
				if err != nil {
					return err
				}
				if err := k.Store.Save(cmd.Context(), v); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the value from a file, - for stdin")
	return cmd
}

func readValue(stdin io.Reader, file string, args []string) ([]byte, error) {
	switch {
	case file == "-":
		return io.ReadAll(stdin)
	case file != "":
		return os.ReadFile(file)
	case len(args) == 1:
		return []byte(args[0]), nil
	default:
		return nil, fmt.Errorf("a value argument or --file is required")
	}
}

func newClearCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear KEY",
		Short: "Remove a key from every tier; backups and history are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd.Context(), func(svc *service.Service) error {
				k, err := svc.Key(args[0])
				if err != nil {
					return err
				}
				if err := k.Store.ClearAllData(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", args[0])
				return nil
			})
		},
	}
}

func newReseedCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reseed KEY",
		Short: "Overwrite every tier of a key with its default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd.Context(), func(svc *service.Service) error {
				k, err := svc.Key(args[0])
				if err != nil {
					return err
				}
				v, err := k.Store.ForceReseed(cmd.Context())
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), v)
			})
		},
	}
}

func newRecoverCmd(opts *globalOptions) *cobra.Command {
	var emergency bool
	cmd := &cobra.Command{
		Use:   "recover KEY",
		Short: "Run the recovery chain of a key",
		Long: `Run the recovery chain of a key: backups first, then the secondary tier, then
the default. With --emergency, list keys are instead rebuilt from the union of
every tier, the newest backups and the in-memory value.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd.Context(), func(svc *service.Service) error {
				k, err := svc.Key(args[0])
				if err != nil {
					return err
				}
				if emergency {
					v, err := k.EmergencyRecovery(cmd.Context())
					if err != nil {
						return err
					}
					return opts.print(cmd.OutOrStdout(), map[string]any{"source": keeper.SourceEmergencyUnion, "value": v})
				}
				v, source, err := k.Store.Recovery().Recover(cmd.Context())
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), map[string]any{"source": source, "value": v})
			})
		},
	}
	cmd.Flags().BoolVar(&emergency, "emergency", false, "merge every surviving fragment of a list key")
	return cmd
}

func newHealthCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health [KEY...]",
		Short: "Check keys and repair corrupt ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd.Context(), func(svc *service.Service) error {
				names := args
				if len(names) == 0 {
					names = svc.Keys()
				}
				unhealthy := 0
				for _, name := range names {
					k, err := svc.Key(name)
					if err != nil {
						return err
					}
					report, err := k.Store.CheckHealth(cmd.Context())
					if err != nil {
						return err
					}
					if !report.IsHealthy() {
						unhealthy++
					}
					printHealth(cmd.OutOrStdout(), report, k.Store.GetDataHealth(cmd.Context()), k.Store.Tiers())
				}
				if unhealthy > 0 {
					return fmt.Errorf("%d of %d keys unhealthy", unhealthy, len(names))
				}
				return nil
			})
		},
	}
}

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
)

func printHealth(w io.Writer, r *keeper.HealthReport, tiers map[keeper.Tier]bool, order []keeper.Tier) {
	var status string
	switch r.Status {
	case keeper.HealthStatusHealthy:
		status = okColor.Sprint(r.Status)
	case keeper.HealthStatusRecovered, keeper.HealthStatusUninitialized:
		status = warnColor.Sprint(r.Status)
	default:
		status = failColor.Sprint(r.Status)
	}

	all := append(append([]keeper.Tier(nil), order...), keeper.TierMemory)
	parts := make([]string, 0, len(all))
	for _, t := range all {
		mark := failColor.Sprint("missing")
		if tiers[t] {
			mark = okColor.Sprint("ok")
		}
		parts = append(parts, fmt.Sprintf("%s=%s", t, mark))
	}

	line := fmt.Sprintf("%-24s %-14s %s", r.Key, status, strings.Join(parts, " "))
	if r.Source != "" {
		line += fmt.Sprintf(" source=%s", r.Source)
	}
	if r.Error != "" {
		line += " error=" + failColor.Sprint(r.Error)
	}
	fmt.Fprintln(w, line)
}
