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

	"github.com/spf13/cobra"

	"github.com/innovationmech/keeper/pkg/keeper"
)

const redacted = "******"

func newConfigCmd(opts *globalOptions) *cobra.Command {
	var files bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, c, err := opts.load()
			if err != nil {
				return err
			}
			if files {
				for _, f := range m.LoadedFiles() {
					fmt.Fprintln(cmd.OutOrStdout(), f)
				}
				return nil
			}
			for _, t := range keeper.ReadOrder() {
				if b := c.Tiers.Backend(t); b.Password != "" {
					b.Password = redacted
				}
			}
			return opts.print(cmd.OutOrStdout(), c)
		},
	}
	cmd.Flags().BoolVar(&files, "files", false, "list the configuration files that were merged")
	return cmd
}
