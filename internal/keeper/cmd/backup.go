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
	"time"

	"github.com/spf13/cobra"

	"github.com/innovationmech/keeper/internal/keeper/service"
	"github.com/innovationmech/keeper/pkg/keeper"
)

// backupSummary is a backup entry without its payloads.
type backupSummary struct {
	Key       string      `json:"key" yaml:"key"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
	Reason    string      `json:"reason" yaml:"reason"`
	Origin    keeper.Tier `json:"origin,omitempty" yaml:"origin,omitempty"`
	Size      int         `json:"size" yaml:"size"`
}

func summarize(e *keeper.BackupEntry) backupSummary {
	return backupSummary{
		Key:       e.Key,
		Timestamp: e.Timestamp,
		Reason:    e.Reason,
		Origin:    e.TierOrigin,
		Size:      len(e.Snapshot) + len(e.Secondary),
	}
}

func newBackupCmd(opts *globalOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "backup KEY",
		Short: "Snapshot a key into its backup ring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd.Context(), func(svc *service.Service) error {
				k, err := svc.Key(args[0])
				if err != nil {
					return err
				}
				entry, err := k.Store.CreateBackup(cmd.Context(), reason)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), summarize(entry))
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual", "reason recorded with the backup")
	return cmd
}

func newBackupsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backups KEY",
		Short: "List the backups of a key, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd.Context(), func(svc *service.Service) error {
				k, err := svc.Key(args[0])
				if err != nil {
					return err
				}
				entries, err := k.Store.Backups(cmd.Context())
				if err != nil {
					return err
				}
				out := make([]backupSummary, 0, len(entries))
				for i := range entries {
					out = append(out, summarize(&entries[i]))
				}
				return opts.print(cmd.OutOrStdout(), out)
			})
		},
	}
}

func newRestoreCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore KEY BACKUP_KEY",
		Short: "Restore a key from a backup; the current value is backed up first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd.Context(), func(svc *service.Service) error {
				k, err := svc.Key(args[0])
				if err != nil {
					return err
				}
				if err := k.Store.RestoreFromBackup(cmd.Context(), args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored %s from %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history [KEY]",
		Short: "Show the recovery trail, oldest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withService(cmd.Context(), func(svc *service.Service) error {
				var (
					events []keeper.RecoveryEvent
					err    error
				)
				if len(args) == 1 {
					k, kerr := svc.Key(args[0])
					if kerr != nil {
						return kerr
					}
					events, err = k.Store.GetRecoveryHistory(cmd.Context())
				} else {
					events, err = svc.History(cmd.Context())
				}
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), events)
			})
		},
	}
}
