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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/innovationmech/keeper/internal/keeper/config"
	"github.com/innovationmech/keeper/internal/keeper/server"
	"github.com/innovationmech/keeper/internal/keeper/service"
	cfg "github.com/innovationmech/keeper/pkg/config"
	"github.com/innovationmech/keeper/pkg/keeper"
	"github.com/innovationmech/keeper/pkg/logger"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the keeper admin API and health monitor",
		Long: `Start the keeper admin API and health monitor with:
- Periodic health checks and automatic backups of every configured key
- Immediate checks on SIGCONT and on changes to local tier files
- Log level reloads when the configuration files change`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, opts)
		},
	}
}

// runServer runs until ctx is done.
func runServer(ctx context.Context, opts *globalOptions) error {
	manager, c, err := opts.load()
	if err != nil {
		return err
	}
	log := logger.GetLogger()
	log.Info("starting keeper", zap.Strings("config_files", manager.LoadedFiles()))

	svc, err := service.New(ctx, c, log)
	if err != nil {
		log.Error("failed to open tiers", zap.Error(err))
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Warn("failed to close tiers", zap.Error(err))
		}
	}()

	monitor, err := svc.NewMonitor()
	if err != nil {
		return err
	}
	monitor.OnReport(func(r *keeper.HealthReport) {
		if !r.IsHealthy() {
			log.Warn("key unhealthy", zap.String("key", r.Key), zap.String("status", string(r.Status)), zap.String("error", r.Error))
		}
	})
	monitor.AddTrigger(resumeSignals(ctx))

	if paths := svc.Tiers().WatchPaths(); len(paths) > 0 {
		pw, err := keeper.NewPathWatcher(0, log, paths...)
		if err != nil {
			log.Warn("tier files are not watched", zap.Error(err))
		} else if err := pw.Start(ctx); err != nil {
			log.Warn("tier files are not watched", zap.Error(err))
			pw.Stop()
		} else {
			monitor.AddTrigger(pw.C())
			defer pw.Stop()
		}
	}

	watchConfig(ctx, manager, opts.logLevel != "", log)

	if err := monitor.Start(ctx); err != nil {
		return err
	}
	defer monitor.Stop()

	srv := server.New(svc, c.Server.Address, c.Server.ShutdownTimeout, log)
	if err := srv.Start(); err != nil {
		log.Error("failed to start admin API", zap.Error(err))
		return err
	}

	<-ctx.Done()
	log.Info("shutdown signal received, stopping keeper")
	if err := srv.Stop(context.Background()); err != nil {
		log.Error("error during admin API shutdown", zap.Error(err))
		return err
	}
	log.Info("keeper shutdown complete")
	return nil
}

// resumeSignals turns SIGCONT, delivered when the process resumes from a stop, into
// monitor triggers.
func resumeSignals(ctx context.Context) <-chan struct{} {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGCONT)
	out := make(chan struct{}, 1)
	go func() {
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}

// watchConfig applies log level changes from the configuration files. A level given
// on the command line is kept.
func watchConfig(ctx context.Context, manager *cfg.Manager, pinned bool, log *zap.Logger) {
	w, err := cfg.NewWatcher(manager, 0, log)
	if err != nil {
		log.Debug("config watcher not started", zap.Error(err))
		return
	}
	w.OnChange(func(m *cfg.Manager) {
		next, err := config.Load(m)
		if err != nil {
			log.Warn("reloaded configuration is invalid", zap.Error(err))
			return
		}
		if pinned {
			return
		}
		if err := logger.SetLevel(next.Log.Level); err != nil {
			log.Warn("apply log level failed", zap.Error(err))
			return
		}
		log.Info("log level updated via hot-reload", zap.String("level", logger.Level()))
	})
	if err := w.Start(ctx); err != nil {
		log.Debug("config watcher not started", zap.Error(err))
		return
	}
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
}
