package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fieldcal/internal/ics"
	"fieldcal/internal/jobs"
	appLog "fieldcal/internal/log"
	"fieldcal/internal/web"
)

func newServeCmd(configPath *string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, *configPath, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath, listen string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	a, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	// CLI --listen overrides config file listen if provided.
	if listen != "" {
		a.cfg.Listen = listen
	}

	appLog.Info("effective config",
		"listen", a.cfg.Listen,
		"driver", a.cfg.Database.Driver,
		"day_start", a.cfg.Grid.DayStart,
		"day_end", a.cfg.Grid.DayEnd,
		"slot_minutes", a.cfg.Grid.SlotMinutes,
		"flush_cron", a.cfg.FlushCron,
		"ics_count", len(a.cfg.ICSSources),
	)

	runner, err := jobs.New(jobs.Options{
		Spec:          a.cfg.FlushCron,
		Flusher:       a.store,
		Fetcher:       ics.NewFetcher(a.cfg.CacheDir, nil),
		Importer:      a.repo,
		Replacer:      a.store,
		Subscriptions: a.cfg.ICSSources,
	})
	if err != nil {
		return err
	}

	srv, err := web.NewServer(a.cfg, a.store, a.fields)
	if err != nil {
		return err
	}

	runner.Start()
	fmt.Fprintf(cmd.OutOrStdout(), "fieldcal listening on http://%s\n", a.cfg.Listen)
	serveErr := srv.Start(ctx)

	stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	runner.Stop(stopCtx)
	if err := a.store.FlushDeletions(stopCtx); err != nil {
		appLog.Error("final deletion flush failed", err)
	}
	appLog.Info("fieldcal exiting")
	return serveErr
}
