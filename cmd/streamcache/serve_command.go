package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KarpelesLab/streamcache"
	"github.com/KarpelesLab/streamcache/internal/metrics"
	"github.com/KarpelesLab/streamcache/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve URL",
		Short: "Serve a remote resource to local players through the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			if listen == "" {
				listen = cfg.Listen
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			col, err := metrics.New(reg)
			if err != nil {
				return fmt.Errorf("register metrics: %w", err)
			}

			rawURL := args[0]
			observer := streamcache.Observers(streamcache.NewLogObserver(logger.WithField("url", rawURL)), col)
			coord, err := streamcache.Open(cfg.CacheDir, rawURL, coordinatorOptions(cfg, observer))
			if err != nil {
				return fmt.Errorf("open cache: %w", err)
			}
			if lerr := coord.Store().LoadErr(); lerr != nil {
				logger.WithFields(logrus.Fields{"action": "load_index"}).WithError(lerr).Warn("cache metadata discarded")
			}

			app, err := server.NewApp(server.AppOptions{
				Logger:           logger,
				Coordinator:      coord,
				MaxResponseBytes: cfg.MaxResponseBytes,
				InfoTimeout:      cfg.UpstreamTimeout,
				BlockSize:        cfg.BlockSize,
				MetricsPath:      cfg.MetricsPath,
				Gatherer:         reg,
			})
			if err != nil {
				coord.Shutdown()
				return err
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(sigCtx)
			g.Go(func() error {
				logger.WithFields(logrus.Fields{
					"action": "listen",
					"listen": listen,
					"cache":  coord.Store().Path(),
				}).Info("serving")
				return app.Listen(listen)
			})
			g.Go(func() error {
				<-gctx.Done()
				return app.Shutdown()
			})

			err = g.Wait()
			if serr := coord.Shutdown(); serr != nil {
				logger.WithFields(logrus.Fields{"action": "shutdown"}).WithError(serr).Warn("cache close failed")
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (overrides the configuration)")
	return cmd
}
