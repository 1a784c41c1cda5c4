package main

import (
	"github.com/mohammad-safakhou/pmmresearch/internal/prompts"
	srv "github.com/mohammad-safakhou/pmmresearch/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var serveAddr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()
			if err := a.buildPipeline(ctx); err != nil {
				return err
			}

			if a.cfg.Prompts.Watch {
				w, err := prompts.NewWatcher(a.promptOptions(), a.prompts, a.logger)
				if err != nil {
					a.logger.Warn("prompt watcher unavailable", zap.Error(err))
				} else {
					go w.Run(ctx)
					defer func() {
						_ = w.Close()
						<-w.Done()
					}()
				}
			}

			addr := serveAddr
			if addr == "" {
				addr = a.cfg.Server.Address
			}
			e := srv.New(srv.Options{
				Pipeline:   a.pipeline,
				Gatherer:   a.registry,
				Logger:     a.logger,
				RunTimeout: a.cfg.General.MaxProcessingTime,
			})
			return srv.Run(ctx, e, addr, a.logger)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.address)")
	return serve
}
