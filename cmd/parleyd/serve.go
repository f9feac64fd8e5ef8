package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/parley"
	"pkt.systems/parley/core"
	"pkt.systems/parley/httpapi"
	"pkt.systems/parley/internal/agentcli"
	"pkt.systems/parley/internal/appconfig"
	"pkt.systems/parley/schema"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the parley server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}

			serviceCfg := schema.ServiceConfig{
				StateDir:         cfg.StateDir,
				DefaultModel:     schema.ModelID(cfg.Models.Default),
				AllowedModels:    toModelIDs(cfg.Models.Allowed),
				EventBufferDepth: cfg.Service.EventBufferDepth,
			}

			invoker, err := agentcli.NewInvoker(agentcli.Config{
				BinaryPath: cfg.Agent.Binary,
				ExtraArgs:  cfg.Agent.Args,
				Env:        cfg.Agent.Env,
			})
			if err != nil {
				return err
			}

			serverCfg := parley.ServerConfig{
				Service: serviceCfg,
				HTTP:    httpapi.Config{Addr: cfg.HTTP.Addr},
			}
			serverDeps := parley.ServerDeps{
				ServiceDeps: core.ServiceDeps{
					Invoker: invoker,
					Logger:  logger,
				},
			}
			server, err := parley.New(serverCfg, serverDeps, parley.WithHTTP())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			logger.Info("http server listening", "addr", serverCfg.HTTP.Addr)
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}

func toModelIDs(values []string) []schema.ModelID {
	if len(values) == 0 {
		return nil
	}
	out := make([]schema.ModelID, 0, len(values))
	for _, value := range values {
		out = append(out, schema.ModelID(value))
	}
	return out
}
