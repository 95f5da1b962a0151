package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ucarlab/go-adas/internal/log"
	"github.com/ucarlab/go-adas/pkg/bridge"
	"github.com/ucarlab/go-adas/pkg/bus"
	"github.com/ucarlab/go-adas/pkg/dashboard"
	"github.com/ucarlab/go-adas/pkg/hub"
	"github.com/ucarlab/go-adas/pkg/protocol"
	"github.com/ucarlab/go-adas/pkg/supervisor"

	// Register the worker domains.
	_ "github.com/ucarlab/go-adas/pkg/lane"
	_ "github.com/ucarlab/go-adas/pkg/obstacle"
	_ "github.com/ucarlab/go-adas/pkg/pedestrian"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full stack: supervisor, workers, dashboard, bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(),
			syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		b := bus.New()
		defer b.Close()
		topics := protocol.NewTopics(cfg.TopicBase)

		statusHub := hub.New("status")
		go statusHub.Run(ctx)

		state := dashboard.NewState(b, topics, statusHub)
		go func() {
			if err := state.Run(ctx); err != nil {
				log.Error("dashboard state holder failed", "error", err)
			}
		}()

		launcher := supervisor.NewGoroutineLauncher(cfg, b)
		sup := supervisor.New(cfg.Sup, b, topics, launcher)
		go func() {
			if err := sup.Run(ctx); err != nil {
				log.Error("supervisor failed", "error", err)
				stop()
			}
		}()

		if cfg.Bridge.URL != "" {
			br := bridge.New(cfg.Bridge, b, topics)
			go func() {
				if err := br.Run(ctx); err != nil {
					log.Error("bridge failed", "error", err)
				}
			}()
		} else {
			log.Info("no simulator url configured, bridge disabled")
		}

		server := dashboard.NewServer(cfg.Dashboard, b, topics, state, statusHub, sup)
		go func() {
			if err := server.Start(); err != nil {
				log.Error("dashboard server failed", "error", err)
				stop()
			}
		}()

		<-ctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}
