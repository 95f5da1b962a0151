package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ucarlab/go-adas/internal/log"
	"github.com/ucarlab/go-adas/pkg/bridge"
	"github.com/ucarlab/go-adas/pkg/bus"
	"github.com/ucarlab/go-adas/pkg/protocol"
	"github.com/ucarlab/go-adas/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker <domain>",
	Short: "Run a single worker without a supervisor",
	Long: "Run one worker domain (lane, obstacle, pedestrian) in the " +
		"foreground, fed by the simulator bridge. Intended for " +
		"containerized deployments where an external manager supervises " +
		"the process.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		domain := protocol.Domain(args[0])
		if !worker.Registered(domain) {
			return fmt.Errorf("unknown domain %q (known: %v)", domain, protocol.Domains())
		}

		ctx, stop := signal.NotifyContext(context.Background(),
			syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		b := bus.New()
		defer b.Close()
		topics := protocol.NewTopics(cfg.TopicBase)

		if cfg.Bridge.URL != "" {
			br := bridge.New(cfg.Bridge, b, topics)
			go func() {
				if err := br.Run(ctx); err != nil {
					log.Error("bridge failed", "error", err)
				}
			}()
		} else {
			log.Warn("no simulator url configured, worker will see no sensor data")
		}

		w, err := worker.New(domain, cfg, b)
		if err != nil {
			return err
		}
		runner := worker.NewRunner(w, b, topics, cfg.Sup.HeartbeatPeriod.Std())
		return runner.Run(ctx)
	},
}
