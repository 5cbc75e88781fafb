/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/storefront/apiserver/config"
	"github.com/storefront/apiserver/internal/logger"
	"github.com/storefront/apiserver/internal/mq"
	"github.com/storefront/apiserver/types"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consumes order lifecycle events",
	Long: `Consumes order lifecycle events from the configured message queue
and logs each transition. Usage:

	MQ_BACKEND=rabbitmq storefront worker
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		log := logger.New(cfg.IsProduction())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg.MQ)
		if errors.Is(err, mq.ErrDisabled) {
			return errors.New("worker requires MQ_BACKEND to be rabbitmq or pubsub")
		}
		if err != nil {
			return fmt.Errorf("connect mq: %w", err)
		}
		defer queue.Close()

		log.Info("worker consuming order events", "backend", cfg.MQ.Backend, "channel", queue.Channel())
		err = queue.SubscribeOrderEvents(ctx,
			func(_ context.Context, event types.OrderEvent) error {
				log.Info("order event",
					"type", event.Type,
					"order_id", event.OrderID.Hex(),
					"user_id", event.UserID.Hex(),
					"at", event.At,
				)
				return nil
			},
			func(msg mq.Message, err error) {
				log.Warn("dropping undecodable order event", "id", msg.ID, "error", err)
			},
		)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Info("worker stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
