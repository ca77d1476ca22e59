package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/queue/streams"
)

func tailCMD() *cobra.Command {
	var cfgPath string
	var group string
	var name string
	var block time.Duration
	var tail = &cobra.Command{
		Use:   "tail",
		Short: "Follow the run event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if !cfg.Storage.Redis.Enabled() {
				return fmt.Errorf("redis not configured (set storage.redis.host)")
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Storage.Redis.Addr(),
				Password: cfg.Storage.Redis.Password,
				DB:       cfg.Storage.Redis.DB,
			})
			defer func() { _ = client.Close() }()
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping: %w", err)
			}

			stream := cfg.Streams.Stream
			if err := streams.EnsureGroup(ctx, client, stream, group); err != nil {
				return err
			}

			reg := streams.NewSchemaRegistry()
			if err := streams.RegisterBaseSchemas(reg); err != nil {
				return err
			}
			consumer := streams.NewConsumer(client, reg, group, name)

			out := cmd.OutOrStdout()
			if depth, err := streams.StreamDepth(ctx, client, stream); err == nil {
				lag, _ := streams.GroupLag(ctx, client, stream, group)
				fmt.Fprintf(out, "tailing %s as %s/%s (%d entries, lag %d, pending %d)\n",
					stream, group, consumer.Name(), depth, lag.Lag, lag.Pending)
			}

			for {
				msgs, err := consumer.Read(ctx, stream, streams.WithBlock(block), streams.WithCount(64))
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				if len(msgs) == 0 {
					continue
				}
				ids := make([]string, 0, len(msgs))
				for _, msg := range msgs {
					env := msg.Envelope
					fmt.Fprintf(out, "%s %-13s session=%s %s\n",
						env.OccurredAt.Format(time.RFC3339), env.EventType, env.Session, string(env.Data))
					ids = append(ids, msg.ID)
				}
				if err := consumer.Ack(ctx, stream, ids...); err != nil {
					return err
				}
			}
		},
	}
	tail.Flags().StringVar(&group, "group", "scour-tail", "consumer group to read as")
	tail.Flags().StringVar(&name, "name", "", "consumer name (default <group>-<random>)")
	tail.Flags().DurationVar(&block, "block", 5*time.Second, "how long each read blocks waiting for events")
	tail.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return tail
}
