package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cion/mqtt5"
)

var (
	pubTopic    string
	pubMessage  string
	pubQoS      uint8
	pubRetain   bool
	pubCount    int
	pubInterval time.Duration
	pubTimeout  time.Duration
)

var pubCmd = &cobra.Command{
	Use:   "pub",
	Short: "Publish messages to a topic",
	Long: `Publish a message, optionally several times.

Messages are queued until the connection is up and replayed in order,
so pub works across a slow or flapping broker connection.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if pubQoS > mqtt5.QoS2 {
			return fmt.Errorf("--qos must be 0, 1 or 2")
		}
		if pubCount < 1 {
			return fmt.Errorf("--count must be at least 1")
		}
		if err := mqtt5.ValidateTopicName(pubTopic); err != nil {
			return err
		}

		fc, err := fileConfig(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		s, err := startSession(ctx, fc, func(cfg *mqtt5.Config) { cfg.PublishTopic = pubTopic })
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.engine.Connect(); err != nil {
			return err
		}
		return publishAll(ctx, cmd, s.engine)
	},
}

func publishAll(ctx context.Context, cmd *cobra.Command, engine *mqtt5.Engine) error {
	ctx, cancel := context.WithTimeout(ctx, pubTimeout)
	defer cancel()

	tokens := make([]*mqtt5.Token, 0, pubCount)
	for i := 0; i < pubCount; i++ {
		if i > 0 && pubInterval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pubInterval):
			}
		}
		tok, err := engine.PublishMessage(mqtt5.NewTextMessage(pubTopic, pubMessage, pubQoS, pubRetain))
		if err != nil {
			return err
		}
		tokens = append(tokens, tok)
	}

	for i, tok := range tokens {
		if err := tok.Wait(ctx); err != nil {
			return fmt.Errorf("message %d: %w", i+1, err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %d message(s) to %s\n", len(tokens), pubTopic)
	return nil
}

func init() {
	flags := pubCmd.Flags()
	flags.StringVarP(&pubTopic, "topic", "t", "", "topic to publish to")
	flags.StringVarP(&pubMessage, "message", "m", "", "message payload")
	flags.Uint8VarP(&pubQoS, "qos", "q", 0, "quality of service (0, 1 or 2)")
	flags.BoolVarP(&pubRetain, "retain", "r", false, "set the retain flag")
	flags.IntVarP(&pubCount, "count", "n", 1, "number of times to publish the message")
	flags.DurationVar(&pubInterval, "interval", 0, "pause between messages")
	flags.DurationVar(&pubTimeout, "timeout", 30*time.Second, "time allowed for delivery")
	_ = pubCmd.MarkFlagRequired("topic")

	rootCmd.AddCommand(pubCmd)
}
