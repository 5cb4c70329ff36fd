package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cion/mqtt5"
	"github.com/cion/mqtt5/extensions/router"
)

var (
	subTopics  []string
	subQoS     uint8
	subVerbose bool
)

var subCmd = &cobra.Command{
	Use:   "sub",
	Short: "Subscribe to topic filters and print messages",
	Long: `Subscribe to one or more topic filters and print every message
until interrupted. Subscriptions are restored after a reconnect.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if subQoS > mqtt5.QoS2 {
			return fmt.Errorf("--qos must be 0, 1 or 2")
		}
		for _, f := range subTopics {
			if err := mqtt5.ValidateTopicFilter(f); err != nil {
				return err
			}
		}

		fc, err := fileConfig(cmd)
		if err != nil {
			return err
		}
		if len(subTopics) == 0 && fc.SubscribeTopic == "" {
			return fmt.Errorf("--topic or subscribe_topic in the config file is required")
		}

		ctx, cancel := signalContext()
		defer cancel()
		ctx, stop := context.WithCancelCause(ctx)
		defer stop(nil)

		out := cmd.OutOrStdout()
		r := router.New()
		r.NotFound(func(msg *mqtt5.Message) { printMessage(out, msg) })

		var s *session
		extra := subTopics
		s, err = startSession(ctx, fc, func(cfg *mqtt5.Config) {
			if len(extra) > 0 {
				cfg.SubscribeTopic, extra = extra[0], extra[1:]
			}
			if cmd.Flags().Changed("qos") {
				cfg.SubscribeQoS = subQoS
			}
			cfg.ActionListener = &mqtt5.ActionListener{
				OnFailure: func(_ *mqtt5.Token, err error) {
					if errors.Is(err, mqtt5.ErrConfiguration) || errors.As(err, new(*mqtt5.SubscribeError)) {
						stop(err)
					}
				},
			}
			cfg.Handler = r.EventHandler(func(ev mqtt5.Event) {
				switch ev := ev.(type) {
				case *mqtt5.ConnectCompleteEvent:
					if !ev.Reconnect && len(extra) > 0 {
						subscribeExtra(s, extra, stop)
					}
				case *mqtt5.ConnectionLostEvent:
					if subVerbose {
						fmt.Fprintf(cmd.ErrOrStderr(), "connection lost: %v\n", ev.Cause)
					}
				case *mqtt5.ReconnectingEvent:
					if subVerbose {
						fmt.Fprintf(cmd.ErrOrStderr(), "reconnecting (attempt %d) in %s\n", ev.Attempt, ev.Delay)
					}
				}
			})
		})
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.engine.Connect(); err != nil {
			return err
		}

		<-ctx.Done()
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			return cause
		}
		return nil
	},
}

func subscribeExtra(s *session, filters []string, stop context.CancelCauseFunc) {
	subs := make([]mqtt5.Subscription, len(filters))
	for i, f := range filters {
		subs[i] = mqtt5.Subscription{TopicFilter: f, QoS: subQoS}
	}
	_, err := s.engine.Subscribe(subs, &mqtt5.ActionListener{
		OnFailure: func(_ *mqtt5.Token, err error) { stop(err) },
	})
	if err != nil {
		stop(err)
	}
}

func printMessage(w io.Writer, msg *mqtt5.Message) {
	if subVerbose {
		fmt.Fprintf(w, "%s [qos=%d retain=%t] %s\n", msg.Topic, msg.QoS, msg.Retain, msg.Payload)
		return
	}
	fmt.Fprintf(w, "%s %s\n", msg.Topic, msg.Payload)
}

func init() {
	flags := subCmd.Flags()
	flags.StringArrayVarP(&subTopics, "topic", "t", nil, "topic filter, may be repeated")
	flags.Uint8VarP(&subQoS, "qos", "q", 0, "maximum quality of service (0, 1 or 2)")
	flags.BoolVarP(&subVerbose, "verbose", "v", false, "print message flags and connection events")

	rootCmd.AddCommand(subCmd)
}
