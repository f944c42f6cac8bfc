package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"printshop/config"
	"printshop/internal/broker"

	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
)

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the shop event stream",
	}
	cmd.AddCommand(newEventsTailCmd())
	return cmd
}

func newEventsTailCmd() *cobra.Command {
	var (
		fromStart bool
		eventType string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print events as they are published, one JSON object per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, "", fromStart)
			defer consumer.Close()

			return consumer.StartConsuming(ctx, printEvent(cmd.OutOrStdout(), eventType))
		},
	}

	cmd.Flags().BoolVar(&fromStart, "from-start", false, "Replay the topic from the first retained offset")
	cmd.Flags().StringVar(&eventType, "type", "", "Only print events of this type, e.g. ORDER_CREATED")
	return cmd
}

type tailLine struct {
	Offset    int64          `json:"offset"`
	Key       string         `json:"key"`
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Timestamp string         `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

func printEvent(out io.Writer, eventType string) broker.MessageHandler {
	enc := json.NewEncoder(out)
	return func(_ context.Context, msg kafka.Message) error {
		event, err := broker.DecodeMessage(msg)
		if err != nil {
			return fmt.Errorf("decode offset %d: %w", msg.Offset, err)
		}
		if eventType != "" && event.EventType != eventType {
			return nil
		}
		return enc.Encode(tailLine{
			Offset:    msg.Offset,
			Key:       event.Key,
			EventID:   event.EventID,
			EventType: event.EventType,
			Timestamp: event.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			Payload:   event.Payload,
		})
	}
}
