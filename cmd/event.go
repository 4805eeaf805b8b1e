package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/asset-loan/internal/core/events"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Manage events: publish loan events to the wired subscribers, list known event types`,
}

var publishEventCmd = &cobra.Command{
	Use:   "publish [event-type]",
	Short: "Publish a loan event",
	Long: `Publish a loan event synchronously to the asset, helpdesk and audit subscribers.
Useful to replay a missed event or exercise a subscriber by hand.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return publishEvent(args[0])
	},
}

var listEventsCmd = &cobra.Command{
	Use:   "types",
	Short: "List known loan event types",
	Run: func(cmd *cobra.Command, args []string) {
		for _, t := range events.LoanEventTypes {
			fmt.Println(t)
		}
	},
}

var (
	eventData          string
	eventApplicationID string
)

func publishEvent(eventType string) error {
	if !events.IsLoanEventType(eventType) {
		return fmt.Errorf("unknown event type %q (see `event types`)", eventType)
	}
	if strings.TrimSpace(eventApplicationID) == "" {
		return fmt.Errorf("--application is required")
	}
	if !json.Valid([]byte(eventData)) {
		return fmt.Errorf("--data must be a JSON object")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	app, err := newApp(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer app.Close()

	event, err := events.NewLoanEvent(eventType, eventApplicationID, json.RawMessage(eventData), app.Clock.Now())
	if err != nil {
		return err
	}
	event.ID = "cli-" + uuid.NewString()

	app.Bus.SubscribeAll(func(ctx context.Context, e events.Event) error {
		app.Logger.Info("event delivered",
			"event_id", e.EventID(),
			"event_type", e.EventType(),
			"application_id", e.AggregateID(),
			"payload", e.Payload())
		return nil
	})

	app.Logger.Info("publishing event", "event_type", eventType, "event_id", event.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Bus.PublishSync(ctx, event); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	app.Logger.Info("event published successfully", "event_id", event.ID)
	return nil
}

func init() {
	publishEventCmd.Flags().StringVar(&eventData, "data", "{}", "Event payload as a JSON object")
	publishEventCmd.Flags().StringVar(&eventApplicationID, "application", "", "Application id the event belongs to")

	eventCmd.AddCommand(publishEventCmd)
	eventCmd.AddCommand(listEventsCmd)

	rootCmd.AddCommand(eventCmd)
}
