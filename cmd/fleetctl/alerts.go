package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fleetintel/internal/alertfeed"
	"fleetintel/internal/config"
	"fleetintel/internal/logging"
)

var (
	alertBrokers []string
	alertTopic   string
	alertGroup   string
)

var watchAlertsCmd = &cobra.Command{
	Use:   "watch-alerts",
	Short: "Follow risk alert changes published to Kafka",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := config.LoadServerConfig()
		if err == nil {
			if !cmd.Flags().Changed("brokers") {
				alertBrokers = defaults.KafkaBrokers
			}
			if !cmd.Flags().Changed("topic") {
				alertTopic = defaults.KafkaAlertTopic
			}
		}
		if len(alertBrokers) == 0 {
			return fmt.Errorf("no brokers: set --brokers or KAFKA_BROKERS")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log := logging.New("warn", true)
		return alertfeed.Follow(ctx, alertBrokers, alertTopic, alertGroup, log, func(c alertfeed.Change) error {
			fmt.Printf("%s v%-4d %-7s [%-8s] %s\n", c.At.Format(time.TimeOnly), c.Version, c.Type, c.Alert.Severity, c.Alert.Title)
			return nil
		})
	},
}

func init() {
	watchAlertsCmd.Flags().StringSliceVar(&alertBrokers, "brokers", nil, "kafka brokers (default KAFKA_BROKERS)")
	watchAlertsCmd.Flags().StringVar(&alertTopic, "topic", "", "risk alert topic (default KAFKA_ALERT_TOPIC)")
	watchAlertsCmd.Flags().StringVar(&alertGroup, "group", "fleetctl", "consumer group")
	rootCmd.AddCommand(watchAlertsCmd)
}
