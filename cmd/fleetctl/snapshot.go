package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"fleetintel/internal/fleet"
	"fleetintel/internal/risk"
)

var pushCmd = &cobra.Command{
	Use:   "push <snapshot.json>",
	Short: "Replace the fleet snapshot the API reasons over",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := fleet.LoadFile(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		var out struct {
			Version uint64 `json:"version"`
		}
		if err := call(ctx, http.MethodPut, "/api/snapshot", snap, &out); err != nil {
			return err
		}
		fmt.Printf("snapshot v%d: %d rides, %d drivers, %d vehicles, %d clients, %d maintenance records\n",
			out.Version, len(snap.Rides), len(snap.Drivers), len(snap.Vehicles), len(snap.Clients), len(snap.Maintenance))
		return nil
	},
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Print the fleet context given to the assistant",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		var text string
		if err := call(ctx, http.MethodGet, "/api/context", nil, &text); err != nil {
			return err
		}
		fmt.Print(text)
		return nil
	},
}

var risksCmd = &cobra.Command{
	Use:   "risks",
	Short: "List the risk alerts for the current snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		var report struct {
			Version uint64                `json:"version"`
			Alerts  []risk.Alert          `json:"alerts"`
			Counts  map[risk.Severity]int `json:"counts"`
		}
		if err := call(ctx, http.MethodGet, "/api/risks", nil, &report); err != nil {
			return err
		}
		fmt.Printf("snapshot v%d: %d critical, %d warning, %d info\n",
			report.Version, report.Counts[risk.Critical], report.Counts[risk.Warning], report.Counts[risk.Info])
		for _, a := range report.Alerts {
			fmt.Printf("  [%-8s] %-12s %s\n", a.Severity, a.Category, a.Title)
			if a.Detail != "" {
				fmt.Printf("             %s\n", a.Detail)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(risksCmd)
}
