package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"fleetintel/internal/assistant"
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Show or change the model used by new sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		var out struct {
			Model string `json:"model"`
		}
		if err := call(ctx, http.MethodGet, "/api/settings/model", nil, &out); err != nil {
			return err
		}
		fmt.Println(out.Model)
		return nil
	},
}

var modelSetCmd = &cobra.Command{
	Use:   "set <model-id>",
	Short: "Store the model preference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		if err := call(ctx, http.MethodPut, "/api/settings/model", map[string]string{"model": args[0]}, nil); err != nil {
			return err
		}
		fmt.Printf("model set to %s\n", args[0])
		return nil
	},
}

var modelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the selectable models",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		var out struct {
			Models []assistant.Model `json:"models"`
		}
		if err := call(ctx, http.MethodGet, "/api/settings/models", nil, &out); err != nil {
			return err
		}
		for _, m := range out.Models {
			fmt.Printf("  %-28s %-18s %s\n", m.ID, m.Label, m.Description)
		}
		return nil
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a tiny prompt through the AI proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		var out struct {
			OK      bool   `json:"ok"`
			Message string `json:"message"`
		}
		if err := call(ctx, http.MethodPost, "/api/settings/test-connection", nil, &out); err != nil {
			return err
		}
		if !out.OK {
			return fmt.Errorf("❌ Connection failed: %s", out.Message)
		}
		fmt.Printf("✅ Connected! Response: %q\n", out.Message)
		return nil
	},
}

func init() {
	modelCmd.AddCommand(modelSetCmd)
	modelCmd.AddCommand(modelListCmd)
	rootCmd.AddCommand(modelCmd)
	rootCmd.AddCommand(testCmd)
}
