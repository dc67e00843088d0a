package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"vibepie/internal/app"
	"vibepie/internal/config"
	"vibepie/internal/presets"
)

// Main entry point with error handling and signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "vibepie",
		Short: "Collaborative live-coding music server",
		Long: `vibepie lets a room of phones steer one live-coded music display.
Prompts become code changes through a language model, sliders are
pushed around by every connected phone at once.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigWithPrecedence(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("VIBEPIE_CONFIG_FILE"),
		"configuration file (.json or .toml), overrides environment variables")

	root.AddCommand(newConfigCmd(&configPath), newPresetsCmd(&configPath))
	return root
}

// run serves until ctx is cancelled, then shuts down within the configured timeout
func run(ctx context.Context, cfg *config.Config) error {
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	if err := application.Start(context.Background()); err != nil {
		application.Stop(context.Background())
		return fmt.Errorf("application error: %w", err)
	}

	<-ctx.Done()
	log.Printf("Received shutdown request, shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

func newConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration after file and environment merging",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigWithPrecedence(*configPath)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cfg)
		},
	}
}

func newPresetsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the starting patterns the server would load",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigWithPrecedence(*configPath)
			if err != nil {
				return err
			}
			library, err := presets.Load(cfg.Presets.Path)
			if err != nil {
				return err
			}
			for i, p := range library.List() {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", i, p.Name, p.Description)
			}
			return nil
		},
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
