package main

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/guildsync/internal/app"
	"github.com/dokzlo13/guildsync/internal/reconcile"
)

var applyJSON bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and HTTP server until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, application, err := loadApp()
		if err != nil {
			return err
		}

		log.Info().
			Str("config", configPath).
			Str("guild", cfg.Discord.GuildID).
			Str("source", cfg.Agent.Source).
			Dur("poll_interval", cfg.Agent.PollInterval.Duration()).
			Msg("Starting guildsync")

		ctx := app.SignalContext()
		if err := application.Start(ctx); err != nil {
			application.Stop()
			return fmt.Errorf("failed to start application: %w", err)
		}

		application.Wait()

		return application.Stop()
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what apply would change, without changing anything",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, application, err := loadApp()
		if err != nil {
			return err
		}
		defer application.Stop()

		lines, err := application.Plan(app.SignalContext(), sourceFlag)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), reconcile.FormatPlan(lines))
		return nil
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create and update guild entities to match the blueprint",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, application, err := loadApp()
		if err != nil {
			return err
		}
		defer application.Stop()

		sum, err := application.Apply(app.SignalContext(), sourceFlag)
		if err != nil {
			return err
		}
		if applyJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		}
		fmt.Fprintln(cmd.OutOrStdout(), sum.String())
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{planCmd, applyCmd} {
		c.Flags().StringVarP(&sourceFlag, "source", "s", "", "Blueprint URL or path (default: agent.source, then blueprint.yaml)")
	}
	applyCmd.Flags().BoolVar(&applyJSON, "json", false, "Print the summary as JSON")
}
