package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kapu/dealsync-go/internal/app"
	"github.com/kapu/dealsync-go/internal/util"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "check",
		Short:        "Connect to storage, apply the schema and print what is stored.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			container, err := app.Connect(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer container.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "✓ PostgreSQL connected, schema applied")

			counts, err := container.Store.Counts(ctx)
			if err != nil {
				return fmt.Errorf("failed to count entities: %w", err)
			}
			fmt.Fprintf(out, "✓ projects=%d rounds=%d investors=%d investments=%d\n",
				counts.Projects, counts.Rounds, counts.Investors, counts.Investments)

			round, project, err := container.Store.LatestRound(ctx)
			if err != nil {
				return fmt.Errorf("failed to read stop marker: %w", err)
			}
			if project == nil {
				fmt.Fprintln(out, "✓ no rounds stored yet; the next run is a first run")
			} else {
				fmt.Fprintf(out, "✓ stop marker: %s (%s, %s)\n", project.Name, round.Type, util.FormatDay(round.Date))
			}

			if container.Cache == nil {
				fmt.Fprintln(out, "- Redis disabled")
			} else if container.Cache.IsConnected(ctx) {
				fmt.Fprintln(out, "✓ Redis connected")
			} else {
				return fmt.Errorf("redis configured but not reachable")
			}
			return nil
		},
	}
}
