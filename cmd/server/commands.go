package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			a.close(cmd.Context())
			log.Info().Msg("schema up to date")
			return nil
		},
	}
}

func newSyncChatsCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "sync-chats",
		Short: "Import every chat and group from the gateway once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close(context.Background())
			if err := a.wire(ctx); err != nil {
				return err
			}

			res, err := a.chats.Sync(ctx)
			if err != nil {
				return err
			}
			log.Info().
				Int("fetched", res.Fetched).
				Int("created", res.Created).
				Int("updated", res.Updated).
				Msg("chat sync finished")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall deadline for the sync")
	return cmd
}
