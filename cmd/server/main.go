// Command server runs the WhatsApp OCR backend.
//
// @title           WhatsApp OCR Backend API
// @version         1.0
// @description     Chats, messages and OCR documents for a WhatsApp business number.
// @BasePath        /api/v1
// @schemes         http https
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "wa-ocr-backend",
		Short:         "WhatsApp business OCR backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			// a missing .env is normal outside development
			if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env-file") {
				log.Warn().Err(err).Str("file", envFile).Msg("env file not loaded")
			}
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the configuration")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newSyncChatsCmd())
	return root
}
