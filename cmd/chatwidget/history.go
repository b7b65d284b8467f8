package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/comigor/chatsync-go/internal/api"
	"github.com/comigor/chatsync-go/internal/chat"
)

func init() {
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the stored history of a conversation and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, cfg.History.Timeout)
		defer cancel()

		client := api.NewClient(cfg.History.BaseURL, cfg.Transport.BaseURL, cfg.Credential, cfg.History.Timeout)
		msgs, err := client.History(ctx, chat.ConversationKey{Group: cfg.Group, SubGroup: cfg.SubGroup})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, m := range msgs {
			fmt.Fprintln(out, formatMessage(m))
		}
		if len(msgs) == 0 {
			fmt.Fprintln(out, "(no messages)")
		}
		return nil
	},
}
