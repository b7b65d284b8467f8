package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/comigor/chatsync-go/internal/config"
	"github.com/comigor/chatsync-go/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "chatwidget",
	Short: "Terminal host for the realtime chat widget",
	Long: `chatwidget mounts a conversation against a chat backend over a websocket stream or a
socket.io event bus, shows its history and live messages, and sends what you type.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path (default is ./config.yaml or $CONFIG_PATH)")
	rootCmd.PersistentFlags().StringP("group", "g", "", "conversation group")
	rootCmd.PersistentFlags().StringP("sub-group", "s", "", "conversation sub-group")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
}

// loadConfig reads the configuration, applies flag overrides and sets up logging. Logs go to
// stderr so they never interleave with the conversation on stdout.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	if path, _ := flags.GetString("config"); path != "" {
		if err := os.Setenv("CONFIG_PATH", path); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flags.Changed("group") {
		cfg.Group, _ = flags.GetString("group")
	}
	if flags.Changed("sub-group") {
		cfg.SubGroup, _ = flags.GetString("sub-group")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}

	logger.SetOutput(os.Stderr, cfg.Log.Format)
	logger.SetLevel(cfg.Log.Level)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%s", indent(err.Error()))
	}
	logger.L.Debug("configuration loaded",
		"group", cfg.Group, "sub_group", cfg.SubGroup,
		"transport", cfg.Transport.Kind, "base_url", cfg.Transport.BaseURL,
		"reconcile", cfg.Sync.Reconcile, "store", cfg.Store.Driver)
	return cfg, nil
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
