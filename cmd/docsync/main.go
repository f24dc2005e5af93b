// Command docsync manages a local document store and its remote SQL copy.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/docsync/docsync/internal/config"
	"github.com/docsync/docsync/internal/logging"
)

var (
	cfgFile string
	verbose bool

	v      = viper.New()
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "docsync",
	Short: "Schema-less document store with remote SQL sync",
	Long: `docsync keeps collections of JSON records in <table>.json files and
mirrors them to a remote SQLite or PostgreSQL database.

Records are synced per owner, last write wins on updatedAt. Deletes are soft
(isDeleted=true) so they propagate like any other change.

Configuration is read from docsync.yaml (working directory or
~/.config/docsync), DOCSYNC_* environment variables and flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded

		l, err := logging.New(cfg.Log, verbose)
		if err != nil {
			return err
		}
		logger = l
		if cfg.File != "" {
			logger.Debug("config loaded", zap.String("file", cfg.File))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "data", Title: "Data Commands:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./docsync.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.String("data-dir", "", "directory holding <table>.json files")
	flags.String("remote", "", "remote DSN (postgres://..., sqlite://path, :memory:)")
	flags.String("log-format", "", "log format: console or json")
	bindFlags(flags, map[string]string{
		"data_dir":   "data-dir",
		"remote.dsn": "remote",
		"log.format": "log-format",
	})
}

// bindFlags lets flags override config keys, but only when set.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", name, err))
		}
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
