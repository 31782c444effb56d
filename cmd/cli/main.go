package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/spend-assistant/internal/config"
	"github.com/dvloznov/spend-assistant/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli holds state shared by every subcommand of one invocation.
type cli struct {
	v       *viper.Viper
	envFile string
	cfg     config.Config
	log     zerolog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "spend",
		Short: "Record and inspect spend-assistant ledgers",
		Long: `spend classifies chat-style messages into income and expense entries and
applies them to per-user ledgers, using the same storage as the API server.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.init,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.envFile, "env-file", "", "dotenv file to load (default: .env if present)")
	pf.String("log-level", "warn", "log level (debug, info, warn, error)")
	pf.String("log-format", "console", "log format (console, json)")
	pf.String("backend", "", "ledger backend (memory, redis, postgres, firestore)")
	pf.String("redis-addr", "", "redis address for the redis backend or lock")
	pf.String("postgres-dsn", "", "postgres connection string")
	pf.String("lock", "", "writer lock (none, local, redis)")

	_ = c.v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = c.v.BindPFlag("log.format", pf.Lookup("log-format"))
	_ = c.v.BindPFlag("storage.backend", pf.Lookup("backend"))
	_ = c.v.BindPFlag("storage.redis_addr", pf.Lookup("redis-addr"))
	_ = c.v.BindPFlag("storage.postgres_dsn", pf.Lookup("postgres-dsn"))
	_ = c.v.BindPFlag("lock", pf.Lookup("lock"))

	root.AddCommand(
		c.classifyCmd(),
		c.applyCmd(),
		c.showCmd(),
		c.verifyCmd(),
		c.snapshotCmd(),
		c.reportCmd(),
	)
	return root
}

func (c *cli) init(cmd *cobra.Command, _ []string) error {
	var files []string
	if c.envFile != "" {
		files = append(files, c.envFile)
	}
	if err := config.LoadDotEnv(files...); err != nil {
		return err
	}

	cfg, err := config.FromViper(c.v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	c.cfg = cfg
	c.log = logger.New(logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Out:    cmd.ErrOrStderr(),
	})
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
