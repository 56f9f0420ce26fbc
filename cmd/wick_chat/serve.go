package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	wickchat "wick_chat"
)

func newServeCmd() *cobra.Command {
	var opts struct {
		Host       string
		Port       int
		ConfigFile string
		Database   string
		Static     string
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := wickchat.LoadAppConfig()

			// Flags override env.
			flags := cmd.Flags()
			if flags.Changed("host") {
				cfg.Host = opts.Host
			}
			if flags.Changed("port") {
				cfg.Port = opts.Port
			}
			if flags.Changed("config") {
				cfg.ConfigFile = opts.ConfigFile
			}
			if flags.Changed("db") {
				cfg.Database = opts.Database
			}

			serverOpts := []wickchat.Option{
				wickchat.WithHost(cfg.Host),
				wickchat.WithPort(cfg.Port),
				wickchat.WithAllowOrigin(cfg.AllowOrigin),
				wickchat.WithStaticPath(opts.Static),
			}
			if cfg.ConfigFile != "" {
				serverOpts = append(serverOpts, wickchat.WithConfigFile(cfg.ConfigFile))
			}
			if cfg.Database != "" {
				serverOpts = append(serverOpts, wickchat.WithDatabase(cfg.Database))
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return wickchat.New(serverOpts...).Start(ctx)
		},
	}

	cmd.Flags().StringVar(&opts.Host, "host", "0.0.0.0", "Listen host (env: HOST)")
	cmd.Flags().IntVarP(&opts.Port, "port", "p", 8000, "Listen port (env: PORT)")
	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "Path to chat.yaml (env: WICK_CHAT_CONFIG)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database path (env: WICK_CHAT_DB)")
	cmd.Flags().StringVar(&opts.Static, "static", "static", "Directory of the web client, served with SPA fallback")
	return cmd
}
