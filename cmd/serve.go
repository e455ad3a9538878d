package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lkarlslund/relaytap/pkg/config"
	"github.com/lkarlslund/relaytap/pkg/logsink"
	"github.com/lkarlslund/relaytap/pkg/relay"
)

var (
	serveConfigPath    string
	serveListenAddr    string
	serveUpstreamURL   string
	serveModelOverride string
	serveLogMode       string
	serveLogDir        string
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the audit proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrCreate(serveConfigPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("listen-addr") {
				cfg.ListenAddr = serveListenAddr
			}
			if cmd.Flags().Changed("upstream-url") {
				cfg.UpstreamBaseURL = serveUpstreamURL
			}
			if cmd.Flags().Changed("model-override") {
				cfg.ModelOverride = serveModelOverride
			}
			if cmd.Flags().Changed("log-mode") {
				cfg.Logging.Mode = serveLogMode
			}
			if cmd.Flags().Changed("log-dir") {
				cfg.Logging.Directory = serveLogDir
			}
			cfg.Normalize()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			sink, err := buildSink(cfg)
			if err != nil {
				return err
			}
			srv, err := relay.NewServer(*cfg, sink)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return srv.Run(ctx)
		},
	}
	serveCmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "Config TOML path")
	serveCmd.Flags().StringVar(&serveListenAddr, "listen-addr", "", "Override listen address from config (e.g. 127.0.0.1:8080)")
	serveCmd.Flags().StringVar(&serveUpstreamURL, "upstream-url", "", "Override upstream base URL from config")
	serveCmd.Flags().StringVar(&serveModelOverride, "model-override", "", "Override model rewrite from config (empty = disabled)")
	serveCmd.Flags().StringVar(&serveLogMode, "log-mode", "", "Override logging mode from config (filesystem or stream)")
	serveCmd.Flags().StringVar(&serveLogDir, "log-dir", "", "Override logging directory from config")
	rootCmd.AddCommand(serveCmd)
}

func buildSink(cfg *config.Config) (logsink.Sink, error) {
	switch cfg.Logging.Mode {
	case config.LogModeFileSystem:
		return logsink.NewFileSink(cfg.Logging.Directory), nil
	case config.LogModeStream:
		return logsink.NewStreamSink(os.Stdout), nil
	default:
		return nil, fmt.Errorf("unknown logging mode %q", cfg.Logging.Mode)
	}
}
