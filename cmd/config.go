package cmd

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/lkarlslund/relaytap/pkg/config"
	"github.com/lkarlslund/relaytap/pkg/logsink"
)

var configShowPath string

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrCreate(configShowPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.UpstreamAPIKey != "" {
				cfg.UpstreamAPIKey = logsink.MaskSecret(cfg.UpstreamAPIKey)
			}
			b, err := toml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", configShowPath, b)
			return nil
		},
	}
	configCmd.Flags().StringVar(&configShowPath, "config", config.DefaultConfigPath(), "Config TOML path")
	rootCmd.AddCommand(configCmd)
}
