package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/project-link/internal/config"
)

var (
	cfg *config.Config

	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "project-link",
	Short: "Link CRM clients to Zoho Projects",
	Long:  "Resolves the Zoho Projects portal and region, links CRM deals to projects and lists project tasks.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
