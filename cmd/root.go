package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"interview-coordinator/infrastructure/config"
	"interview-coordinator/infrastructure/logger"
)

const app = "interview-coordinator"

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:          app,
		Short:        "interview-coordinator runs live interview rooms, answer evaluation and candidate ranking",
		SilenceUsage: true,
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or ./configs/config.yaml)")
}

// bootstrap loads the configuration and builds the process logger.
func bootstrap() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("creating a logger: %w", err)
	}
	log = log.WithFields(map[string]interface{}{
		"app":         cfg.App.Name,
		"environment": cfg.App.Environment,
	})
	return cfg, log, nil
}
