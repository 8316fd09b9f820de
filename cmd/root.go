// Package cmd holds the waiter-call command line: serve and migrate.
package cmd

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yeremiapane/waiter-call/config"
	"github.com/yeremiapane/waiter-call/utils"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

// RootCommand creates the root command with its subcommands.
func RootCommand() *cobra.Command {
	v := viper.New()
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "waiter-call",
		Short:         "Waiter call orchestration service",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "optional config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	if err := v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		panic(err)
	}

	load := func() (*config.Config, error) {
		return loadConfig(v, configFile)
	}
	rootCmd.AddCommand(serveCommand(v, load), migrateCommand(load))
	return rootCmd
}

// loadConfig resolves settings and applies the process-wide ones.
func loadConfig(v *viper.Viper, configFile string) (*config.Config, error) {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	utils.ConfigureLogger(cfg.LogLevel, cfg.LogFormat)
	utils.SetJWTSecret(cfg.JWTSecret)

	switch cfg.GinMode {
	case gin.ReleaseMode, gin.TestMode:
		gin.SetMode(cfg.GinMode)
	default:
		gin.SetMode(gin.DebugMode)
	}
	return cfg, nil
}
