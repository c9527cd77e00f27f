package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/Dotan-Peleh/hs-automation/internal/config"
)

const defaultConfigFile = "hsautomation.toml"

// ConfigCommand manages the TOML configuration file.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a starter configuration file",
				Action: func(c *cli.Context) error {
					path := c.String("config")
					if path == "" {
						path = defaultConfigFile
					}
					if err := config.InitConfig(path); err != nil {
						return err
					}
					fmt.Printf("Wrote %s — fill in your credentials before running serve.\n", path)
					return nil
				},
			},
			{
				Name:  "validate",
				Usage: "Check that the configuration is usable",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					if err := config.Validate(cfg); err != nil {
						return err
					}
					fmt.Println("Configuration OK")
					return nil
				},
			},
		},
	}
}

// loadConfig reads the config file named by the --config flag and wires the
// global logger from its log section.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg)
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
