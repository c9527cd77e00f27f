package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/Dotan-Peleh/hs-automation/cmd"
)

const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "hs-automation",
		Usage:   "Help Scout ticket triage: classify, cluster, alert",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to TOML configuration file",
				EnvVars: []string{"HSAUTOMATION_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.BackfillCommand(),
			cmd.ConfigCommand(),
			cmd.PreviewCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}
