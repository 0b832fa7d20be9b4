package main

import (
	"fmt"
	"slices"

	"github.com/urfave/cli/v3"

	"campus-orgs-backend/pkg/logging"
)

var portFlag = &cli.StringFlag{
	Name:        "port",
	Aliases:     []string{"p"},
	Usage:       "The port to listen on",
	DefaultText: "3000",
	Sources:     cli.EnvVars("PORT"),
}

var logLevelFlag = &cli.StringFlag{
	Name:    "log-level",
	Aliases: []string{"l"},
	Usage:   "The level of the logs",
	Value:   "info",
	Validator: func(value string) error {
		if !slices.Contains(logging.ValidLevels, value) {
			return fmt.Errorf("invalid log level: %s, allowed values are: %s", value, logging.ValidLevels)
		}
		return nil
	},
	Sources: cli.EnvVars("LOG_LEVEL"),
}

var seedFlag = &cli.StringFlag{
	Name:    "seed",
	Usage:   "Path to a JSON fixture (organizations, members, posts) loaded into the backend on start",
	Sources: cli.EnvVars("SEED_FIXTURE"),
}
