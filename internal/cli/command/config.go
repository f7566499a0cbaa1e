package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/rollmesh-go/internal/cli/output"
	"github.com/yndnr/rollmesh-go/internal/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Peer configuration",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the effective peer configuration with secrets masked",
				Action: configShow,
			},
			{
				Name:      "validate",
				Usage:     "Validate a peer configuration file",
				ArgsUsage: "[FILE]",
				Action:    configValidate,
			},
		},
	}
}

func configShow(c *cli.Context) error {
	cfg, err := LoadPeerConfig(c)
	if err != nil {
		return err
	}
	sanitized := config.SanitizePeer(cfg)

	// Nested sections do not fit a table.
	flags := ParseGlobalFlags(c)
	if flags.Output == output.FormatTable {
		return (&output.YAMLFormatter{}).Format(c.App.Writer, sanitized)
	}
	return Render(c, sanitized)
}

func configValidate(c *cli.Context) error {
	if file := c.Args().First(); file != "" {
		if err := c.Set("config", file); err != nil {
			return err
		}
	}
	cfg, err := LoadPeerConfig(c)
	if err != nil {
		return err
	}
	if err := config.VerifyPeer(cfg); err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration:\n%v", err), 1)
	}
	fmt.Fprintln(c.App.Writer, "Configuration OK")
	return nil
}
