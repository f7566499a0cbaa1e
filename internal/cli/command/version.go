package command

import (
	"github.com/urfave/cli/v2"

	"github.com/yndnr/rollmesh-go/internal/infra/buildinfo"
)

// VersionCommand prints build information.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show build information",
		Action: func(c *cli.Context) error {
			return Render(c, buildinfo.Runtime())
		},
	}
}
