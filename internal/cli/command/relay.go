package command

import (
	"context"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/rollmesh-go/internal/transport/relay"
)

// RelayCommand returns the relay subcommand group.
func RelayCommand() *cli.Command {
	return &cli.Command{
		Name:  "relay",
		Usage: "Query a relay server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Aliases: []string{"u"},
				Usage:   "Relay base URL",
				EnvVars: []string{"ROLLMESH_TRANSPORT__RELAY__URL"},
				Value:   "http://127.0.0.1:7480",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 10 * time.Second,
			},
		},
		Subcommands: []*cli.Command{
			{
				Name:   "rooms",
				Usage:  "List rooms and their member counts",
				Action: relayRooms,
			},
		},
	}
}

func relayRooms(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	rooms, err := relay.ListRooms(ctx, &http.Client{}, c.String("url"))
	if err != nil {
		return err
	}
	return Render(c, rooms)
}
