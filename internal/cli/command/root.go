// Package command provides the rollmesh-cli command tree.
//
// Commands work on the local data directory of a peer (saves and the match
// journal) or query a relay over HTTP.
package command

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/rollmesh-go/internal/cli/output"
	"github.com/yndnr/rollmesh-go/internal/config"
	"github.com/yndnr/rollmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/rollmesh-go/internal/infra/confloader"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "rollmesh-cli",
		Usage:   "Inspect RollMesh saves, journals and relays",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			SaveCommand(),
			JournalCommand(),
			ConfigCommand(),
			RelayCommand(),
			VersionCommand(),
		},
		Before: func(c *cli.Context) error {
			_, err := output.ParseFormat(c.String("output"))
			return err
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Peer configuration file",
			EnvVars: []string{"ROLLMESH_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "data-dir",
			Aliases: []string{"d"},
			Usage:   "Peer data directory (overrides the config file)",
		},
		&cli.StringFlag{
			Name:  "encryption-key",
			Usage: "Hex save encryption key",
		},
		&cli.StringFlag{
			Name:  "passphrase",
			Usage: "Save passphrase",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
	}
}

// GlobalFlags holds the parsed global flags.
type GlobalFlags struct {
	Config        string
	DataDir       string
	EncryptionKey string
	Passphrase    string
	Output        output.Format
	Wide          bool
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	format, _ := output.ParseFormat(c.String("output"))
	return &GlobalFlags{
		Config:        c.String("config"),
		DataDir:       c.String("data-dir"),
		EncryptionKey: c.String("encryption-key"),
		Passphrase:    c.String("passphrase"),
		Output:        format,
		Wide:          c.Bool("wide"),
	}
}

// LoadPeerConfig reads the peer configuration the same way rollmesh-peer
// does and applies the global flag overrides.
func LoadPeerConfig(c *cli.Context) (*config.PeerConfig, error) {
	flags := ParseGlobalFlags(c)

	cfg := config.DefaultPeer()
	loader := confloader.NewLoader(confloader.WithConfigFile(flags.Config))
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if flags.DataDir != "" {
		cfg.Storage.DataDir = flags.DataDir
	}
	if flags.EncryptionKey != "" {
		cfg.Storage.EncryptionKey = flags.EncryptionKey
	}
	if flags.Passphrase != "" {
		cfg.Storage.Passphrase = flags.Passphrase
	}
	return cfg, nil
}

// Render writes data in the selected output format.
func Render(c *cli.Context, data any) error {
	flags := ParseGlobalFlags(c)
	return output.NewFormatter(flags.Output, flags.Wide).Format(c.App.Writer, data)
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
