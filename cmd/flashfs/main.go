// Command flashfs inspects and modifies flash images from the host.
//
// An image holds a single chainfs filesystem. Every command loads the whole
// image into memory, mounts it, and writes it back only if the command
// changed something.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dargueta/flashfs/imagefile"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// application holds the state shared by every command, filled in from the
// global flags before the command runs.
type application struct {
	imagePath string
	config    Config
	logger    *zap.Logger
}

func (a *application) before(c *cli.Context) error {
	var err error
	a.config, err = loadConfig(c.String("config"))
	if err != nil {
		return err
	}

	if c.IsSet("codec") {
		codec, err := imagefile.ParseCodec(c.String("codec"))
		if err != nil {
			return err
		}
		a.config.Codec = &codec
	}

	if a.logger == nil {
		if c.Bool("verbose") {
			a.logger, err = zap.NewDevelopment()
		} else {
			a.logger, err = zap.NewProduction()
		}
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
	}

	a.imagePath = c.String("image")
	return nil
}

func (a *application) after(*cli.Context) error {
	if a.logger != nil {
		// Syncing stderr fails on some platforms; there's nothing to do about it.
		_ = a.logger.Sync()
	}
	return nil
}

func newApp(a *application, stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "flashfs",
		Usage:     "Manage flash filesystem images",
		Writer:    stdout,
		ErrWriter: stderr,
		Before:    a.before,
		After:     a.after,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "image",
				Aliases: []string{"i"},
				Usage:   "path to the image `FILE`",
				EnvVars: []string{"FLASHFS_IMAGE"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "load settings from a YAML `FILE`",
				EnvVars: []string{"FLASHFS_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "codec",
				Usage: "compress saved images with `CODEC` (none, rle8, zstd, lz4)",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log debug output",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "format",
				Usage:  "Create an image, or wipe an existing one",
				Action: a.format,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "preset",
						Usage: "create the image for the flash part `SLUG` (see `presets`)",
					},
				},
			},
			{
				Name:      "ls",
				Usage:     "List a directory",
				ArgsUsage: "[PATH]",
				Action:    a.list,
			},
			{
				Name:      "cat",
				Usage:     "Print the contents of files",
				ArgsUsage: "PATH...",
				Action:    a.cat,
			},
			{
				Name:      "put",
				Usage:     "Copy a host file into the image; `-` reads standard input",
				ArgsUsage: "HOST_FILE PATH",
				Action:    a.put,
			},
			{
				Name:      "mkdir",
				Usage:     "Create directories",
				ArgsUsage: "PATH...",
				Action:    a.mkdir,
			},
			{
				Name:      "rm",
				Usage:     "Remove files and empty directories",
				ArgsUsage: "PATH...",
				Action:    a.remove,
			},
			{
				Name:      "mv",
				Usage:     "Rename or move a file or directory",
				ArgsUsage: "OLD_PATH NEW_PATH",
				Action:    a.move,
			},
			{
				Name:      "stat",
				Usage:     "Describe files and directories",
				ArgsUsage: "PATH...",
				Action:    a.stat,
			},
			{
				Name:   "usage",
				Usage:  "Show how many blocks are in use",
				Action: a.usage,
			},
			{
				Name:   "deorphan",
				Usage:  "Free blocks no file or directory refers to",
				Action: a.deorphan,
			},
			{
				Name:   "info",
				Usage:  "Show the image header and filesystem geometry",
				Action: a.info,
			},
			{
				Name:   "presets",
				Usage:  "List the flash parts `format --preset` knows about",
				Action: a.listPresets,
			},
		},
	}
}

func main() {
	app := newApp(&application{}, os.Stdout, os.Stderr)
	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flashfs: %s\n", err)
		os.Exit(1)
	}
}
