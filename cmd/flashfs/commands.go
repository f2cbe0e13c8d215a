package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/dargueta/flashfs"
	"github.com/dargueta/flashfs/blockdevice"
	"github.com/dargueta/flashfs/imagefile"
	"github.com/dargueta/flashfs/presets"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func requireImage(a *application) error {
	if a.imagePath == "" {
		return errors.New("no image given; use --image or set FLASHFS_IMAGE")
	}
	return nil
}

// requireArgs checks the argument count. A negative `maxArgs` means no upper
// limit.
func requireArgs(c *cli.Context, minArgs, maxArgs int) error {
	n := c.Args().Len()
	if n < minArgs || (maxArgs >= 0 && n > maxArgs) {
		return fmt.Errorf("%s: wrong number of arguments\nusage: %s %s",
			c.Command.Name, c.Command.Name, c.Command.ArgsUsage)
	}
	return nil
}

// withWorkspace mounts the image, runs `fn`, and saves the image afterwards if
// `modifies` is set.
func (a *application) withWorkspace(
	c *cli.Context, minArgs, maxArgs int, modifies bool, fn func(*workspace) error,
) error {
	if err := requireImage(a); err != nil {
		return err
	}
	if err := requireArgs(c, minArgs, maxArgs); err != nil {
		return err
	}

	ws, err := a.openWorkspace()
	if err != nil {
		return err
	}
	return ws.close(modifies, fn(ws))
}

func (a *application) format(c *cli.Context) error {
	if err := requireImage(a); err != nil {
		return err
	}

	slug := c.String("preset")
	if slug == "" {
		slug = a.config.Preset
	}

	var device *blockdevice.Memory
	codec := imagefile.CodecNone
	if slug != "" {
		preset, err := presets.Get(slug)
		if err != nil {
			return err
		}
		device = preset.NewMemory()
		a.logger.Debug("creating image", zap.Stringer("preset", preset))
	} else {
		var err error
		device, codec, err = loadDevice(a.imagePath)
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s doesn't exist; pass --preset to create it", a.imagePath)
		} else if err != nil {
			return err
		}
	}

	ws := a.newWorkspace(a.imagePath, device, codec)
	err := ws.session.Format()
	if err != nil {
		err = fmt.Errorf("formatting: %w", err)
	}
	return ws.close(true, err)
}

func entryKind(entry flashfs.DirEntry) string {
	if entry.IsDir() {
		return "d"
	}
	return "-"
}

func (a *application) list(c *cli.Context) error {
	return a.withWorkspace(c, 0, 1, false, func(ws *workspace) error {
		path := c.Args().First()
		if path == "" {
			path = "/"
		}

		dir, err := ws.session.OpenDir(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		defer dir.Close()

		for entry, err := range dir.All() {
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Fprintf(c.App.Writer, "%s %10d %s\n", entryKind(entry), entry.Size(), entry.Name())
		}
		return nil
	})
}

func (a *application) cat(c *cli.Context) error {
	return a.withWorkspace(c, 1, -1, false, func(ws *workspace) error {
		for _, path := range c.Args().Slice() {
			file, err := ws.session.Open(path, "rdonly")
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			_, err = io.Copy(c.App.Writer, file)
			file.Close()
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}
		return nil
	})
}

func (a *application) put(c *cli.Context) error {
	return a.withWorkspace(c, 2, 2, true, func(ws *workspace) error {
		source, path := c.Args().Get(0), c.Args().Get(1)

		var input io.Reader
		if source == "-" {
			input = c.App.Reader
			if input == nil {
				input = os.Stdin
			}
		} else {
			hostFile, err := os.Open(source)
			if err != nil {
				return err
			}
			defer hostFile.Close()
			input = hostFile
		}

		file, err := ws.session.Open(path, "wronly", "creat", "trunc")
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		n, err := io.Copy(file, input)
		closeErr := file.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		ws.logger.Debug("wrote file", zap.String("path", path), zap.Int64("bytes", n))
		return nil
	})
}

func (a *application) mkdir(c *cli.Context) error {
	return a.withWorkspace(c, 1, -1, true, func(ws *workspace) error {
		for _, path := range c.Args().Slice() {
			if err := ws.session.Mkdir(path); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}
		return nil
	})
}

func (a *application) remove(c *cli.Context) error {
	return a.withWorkspace(c, 1, -1, true, func(ws *workspace) error {
		for _, path := range c.Args().Slice() {
			if err := ws.session.Remove(path); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}
		return nil
	})
}

func (a *application) move(c *cli.Context) error {
	return a.withWorkspace(c, 2, 2, true, func(ws *workspace) error {
		oldPath, newPath := c.Args().Get(0), c.Args().Get(1)
		if err := ws.session.Rename(oldPath, newPath); err != nil {
			return fmt.Errorf("%s -> %s: %w", oldPath, newPath, err)
		}
		return nil
	})
}

func (a *application) stat(c *cli.Context) error {
	return a.withWorkspace(c, 1, -1, false, func(ws *workspace) error {
		for _, path := range c.Args().Slice() {
			entry, err := ws.session.Stat(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Fprintf(c.App.Writer, "%s: %s, %d bytes\n", path, entry.EntryType, entry.Size())
		}
		return nil
	})
}

func (a *application) usage(c *cli.Context) error {
	return a.withWorkspace(c, 0, 0, false, func(ws *workspace) error {
		used, err := ws.session.Usage()
		if err != nil {
			return err
		}

		g := ws.session.Geometry()
		fmt.Fprintf(
			c.App.Writer,
			"%d of %d blocks used (%d of %d bytes)\n",
			used,
			g.BlockCount,
			uint64(used)*uint64(g.BlockSize),
			g.TotalSize(),
		)
		return nil
	})
}

func (a *application) deorphan(c *cli.Context) error {
	return a.withWorkspace(c, 0, 0, true, func(ws *workspace) error {
		before, err := ws.session.Usage()
		if err != nil {
			return err
		}
		if err = ws.session.Deorphan(); err != nil {
			return err
		}
		after, err := ws.session.Usage()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "freed %d blocks\n", before-after)
		return nil
	})
}

func (a *application) info(c *cli.Context) error {
	if err := requireImage(a); err != nil {
		return err
	}

	file, err := os.Open(a.imagePath)
	if err != nil {
		return err
	}
	defer file.Close()

	header, err := imagefile.ReadHeader(file)
	if err != nil {
		return fmt.Errorf("%s: %w", a.imagePath, err)
	}

	deviceInfo := header.Info()
	fmt.Fprintf(c.App.Writer, "codec:       %s\n", header.Codec)
	fmt.Fprintf(c.App.Writer, "erase value: 0x%02x\n", header.EraseValue)
	fmt.Fprintf(c.App.Writer, "read size:   %d\n", deviceInfo.ReadSize)
	fmt.Fprintf(c.App.Writer, "prog size:   %d\n", deviceInfo.ProgSize)
	fmt.Fprintf(c.App.Writer, "erase size:  %d\n", deviceInfo.EraseSize)
	fmt.Fprintf(c.App.Writer, "total size:  %d (%d blocks)\n", deviceInfo.TotalSize, deviceInfo.BlockCount())
	return nil
}

func (a *application) listPresets(c *cli.Context) error {
	for _, preset := range presets.All() {
		fmt.Fprintf(
			c.App.Writer,
			"%-12s %-5s %10d bytes  erase %6d  %s %s\n",
			preset.Slug,
			preset.Kind,
			preset.TotalSize,
			preset.EraseSize,
			preset.Vendor,
			preset.Name,
		)
	}
	return nil
}
