package main

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dargueta/flashfs/blockdevice"
	"github.com/dargueta/flashfs/engine/chainfs"
	"github.com/dargueta/flashfs/imagefile"
	"github.com/dargueta/flashfs/session"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// workspace is an image loaded into memory with a session over it. Changes
// only reach the image file when the workspace is saved.
type workspace struct {
	path    string
	codec   imagefile.Codec
	device  *blockdevice.Memory
	session *session.Session
	logger  *zap.Logger
}

func loadDevice(path string) (*blockdevice.Memory, imagefile.Codec, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, imagefile.CodecNone, err
	}
	defer file.Close()

	device, codec, err := imagefile.Load(bufio.NewReader(file))
	if err != nil {
		return nil, codec, fmt.Errorf("loading %s: %w", path, err)
	}
	return device, codec, nil
}

// newWorkspace creates a session over `device` without mounting it.
func (a *application) newWorkspace(path string, device *blockdevice.Memory, codec imagefile.Codec) *workspace {
	driverOptions := []chainfs.Option{chainfs.WithLogger(a.logger)}
	if a.config.MaxOpenFiles > 0 {
		driverOptions = append(driverOptions, chainfs.WithMaxOpenFiles(a.config.MaxOpenFiles))
	}

	if a.config.Codec != nil {
		codec = *a.config.Codec
	}

	return &workspace{
		path:   path,
		codec:  codec,
		device: device,
		session: session.New(
			device,
			chainfs.New(driverOptions...),
			session.WithHints(a.config.Hints),
			session.WithLogger(a.logger),
		),
		logger: a.logger,
	}
}

// openWorkspace loads the image and mounts it.
func (a *application) openWorkspace() (*workspace, error) {
	device, codec, err := loadDevice(a.imagePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s doesn't exist; create it with `format`", a.imagePath)
		}
		return nil, err
	}

	ws := a.newWorkspace(a.imagePath, device, codec)
	err = ws.session.Mount()
	if err != nil {
		return nil, fmt.Errorf("mounting %s: %w", a.imagePath, err)
	}
	return ws, nil
}

// save writes the device back to the image file. The new image is written
// next to the old one and renamed over it, so a failed save leaves the old
// image intact.
func (ws *workspace) save() error {
	temp, err := os.CreateTemp(filepath.Dir(ws.path), filepath.Base(ws.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(temp.Name())

	writer := bufio.NewWriter(temp)
	n, err := imagefile.Save(writer, ws.device, ws.codec)
	if err == nil {
		err = writer.Flush()
	}
	if closeErr := temp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("saving %s: %w", ws.path, err)
	}

	ws.logger.Debug(
		"saved image",
		zap.String("path", ws.path),
		zap.Stringer("codec", ws.codec),
		zap.Int64("bytes", n),
	)
	return os.Rename(temp.Name(), ws.path)
}

// close closes the session, and saves the image if `modified` is set and
// nothing failed.
func (ws *workspace) close(modified bool, err error) error {
	result := multierror.Append(nil, err)
	result = multierror.Append(result, ws.session.Close())
	if modified && result.ErrorOrNil() == nil {
		result = multierror.Append(result, ws.save())
	}
	return unwrapSingle(result.ErrorOrNil())
}

// unwrapSingle returns the only error in a multierror by itself, so one
// failure prints the way it would without the wrapper.
func unwrapSingle(err error) error {
	var merr *multierror.Error
	if errors.As(err, &merr) && len(merr.Errors) == 1 {
		return merr.Errors[0]
	}
	return err
}
