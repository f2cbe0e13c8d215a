// Package engine defines the contract between the session layer and a storage
// engine: the component that owns the on-media format, allocation, and
// recovery.
//
// The contract deliberately mirrors the native API of small embedded flash
// filesystems. Engines report results as a [Status]: negative values are
// error codes from the errors package, zero is success, and some calls use
// positive values to return a count or position. Native objects (engine
// instances, open files, open directories, info records) are allocated through
// the engine and must each be released exactly once; turning this into Go
// errors and scoped ownership is the job of the session package.
package engine

import (
	"github.com/dargueta/flashfs"
	"github.com/dargueta/flashfs/blockdevice"
	"github.com/dargueta/flashfs/errors"
	"github.com/dargueta/flashfs/geometry"
)

// Status is the result of an engine call.
type Status int

const OK Status = 0

// Err converts the status into an error, or nil if it isn't negative.
func (s Status) Err() error {
	return errors.FromStatus(int(s))
}

// StatusOf converts an error into a status. Errors that don't carry a status
// code become [errors.EIO].
func StatusOf(err error) Status {
	return Status(errors.ToStatus(err))
}

// Config is the configuration an engine instance is created with. It is
// owned by the instance and lives exactly as long as it does.
type Config struct {
	Device blockdevice.Device

	ReadSize   uint32
	ProgSize   uint32
	BlockSize  uint32
	BlockCount uint32
	Lookahead  uint32
}

// NewConfig builds a configuration for `device` from negotiated geometry.
func NewConfig(device blockdevice.Device, g geometry.Geometry) *Config {
	return &Config{
		Device:     device,
		ReadSize:   g.ReadSize,
		ProgSize:   g.ProgSize,
		BlockSize:  g.BlockSize,
		BlockCount: g.BlockCount,
		Lookahead:  g.Lookahead,
	}
}

// Read reads from the configured device, converting the result to a status.
func (cfg *Config) Read(block, offset uint32, buffer []byte) Status {
	return StatusOf(cfg.Device.Read(block, offset, buffer))
}

// Prog programs the configured device.
func (cfg *Config) Prog(block, offset uint32, buffer []byte) Status {
	return StatusOf(cfg.Device.Prog(block, offset, buffer))
}

// Erase erases a block on the configured device, or does nothing if the
// device has no erase operation.
func (cfg *Config) Erase(block uint32) Status {
	return StatusOf(blockdevice.Erase(cfg.Device, block))
}

// Sync syncs the configured device. Devices without a sync operation always
// succeed.
func (cfg *Config) Sync() Status {
	return StatusOf(blockdevice.Sync(cfg.Device))
}

// TraverseFunc is called once for every block in use by the filesystem. A
// nonzero return value stops the traversal, and the engine returns it as-is.
type TraverseFunc func(block uint32) Status

// Driver creates engine instances.
type Driver interface {
	// NewEngine allocates an unmounted engine instance that takes ownership
	// of `cfg`. It must be released with [Engine.Release].
	NewEngine(cfg *Config) Engine
}

// Engine is one instance of a storage engine bound to one configuration.
type Engine interface {
	Format() Status
	Mount() Status
	Unmount() Status

	Remove(path string) Status
	Rename(oldPath, newPath string) Status
	Stat(path string, info *Info) Status
	Mkdir(path string) Status
	// Traverse calls `fn` for every block reachable from the filesystem.
	Traverse(fn TraverseFunc) Status
	// Deorphan frees blocks that are allocated but not reachable.
	Deorphan() Status

	// NewFile allocates an unopened file object.
	NewFile() File
	// NewDir allocates an unopened directory object.
	NewDir() Dir
	// NewInfo allocates an info record. It must be given back with
	// ReleaseInfo.
	NewInfo() *Info
	ReleaseInfo(info *Info)

	// Release frees the instance. It must not be mounted.
	Release()
}

// File is a native file object. Read and Write return the number of bytes
// transferred; Seek, Tell and Size return a position or size.
type File interface {
	Open(path string, flags flashfs.OpenFlag) Status
	Close() Status
	Sync() Status
	Read(buffer []byte) Status
	Write(buffer []byte) Status
	Seek(offset int64, whence flashfs.Whence) Status
	Truncate(size int64) Status
	Tell() Status
	Rewind() Status
	Size() Status
	// Release frees the object. An open file must be closed first.
	Release()
}

// Dir is a native directory object.
type Dir interface {
	Open(path string) Status
	Close() Status
	// Read fills `info` with the next entry and returns a positive status,
	// returns 0 at the end of the directory, or returns an error.
	Read(info *Info) Status
	Seek(position int64) Status
	Tell() Status
	Rewind() Status
	Release()
}
