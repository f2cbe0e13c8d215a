// Package session turns a storage engine into something Go code can use
// safely. A [Session] binds one block device to one engine driver and owns the
// engine instance for as long as the filesystem is mounted. Every native
// object the engine hands out (instances, files, directories, info records) is
// released exactly once on every path, and engine status codes come back as
// ordinary `(value, error)` pairs.
//
// A Session and its handles are not safe for concurrent use. Callers sharing
// one across goroutines must serialize access themselves.
package session

import (
	"fmt"

	"github.com/dargueta/flashfs"
	"github.com/dargueta/flashfs/blockdevice"
	"github.com/dargueta/flashfs/engine"
	"github.com/dargueta/flashfs/geometry"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// Session manages the lifetime of one engine instance over one device.
type Session struct {
	device   blockdevice.Device
	driver   engine.Driver
	hints    geometry.Hints
	geometry geometry.Geometry
	logger   *zap.Logger

	// instance is non-nil exactly when mountRefs > 0, except briefly while
	// formatting.
	instance   *instance
	mountRefs  int
	traversing bool

	files map[*File]struct{}
	dirs  map[*Dir]struct{}
}

// instance is an engine and the configuration it owns.
type instance struct {
	config *engine.Config
	engine engine.Engine
}

func (inst *instance) release() {
	inst.engine.Release()
	inst.config = nil
}

// Option configures a [Session].
type Option func(*Session)

// WithHints sets the caller's requested minimum sizes used for geometry
// negotiation. Zero fields take the defaults in the geometry package.
func WithHints(hints geometry.Hints) Option {
	return func(s *Session) {
		s.hints = hints
	}
}

// WithLogger sets the logger the session reports lifecycle events to. The
// default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// New creates an unmounted session. Geometry is negotiated once, here, and
// never changes afterward.
func New(device blockdevice.Device, driver engine.Driver, options ...Option) *Session {
	s := &Session{
		device: device,
		driver: driver,
		logger: zap.NewNop(),
		files:  make(map[*File]struct{}),
		dirs:   make(map[*Dir]struct{}),
	}
	for _, option := range options {
		option(s)
	}

	s.geometry = geometry.Negotiate(device.Info(), s.hints)
	s.logger = s.logger.With(zap.Stringer("geometry", s.geometry))
	return s
}

// Geometry returns the negotiated geometry.
func (s *Session) Geometry() geometry.Geometry {
	return s.geometry
}

// MountCount returns the number of outstanding Mount calls.
func (s *Session) MountCount() int {
	return s.mountRefs
}

func (s *Session) Mounted() bool {
	return s.mountRefs > 0
}

// OpenHandles returns the number of files and directories currently open.
func (s *Session) OpenHandles() int {
	return len(s.files) + len(s.dirs)
}

func (s *Session) newInstance() *instance {
	config := engine.NewConfig(s.device, s.geometry)
	return &instance{
		config: config,
		engine: s.driver.NewEngine(config),
	}
}

// engine returns the mounted engine, or fails with
// [flashfs.ErrInvalidFileDescriptor] if the session isn't mounted.
func (s *Session) engine() (engine.Engine, error) {
	if s.mountRefs == 0 || s.instance == nil {
		return nil, flashfs.ErrInvalidFileDescriptor.WithMessage("filesystem isn't mounted")
	}
	return s.instance.engine, nil
}

// Format writes an empty filesystem to the device, destroying whatever was
// there. It fails with [flashfs.ErrBusy] if any handles are open.
//
// If the session is mounted, the current engine instance is unmounted and
// replaced by the one that did the formatting, which is then mounted; the
// mount count doesn't change. If anything fails along the way the session ends
// up unmounted.
func (s *Session) Format() error {
	if s.OpenHandles() > 0 {
		return flashfs.ErrBusy.WithMessage(
			fmt.Sprintf("can't format with %d handles open", s.OpenHandles()))
	}

	wasMounted := s.mountRefs > 0
	if wasMounted {
		old := s.instance
		s.instance = nil
		err := old.engine.Unmount().Err()
		old.release()
		if err != nil {
			s.mountRefs = 0
			s.logger.Debug("unmount before format failed", zap.Error(err))
			return err
		}
	}

	inst := s.newInstance()
	keep := false
	defer func() {
		if !keep {
			inst.release()
		}
	}()

	err := inst.engine.Format().Err()
	if err == nil && wasMounted {
		err = inst.engine.Mount().Err()
		keep = err == nil
	}

	if err != nil {
		s.mountRefs = 0
		s.logger.Debug("format failed", zap.Error(err))
		return err
	}

	if keep {
		s.instance = inst
	}
	s.logger.Debug("formatted", zap.Bool("mounted", keep))
	return nil
}

// Mount mounts the filesystem. Mounts are counted: only the first call does
// any work, and each call must be balanced by a call to Unmount.
func (s *Session) Mount() error {
	s.mountRefs++
	if s.mountRefs > 1 {
		return nil
	}

	inst := s.newInstance()
	err := inst.engine.Mount().Err()
	if err != nil {
		inst.release()
		s.mountRefs--
		s.logger.Debug("mount failed", zap.Error(err))
		return err
	}

	s.instance = inst
	s.logger.Debug("mounted")
	return nil
}

// Unmount drops one mount reference. Dropping the last one unmounts the
// engine and releases it, even if the engine reports an error while
// unmounting. The last reference can't be dropped while handles are open.
func (s *Session) Unmount() error {
	if s.mountRefs == 0 {
		return flashfs.ErrInvalidArgument.WithMessage("filesystem isn't mounted")
	}
	if s.mountRefs == 1 && s.OpenHandles() > 0 {
		return flashfs.ErrBusy.WithMessage(
			fmt.Sprintf("can't unmount with %d handles open", s.OpenHandles()))
	}

	s.mountRefs--
	if s.mountRefs > 0 {
		return nil
	}

	inst := s.instance
	s.instance = nil
	defer inst.release()

	err := inst.engine.Unmount().Err()
	s.logger.Debug("unmounted", zap.Error(err))
	return err
}

// Remove deletes a file or an empty directory.
func (s *Session) Remove(path string) error {
	eng, err := s.engine()
	if err != nil {
		return err
	}
	return eng.Remove(path).Err()
}

// Rename moves a file or directory, replacing whatever is at `newPath` if the
// engine allows it.
func (s *Session) Rename(oldPath, newPath string) error {
	eng, err := s.engine()
	if err != nil {
		return err
	}
	return eng.Rename(oldPath, newPath).Err()
}

// Mkdir creates a directory. The parent must already exist.
func (s *Session) Mkdir(path string) error {
	eng, err := s.engine()
	if err != nil {
		return err
	}
	return eng.Mkdir(path).Err()
}

// Deorphan asks the engine to reclaim blocks that are allocated but no longer
// reachable.
func (s *Session) Deorphan() error {
	eng, err := s.engine()
	if err != nil {
		return err
	}
	return eng.Deorphan().Err()
}

// Stat describes the entry at `path`.
func (s *Session) Stat(path string) (flashfs.DirEntry, error) {
	eng, err := s.engine()
	if err != nil {
		return flashfs.DirEntry{}, err
	}

	info := eng.NewInfo()
	defer eng.ReleaseInfo(info)

	err = eng.Stat(path, info).Err()
	if err != nil {
		return flashfs.DirEntry{}, err
	}
	return decodeInfo(info), nil
}

func decodeInfo(info *engine.Info) flashfs.DirEntry {
	return flashfs.DirEntry{
		EntryType: flashfs.EntryType(info.Type()),
		EntrySize: info.Size(),
		EntryName: info.Name(),
	}
}

// Traverse calls `fn` once for every block the filesystem is using. If `fn`
// returns an error, traversal stops and Traverse returns that error.
//
// `fn` must not call Traverse on the same session; doing so fails with
// [flashfs.ErrBusy].
func (s *Session) Traverse(fn func(block uint32) error) error {
	eng, err := s.engine()
	if err != nil {
		return err
	}
	if s.traversing {
		return flashfs.ErrBusy.WithMessage("traversal already in progress")
	}

	s.traversing = true
	defer func() { s.traversing = false }()

	var callbackErr error
	status := eng.Traverse(func(block uint32) engine.Status {
		callbackErr = fn(block)
		if callbackErr == nil {
			return engine.OK
		}

		status := engine.StatusOf(callbackErr)
		if status == engine.OK {
			status = engine.StatusOf(flashfs.ErrIOFailed)
		}
		return status
	})

	if callbackErr != nil {
		return callbackErr
	}
	return status.Err()
}

// Usage returns the number of blocks in use.
func (s *Session) Usage() (uint32, error) {
	var used uint32
	err := s.Traverse(func(uint32) error {
		used++
		return nil
	})
	return used, err
}

// Close closes every handle still open and drops every mount reference. All
// failures are returned together.
func (s *Session) Close() error {
	var result *multierror.Error

	for file := range s.files {
		result = multierror.Append(result, file.Close())
	}
	for dir := range s.dirs {
		result = multierror.Append(result, dir.Close())
	}

	if s.mountRefs > 0 {
		s.mountRefs = 1
		result = multierror.Append(result, s.Unmount())
	}
	return result.ErrorOrNil()
}
