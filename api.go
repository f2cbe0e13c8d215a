package flashfs

import (
	"io/fs"
	"time"
)

// DirEntry describes a file or directory as reported by the engine. It is
// produced by Stat and by directory iteration and is never retained by the
// engine.
//
// DirEntry implements both [fs.FileInfo] and [fs.DirEntry]. Engines for small
// flash parts don't record permissions or timestamps, so Mode() reports 0o777
// and ModTime() the zero time.
type DirEntry struct {
	EntryType EntryType
	EntrySize uint32
	EntryName string
}

// Name returns the base name of the directory entry.
func (d DirEntry) Name() string {
	return d.EntryName
}

// Size returns the size of a file in bytes. Directories report whatever the
// engine stores for them, usually 0.
func (d DirEntry) Size() int64 {
	return int64(d.EntrySize)
}

func (d DirEntry) IsDir() bool {
	return d.EntryType == TypeDir
}

// IsRegular returns true for plain files. Entries with a type code the library
// doesn't know are neither regular files nor directories.
func (d DirEntry) IsRegular() bool {
	return d.EntryType == TypeRegular
}

func (d DirEntry) Mode() fs.FileMode {
	switch d.EntryType {
	case TypeDir:
		return fs.ModeDir | 0o777
	case TypeRegular:
		return 0o777
	default:
		return fs.ModeIrregular | 0o777
	}
}

func (d DirEntry) ModTime() time.Time {
	return time.Time{}
}

// Sys returns the raw entry type code.
func (d DirEntry) Sys() any {
	return d.EntryType
}

// Type is part of the [fs.DirEntry] interface; it returns the type bits of
// Mode().
func (d DirEntry) Type() fs.FileMode {
	return d.Mode().Type()
}

// Info is part of the [fs.DirEntry] interface.
func (d DirEntry) Info() (fs.FileInfo, error) {
	return d, nil
}
