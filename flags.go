package flashfs

import (
	"fmt"
	"strings"
)

// OpenFlag is a bit mask of file open modes, as understood by the engine.
type OpenFlag uint32

const (
	O_RDONLY OpenFlag = 0x001
	O_WRONLY OpenFlag = 0x002
	O_RDWR   OpenFlag = O_RDONLY | O_WRONLY
	O_CREAT  OpenFlag = 0x100
	O_EXCL   OpenFlag = 0x200
	O_TRUNC  OpenFlag = 0x400
	O_APPEND OpenFlag = 0x800
)

var openFlagsByName = map[string]OpenFlag{
	"rdonly": O_RDONLY,
	"wronly": O_WRONLY,
	"rdwr":   O_RDWR,
	"creat":  O_CREAT,
	"excl":   O_EXCL,
	"trunc":  O_TRUNC,
	"append": O_APPEND,
}

// ParseOpenFlags ORs together the flags named in `names`. Names are the lower
// case POSIX names without the `O_` prefix, e.g. "rdwr" or "creat".
func ParseOpenFlags(names ...string) (OpenFlag, error) {
	var mask OpenFlag
	for _, name := range names {
		flag, ok := openFlagsByName[strings.ToLower(name)]
		if !ok {
			return 0, ErrInvalidArgument.WithMessage(
				fmt.Sprintf("unrecognized open flag %q", name))
		}
		mask |= flag
	}
	return mask, nil
}

func (flags OpenFlag) Read() bool {
	return flags&O_RDONLY != 0
}

func (flags OpenFlag) Write() bool {
	return flags&O_WRONLY != 0
}

func (flags OpenFlag) Create() bool {
	return flags&O_CREAT != 0
}

func (flags OpenFlag) Exclusive() bool {
	return flags&O_EXCL != 0
}

func (flags OpenFlag) Truncate() bool {
	return flags&O_TRUNC != 0
}

func (flags OpenFlag) Append() bool {
	return flags&O_APPEND != 0
}

func (flags OpenFlag) String() string {
	var parts []string
	switch flags & O_RDWR {
	case O_RDONLY:
		parts = append(parts, "rdonly")
	case O_WRONLY:
		parts = append(parts, "wronly")
	case O_RDWR:
		parts = append(parts, "rdwr")
	}
	for _, name := range []string{"creat", "excl", "trunc", "append"} {
		if flags&openFlagsByName[name] != 0 {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, "|")
}

// Whence is the origin of a seek. The values are the same as [io.SeekStart],
// [io.SeekCurrent] and [io.SeekEnd].
type Whence int

const (
	SeekSet Whence = 0
	SeekCur Whence = 1
	SeekEnd Whence = 2
)

// ParseWhence converts "set", "cur" or "end" into a [Whence]. An empty string
// means "set".
func ParseWhence(name string) (Whence, error) {
	switch strings.ToLower(name) {
	case "", "set":
		return SeekSet, nil
	case "cur":
		return SeekCur, nil
	case "end":
		return SeekEnd, nil
	default:
		return 0, ErrInvalidArgument.WithMessage(
			fmt.Sprintf("unrecognized seek origin %q", name))
	}
}

// EntryType is the type code of a directory entry as stored by the engine.
// Codes other than the ones defined here are passed through untouched.
type EntryType uint8

const (
	TypeRegular EntryType = 0x11
	TypeDir     EntryType = 0x22
)

func (t EntryType) String() string {
	switch t {
	case TypeRegular:
		return "reg"
	case TypeDir:
		return "dir"
	default:
		return fmt.Sprintf("%#02x", uint8(t))
	}
}
