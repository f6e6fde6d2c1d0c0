package netfile

import (
	"fmt"
	"strings"
)

// Mode is the file access mode requested at open.
type Mode int

const (
	// ModeRead opens an existing file read-only.
	ModeRead Mode = iota

	// ModeUpdate opens an existing file for reading and writing.
	ModeUpdate

	// ModeNew creates a file that must not already exist.
	ModeNew

	// ModeRecreate creates a file, replacing any existing one.
	ModeRecreate
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "READ"
	case ModeUpdate:
		return "UPDATE"
	case ModeNew:
		return "NEW"
	case ModeRecreate:
		return "RECREATE"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// writable reports whether the mode permits writes.
func (m Mode) writable() bool { return m != ModeRead }

// creates reports whether the mode creates the file rather than
// expecting it to exist.
func (m Mode) creates() bool { return m == ModeNew || m == ModeRecreate }

// ParseMode parses an access mode string. Accepted spellings are
// NEW/CREATE, RECREATE, UPDATE, and READ, case-insensitive. The empty
// string parses as READ.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "READ":
		return ModeRead, nil
	case "UPDATE":
		return ModeUpdate, nil
	case "NEW", "CREATE":
		return ModeNew, nil
	case "RECREATE":
		return ModeRecreate, nil
	}
	return ModeRead, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}
