// Package netfile adapts a remote-storage session to a generic
// random-access file: open, seek, read, write, stat, close.
//
// The adapter hides two problems from callers: an open that may
// complete in the background, and scatter/gather reads across many
// small, non-contiguous byte ranges. Everything else is mechanical
// forwarding to the session.
package netfile

import (
	"context"
	"errors"
	"time"
)

// -----------------------------------------------------------------------------
// Core types
// -----------------------------------------------------------------------------

// StatInfo describes a remote file as reported by the session.
type StatInfo struct {
	// Size is the file size in bytes.
	Size int64

	// ModTime records the last modification time, if the session
	// reports one.
	ModTime time.Time
}

// Chunk is one unit of a vectored read: an absolute file offset and
// the exact destination sub-slice its bytes land in. A chunk never
// exceeds the session's maximum chunk size.
type Chunk struct {
	// Offset is the absolute position in the remote file.
	Offset int64

	// Data is the destination for the chunk's bytes; len(Data) is the
	// chunk length.
	Data []byte
}

// Len returns the chunk length in bytes.
func (c Chunk) Len() int { return len(c.Data) }

// Batch is an ordered, non-empty group of chunks sent together in one
// vectored-read call. A batch never exceeds the session's maximum
// batch count.
type Batch []Chunk

// BatchResult is the completion of one submitted batch.
type BatchResult struct {
	// Bytes is the number of bytes the session reports transferred.
	Bytes int64

	// Err is non-nil if the batch failed.
	Err error
}

// -----------------------------------------------------------------------------
// Session interface
// -----------------------------------------------------------------------------

// Session is the remote-storage endpoint a File forwards to.
//
// Implementations own their transport, authentication, and worker
// pool; the adapter never retries on their behalf. VectorRead is
// future-shaped: a nil error means the batch was accepted and exactly
// one BatchResult will be delivered on the returned channel, a
// non-nil error means the submission was rejected and no completion
// will follow.
type Session interface {
	// Open establishes the session for the given URL and access mode.
	Open(ctx context.Context, url string, mode Mode) error

	// Close terminates the session, flushing any buffered writes.
	Close(ctx context.Context) error

	// Stat reports file metadata. When force is false the session may
	// answer from its own cache.
	Stat(ctx context.Context, force bool) (StatInfo, error)

	// ReadAt reads len(p) bytes starting at off. Returns io.EOF
	// semantics like io.ReaderAt.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)

	// WriteAt writes len(p) bytes starting at off.
	WriteAt(ctx context.Context, p []byte, off int64) (int, error)

	// VectorRead submits one batch for asynchronous execution.
	VectorRead(ctx context.Context, batch Batch) (<-chan BatchResult, error)

	// Query fetches session configuration values for the given keys.
	Query(ctx context.Context, keys []string) (map[string]string, error)

	// IsOpen reports whether the session is currently open.
	IsOpen() bool
}

// -----------------------------------------------------------------------------
// Cache tier
// -----------------------------------------------------------------------------

// CacheResult is the outcome of consulting the cache tier.
type CacheResult int

const (
	// CacheMiss means the cache cannot satisfy the request; proceed
	// with network I/O.
	CacheMiss CacheResult = iota

	// CacheHit means the cache satisfied the request in full.
	CacheHit

	// CacheFailed means the cache answered but the entry is unusable;
	// the operation fails without touching the network.
	CacheFailed
)

// Cache is an optional local tier consulted before network I/O on
// single-buffer reads and writes.
type Cache interface {
	// Read attempts to fill p from cached data at off.
	Read(off int64, p []byte) CacheResult

	// Write offers p at off to the cache. CacheHit means the write was
	// absorbed and must not be forwarded to the network.
	Write(off int64, p []byte) CacheResult

	// Store populates the cache after a successful network read.
	Store(off int64, p []byte)
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// ErrZombie indicates the file failed to open and is permanently
// unusable; operations fail fast without contacting the network.
var ErrZombie = errors.New("netfile: file is in zombie state")

// ErrNotOpen indicates the session is not open.
var ErrNotOpen = errors.New("netfile: file is not open")

// ErrOpenFailed indicates the session refused the open request.
var ErrOpenFailed = errors.New("netfile: open failed")

// ErrShortRead indicates a vectored read transferred fewer bytes than
// requested.
var ErrShortRead = errors.New("netfile: short read")

// ErrModeUnchanged indicates a reopen requested the effective current
// mode; the session was left untouched.
var ErrModeUnchanged = errors.New("netfile: mode unchanged")

// ErrInvalidMode indicates an access mode outside the accepted set.
var ErrInvalidMode = errors.New("netfile: invalid mode")

// ErrCacheFailed indicates the cache tier reported an unusable entry.
var ErrCacheFailed = errors.New("netfile: cache failure")
