package netfile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// File
// -----------------------------------------------------------------------------

// File is a random-access view of a remote file. All network I/O is
// forwarded to the Session supplied at Open; the file adds open
// coordination, vectored-read planning, the cache tier, and
// bookkeeping.
//
// Methods are safe for concurrent use. Concurrent vectored reads
// share no per-call state beyond the immutable vector limits.
type File struct {
	session Session
	url     string
	id      string

	cache   Cache
	monitor Monitor
	metrics *Metrics
	log     *slog.Logger

	opener *opener
	zombie atomic.Bool

	initMu   sync.Mutex
	initDone bool
	limits   VectorLimits

	mu     sync.Mutex // guards mode and offset
	mode   Mode
	offset int64
}

// Open opens url through the given session.
//
// Default behavior:
//   - Mode: ModeRead
//   - Cache: NopCache
//   - Monitor: NopMonitor
//   - Metrics: a private aggregator
//   - Logger: discard
//
// With WithAsyncOpen the call returns immediately and the session
// open completes in the background; the first operation that needs
// the file blocks until it resolves. Without it, a refused open
// returns an error and the file is unusable.
func Open(ctx context.Context, session Session, url string, opts ...Option) (*File, error) {
	if session == nil {
		return nil, fmt.Errorf("netfile: session is required")
	}

	cfg := &fileConfig{
		mode:    ModeRead,
		cache:   NopCache{},
		monitor: NopMonitor{},
		metrics: NewMetrics(),
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("netfile: %w", err)
		}
	}

	f := &File{
		session: session,
		url:     url,
		id:      uuid.NewString(),
		cache:   cfg.cache,
		monitor: cfg.monitor,
		metrics: cfg.metrics,
		log:     cfg.log,
		opener:  newOpener(),
		mode:    cfg.mode,
	}

	f.monitor.OpenPhase(OpenPhaseEvent{
		FileID: f.id, URL: f.url, Phase: PhaseOpenStart, Time: time.Now(),
	})

	if cfg.async {
		f.opener.start()
		go func() {
			err := session.Open(ctx, url, cfg.mode)
			if err != nil {
				f.log.Error("async open failed", "url", url, "err", err)
				f.zombie.Store(true)
			}
			f.opener.complete(err)
		}()
		return f, nil
	}

	f.opener.start()
	if err := session.Open(ctx, url, cfg.mode); err != nil {
		f.zombie.Store(true)
		f.opener.complete(err)
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, url, err)
	}
	f.opener.complete(nil)

	if err := f.Init(ctx, cfg.mode.creates()); err != nil {
		return nil, err
	}
	return f, nil
}

// ID returns the file's monitoring identifier.
func (f *File) ID() string { return f.id }

// URL returns the URL the file was opened with.
func (f *File) URL() string { return f.url }

// Mode returns the current access mode.
func (f *File) Mode() Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

// OpenStatus returns the state of the open request.
func (f *File) OpenStatus() OpenStatus { return f.opener.Status() }

// IsOpen reports whether the underlying session is open. It does not
// block on an in-flight asynchronous open.
func (f *File) IsOpen() bool { return f.session.IsOpen() }

// EnsureOpen blocks until an in-flight asynchronous open reaches a
// terminal state, then reports its outcome. Returns immediately when
// the state is already terminal.
func (f *File) EnsureOpen(ctx context.Context) error {
	if f.zombie.Load() {
		return ErrZombie
	}
	if err := f.opener.wait(ctx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrOpenFailed, f.url, err)
	}
	return nil
}

// Init finishes opening the file. It blocks until an asynchronous
// open resolves, notifies the monitoring sink, discovers the
// session's vector-read limits, and, when create is false, verifies
// the file can be stat'ed. Calling Init again is a no-op.
func (f *File) Init(ctx context.Context, create bool) error {
	f.initMu.Lock()
	defer f.initMu.Unlock()

	if f.initDone {
		f.log.Debug("init already done", "url", f.url)
		return nil
	}

	if err := f.EnsureOpen(ctx); err != nil {
		return err
	}

	f.monitor.OpenPhase(OpenPhaseEvent{
		FileID: f.id, URL: f.url, Phase: PhaseInit, Time: time.Now(),
	})

	if !create {
		if _, err := f.session.Stat(ctx, false); err != nil {
			return fmt.Errorf("netfile: init %s: %w", f.url, err)
		}
	}

	f.limits = discoverLimits(ctx, f.session, f.log)
	f.initDone = true

	f.monitor.OpenPhase(OpenPhaseEvent{
		FileID: f.id, URL: f.url, Phase: PhaseOpenEnd, Time: time.Now(),
	})
	return nil
}

// usable gates every operation: zombie check, implicit init for
// asynchronous opens, and a live session.
func (f *File) usable(ctx context.Context) error {
	if f.zombie.Load() {
		return ErrZombie
	}
	if err := f.Init(ctx, f.Mode().creates()); err != nil {
		return err
	}
	if !f.session.IsOpen() {
		return ErrNotOpen
	}
	return nil
}

// VectorLimits returns the limits in force for vectored reads. Valid
// after Init.
func (f *File) VectorLimits() VectorLimits {
	f.initMu.Lock()
	defer f.initMu.Unlock()
	return f.limits
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// Read reads len(p) bytes at the current offset and advances it by
// the number of bytes read.
func (f *File) Read(ctx context.Context, p []byte) (int, error) {
	f.mu.Lock()
	off := f.offset
	f.mu.Unlock()

	n, err := f.ReadAt(ctx, p, off)
	if n > 0 {
		f.mu.Lock()
		f.offset = off + int64(n)
		f.mu.Unlock()
	}
	return n, err
}

// ReadAt reads len(p) bytes starting at off. The cache tier is
// consulted first; a hit never touches the network, and a cache
// failure fails the call. Follows the io.ReaderAt error contract.
func (f *File) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := f.usable(ctx); err != nil {
		return 0, err
	}
	f.log.Debug("read", "url", f.url, "offset", off, "length", len(p))

	switch f.cache.Read(off, p) {
	case CacheHit:
		f.noteRead(int64(len(p)), false)
		return len(p), nil
	case CacheFailed:
		return 0, ErrCacheFailed
	}

	n, err := f.session.ReadAt(ctx, p, off)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("netfile: read %s at %d: %w", f.url, off, err)
	}
	if n > 0 {
		f.cache.Store(off, p[:n])
		f.noteRead(int64(n), false)
	}
	return n, err
}

// ReadVector reads many discontiguous byte ranges in one operation.
// offsets[i] and lengths[i] describe descriptor i; its bytes land in
// dst at the cumulative position of the preceding descriptor lengths.
// Descriptors are split into protocol-sized chunks, batched, and
// dispatched concurrently; the call blocks until every batch
// completes. Any failing batch fails the whole call, reporting the
// lowest-index failure. Zero descriptors (or all zero-length) succeed
// without dispatching anything.
//
// Returns the total bytes transferred.
func (f *File) ReadVector(ctx context.Context, dst []byte, offsets []int64, lengths []int) (int64, error) {
	if err := f.usable(ctx); err != nil {
		return 0, err
	}

	batches, total, err := planBatches(dst, offsets, lengths, f.VectorLimits())
	if err != nil {
		return 0, err
	}
	f.log.Debug("vector read", "url", f.url,
		"descriptors", len(offsets), "batches", len(batches), "bytes", total)
	if len(batches) == 0 {
		return 0, nil
	}

	transferred, err := dispatchBatches(ctx, f.session, batches)
	if err != nil {
		return 0, err
	}
	if transferred != total {
		return transferred, fmt.Errorf("%w: requested %d bytes, transferred %d",
			ErrShortRead, total, transferred)
	}

	f.noteRead(total, true)
	f.metrics.VectorReadCalls.Add(1)
	return total, nil
}

func (f *File) noteRead(bytes int64, vector bool) {
	f.metrics.BytesRead.Add(bytes)
	f.metrics.ReadCalls.Add(1)
	f.monitor.ReadProgress(ReadEvent{
		FileID: f.id, URL: f.url, Bytes: bytes, Vector: vector, Time: time.Now(),
	})
}

// -----------------------------------------------------------------------------
// Writes
// -----------------------------------------------------------------------------

// Write writes len(p) bytes at the current offset and advances it.
func (f *File) Write(ctx context.Context, p []byte) (int, error) {
	f.mu.Lock()
	off := f.offset
	f.mu.Unlock()

	n, err := f.WriteAt(ctx, p, off)
	if n > 0 {
		f.mu.Lock()
		f.offset = off + int64(n)
		f.mu.Unlock()
	}
	return n, err
}

// WriteAt writes len(p) bytes starting at off. The cache tier is
// consulted first: an absorbed write never reaches the network, a
// cache failure fails the call, and otherwise overlapping cached data
// has been invalidated before the network write proceeds.
func (f *File) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := f.usable(ctx); err != nil {
		return 0, err
	}
	if !f.Mode().writable() {
		return 0, fmt.Errorf("netfile: write %s: %w: mode is %s", f.url, ErrInvalidMode, f.Mode())
	}
	f.log.Debug("write", "url", f.url, "offset", off, "length", len(p))

	switch f.cache.Write(off, p) {
	case CacheHit:
		f.noteWrite(int64(len(p)))
		return len(p), nil
	case CacheFailed:
		return 0, ErrCacheFailed
	}

	n, err := f.session.WriteAt(ctx, p, off)
	if err != nil {
		return n, fmt.Errorf("netfile: write %s at %d: %w", f.url, off, err)
	}
	f.noteWrite(int64(n))
	return n, nil
}

func (f *File) noteWrite(bytes int64) {
	f.metrics.BytesWritten.Add(bytes)
	f.metrics.WriteCalls.Add(1)
}

// -----------------------------------------------------------------------------
// Position and size
// -----------------------------------------------------------------------------

// Seek sets the offset for the next Read or Write. whence is
// io.SeekStart, io.SeekCurrent, or io.SeekEnd; SeekEnd stats the
// remote file. Returns the new offset.
func (f *File) Seek(ctx context.Context, offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		f.mu.Lock()
		base = f.offset
		f.mu.Unlock()
	case io.SeekEnd:
		size, err := f.Size(ctx)
		if err != nil {
			return 0, err
		}
		base = size
	default:
		return 0, fmt.Errorf("netfile: invalid whence %d", whence)
	}

	pos := base + offset
	if pos < 0 {
		return 0, fmt.Errorf("netfile: negative seek position %d", pos)
	}
	f.mu.Lock()
	f.offset = pos
	f.mu.Unlock()
	return pos, nil
}

// Size returns the remote file size. Read-only files may be answered
// from the session's stat cache; writable modes force a refresh.
func (f *File) Size(ctx context.Context) (int64, error) {
	if err := f.usable(ctx); err != nil {
		return 0, err
	}
	info, err := f.session.Stat(ctx, f.Mode().writable())
	if err != nil {
		return 0, fmt.Errorf("netfile: stat %s: %w", f.url, err)
	}
	return info.Size, nil
}

// -----------------------------------------------------------------------------
// Reopen and close
// -----------------------------------------------------------------------------

// ReOpen switches the file between ModeRead and ModeUpdate. Other
// modes are rejected with ErrInvalidMode. Requesting the current
// mode, or ModeUpdate on a file opened with ModeNew, returns
// ErrModeUnchanged without closing the session. A refused reopen
// leaves the file in the zombie state.
func (f *File) ReOpen(ctx context.Context, mode Mode) error {
	if mode != ModeRead && mode != ModeUpdate {
		return fmt.Errorf("netfile: reopen: %w: %s", ErrInvalidMode, mode)
	}
	if err := f.usable(ctx); err != nil {
		return err
	}

	f.mu.Lock()
	current := f.mode
	f.mu.Unlock()
	if mode == current || (mode == ModeUpdate && current == ModeNew) {
		return ErrModeUnchanged
	}

	if err := f.session.Close(ctx); err != nil {
		f.zombie.Store(true)
		return fmt.Errorf("netfile: reopen close %s: %w", f.url, err)
	}
	if err := f.session.Open(ctx, f.url, mode); err != nil {
		f.zombie.Store(true)
		return fmt.Errorf("%w: reopen %s: %w", ErrOpenFailed, f.url, err)
	}

	f.mu.Lock()
	f.mode = mode
	f.mu.Unlock()
	return nil
}

// Close closes the session. A failed close leaves the file in the
// zombie state.
func (f *File) Close(ctx context.Context) error {
	if !f.session.IsOpen() {
		return nil
	}
	if err := f.session.Close(ctx); err != nil {
		f.zombie.Store(true)
		return fmt.Errorf("netfile: close %s: %w", f.url, err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// io.ReaderAt view
// -----------------------------------------------------------------------------

// ReaderAt returns an io.ReaderAt view of the file bound to ctx, for
// consumers like columnar readers that expect the standard interface.
// The view is safe for concurrent reads.
func (f *File) ReaderAt(ctx context.Context) io.ReaderAt {
	return &fileReaderAt{file: f, baseCtx: ctx}
}

type fileReaderAt struct {
	file    *File
	baseCtx context.Context
}

func (r *fileReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return r.file.ReadAt(r.baseCtx, p, off)
}
