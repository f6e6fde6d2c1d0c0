package netfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// -----------------------------------------------------------------------------
// In-memory session
// -----------------------------------------------------------------------------

// MemSession is an in-memory Session for tests and examples. Fault
// and timing knobs are exported; configure them before the first
// operation. Batch knobs are keyed by submission order, which equals
// batch index for a single vectored read.
type MemSession struct {
	mu   sync.Mutex
	data []byte
	open bool
	url  string
	mode Mode

	submitted int
	completed atomic.Int32

	// OpenDelay makes Open take this long, for exercising the
	// asynchronous open path.
	OpenDelay time.Duration

	// OpenErr, CloseErr, ReadErr, WriteErr, StatErr, and QueryErr
	// force the corresponding operation to fail.
	OpenErr  error
	CloseErr error
	ReadErr  error
	WriteErr error
	StatErr  error
	QueryErr error

	// QueryResponse answers Query; keys absent from the map are
	// simply missing from the response.
	QueryResponse map[string]string

	// BatchErrs fails the completion of the given submissions.
	BatchErrs map[int]error

	// BatchDelays postpones the completion of the given submissions.
	BatchDelays map[int]time.Duration

	// RejectBatchAt rejects the given submission at dispatch time.
	// Negative disables rejection.
	RejectBatchAt int
}

// NewMemSession creates a session backed by data. A nil slice means
// the remote file does not exist yet; pass an empty non-nil slice for
// an existing empty file.
func NewMemSession(data []byte) *MemSession {
	return &MemSession{data: data, RejectBatchAt: -1}
}

// Bytes returns a copy of the session's current contents.
func (m *MemSession) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// Submitted returns the number of accepted vector-read submissions.
func (m *MemSession) Submitted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitted
}

// Completed returns the number of delivered batch completions.
func (m *MemSession) Completed() int {
	return int(m.completed.Load())
}

func (m *MemSession) Open(ctx context.Context, url string, mode Mode) error {
	if m.OpenDelay > 0 {
		select {
		case <-time.After(m.OpenDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.OpenErr != nil {
		return m.OpenErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch mode {
	case ModeRead, ModeUpdate:
		if m.data == nil {
			return fmt.Errorf("mem: %s does not exist", url)
		}
	case ModeNew:
		if m.data != nil {
			return fmt.Errorf("mem: %s already exists", url)
		}
		m.data = []byte{}
	case ModeRecreate:
		m.data = []byte{}
	}
	m.url = url
	m.mode = mode
	m.open = true
	return nil
}

func (m *MemSession) Close(context.Context) error {
	m.mu.Lock()
	m.open = false
	m.mu.Unlock()
	return m.CloseErr
}

func (m *MemSession) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *MemSession) Stat(context.Context, bool) (StatInfo, error) {
	if m.StatErr != nil {
		return StatInfo{}, m.StatErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return StatInfo{}, ErrNotOpen
	}
	return StatInfo{Size: int64(len(m.data)), ModTime: time.Now()}, nil
}

func (m *MemSession) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if m.ReadErr != nil {
		return 0, m.ReadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return 0, ErrNotOpen
	}
	return m.readLocked(p, off)
}

func (m *MemSession) readLocked(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("mem: negative offset")
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemSession) WriteAt(_ context.Context, p []byte, off int64) (int, error) {
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return 0, ErrNotOpen
	}
	if off < 0 {
		return 0, errors.New("mem: negative offset")
	}
	if end := off + int64(len(p)); end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[off:], p)
	return len(p), nil
}

func (m *MemSession) VectorRead(ctx context.Context, batch Batch) (<-chan BatchResult, error) {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return nil, ErrNotOpen
	}
	idx := m.submitted
	if idx == m.RejectBatchAt {
		m.mu.Unlock()
		return nil, fmt.Errorf("mem: submission %d rejected", idx)
	}
	m.submitted++
	delay := m.BatchDelays[idx]
	failure := m.BatchErrs[idx]
	m.mu.Unlock()

	ch := make(chan BatchResult, 1)
	deliver := func(r BatchResult) {
		m.completed.Add(1)
		ch <- r
	}
	go func() {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				deliver(BatchResult{Err: ctx.Err()})
				return
			}
		}
		if ctx.Err() != nil {
			deliver(BatchResult{Err: ctx.Err()})
			return
		}
		if failure != nil {
			deliver(BatchResult{Err: failure})
			return
		}

		var bytes int64
		m.mu.Lock()
		for _, c := range batch {
			n, err := m.readLocked(c.Data, c.Offset)
			bytes += int64(n)
			if err != nil {
				m.mu.Unlock()
				deliver(BatchResult{Bytes: bytes, Err: fmt.Errorf("mem: chunk at %d: %w", c.Offset, err)})
				return
			}
		}
		m.mu.Unlock()
		deliver(BatchResult{Bytes: bytes})
	}()
	return ch, nil
}

func (m *MemSession) Query(context.Context, []string) (map[string]string, error) {
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	if m.QueryResponse == nil {
		return map[string]string{}, nil
	}
	return m.QueryResponse, nil
}
