package netfile

import (
	"io"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var monitorJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// -----------------------------------------------------------------------------
// Monitoring sink
// -----------------------------------------------------------------------------

// OpenPhase names a milestone in a file's open sequence.
type OpenPhase string

const (
	PhaseOpenStart OpenPhase = "open-start"
	PhaseInit      OpenPhase = "init"
	PhaseOpenEnd   OpenPhase = "open-end"
)

// OpenPhaseEvent reports an open milestone.
type OpenPhaseEvent struct {
	FileID string    `json:"file_id"`
	URL    string    `json:"url"`
	Phase  OpenPhase `json:"phase"`
	Time   time.Time `json:"time"`
}

// ReadEvent reports read progress after a single or vectored read.
type ReadEvent struct {
	FileID string    `json:"file_id"`
	URL    string    `json:"url"`
	Bytes  int64     `json:"bytes"`
	Vector bool      `json:"vector"`
	Time   time.Time `json:"time"`
}

// Monitor receives I/O milestones. Calls are fire-and-forget: the
// adapter ignores whatever the sink does with them, and sinks must
// not block.
type Monitor interface {
	OpenPhase(ev OpenPhaseEvent)
	ReadProgress(ev ReadEvent)
}

// NopMonitor discards all events.
type NopMonitor struct{}

func (NopMonitor) OpenPhase(OpenPhaseEvent) {}
func (NopMonitor) ReadProgress(ReadEvent)   {}

// -----------------------------------------------------------------------------
// Writer sink
// -----------------------------------------------------------------------------

// WriterMonitor encodes events as JSON lines to an io.Writer. Safe
// for concurrent use. Encoding or write errors are dropped, matching
// the fire-and-forget contract.
type WriterMonitor struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterMonitor creates a monitor writing JSON lines to w.
func NewWriterMonitor(w io.Writer) *WriterMonitor {
	return &WriterMonitor{w: w}
}

func (m *WriterMonitor) OpenPhase(ev OpenPhaseEvent) { m.emit(ev) }

func (m *WriterMonitor) ReadProgress(ev ReadEvent) { m.emit(ev) }

func (m *WriterMonitor) emit(ev any) {
	b, err := monitorJSON.Marshal(ev)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, _ = m.w.Write(append(b, '\n'))
}
