package netfile

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// -----------------------------------------------------------------------------
// Session tuning
// -----------------------------------------------------------------------------

// Environment variables mapped into Tuning. Durations are given in
// seconds.
const (
	EnvConnectionWindow     = "NETFILE_CONNECTION_WINDOW"
	EnvConnectionRetry      = "NETFILE_CONNECTION_RETRY"
	EnvRequestTimeout       = "NETFILE_REQUEST_TIMEOUT"
	EnvSubStreamsPerChannel = "NETFILE_SUBSTREAMS_PER_CHANNEL"
	EnvTimeoutResolution    = "NETFILE_TIMEOUT_RESOLUTION"
	EnvStreamErrorWindow    = "NETFILE_STREAM_ERROR_WINDOW"
	EnvRedirectLimit        = "NETFILE_REDIRECT_LIMIT"
	EnvWorkerThreads        = "NETFILE_WORKER_THREADS"
)

// Tuning carries connection, retry, and worker parameters for the
// underlying session. The adapter itself never reads these; session
// implementations consume whichever fields apply to their transport.
type Tuning struct {
	// ConnectionWindow bounds how long a single connection attempt may
	// take before the next candidate endpoint is tried.
	ConnectionWindow time.Duration

	// ConnectionRetry is the number of connection attempts before the
	// session gives up.
	ConnectionRetry int

	// RequestTimeout bounds a single request.
	RequestTimeout time.Duration

	// SubStreamsPerChannel is the parallel stream count per connection.
	SubStreamsPerChannel int

	// TimeoutResolution is the granularity at which timeouts are
	// checked.
	TimeoutResolution time.Duration

	// StreamErrorWindow is how long a broken stream is remembered
	// before reconnection is attempted.
	StreamErrorWindow time.Duration

	// RedirectLimit bounds redirect hops per request.
	RedirectLimit int

	// WorkerThreads bounds the session's I/O fan-out.
	WorkerThreads int
}

// DefaultTuning returns the built-in session parameters.
func DefaultTuning() Tuning {
	return Tuning{
		ConnectionWindow:     120 * time.Second,
		ConnectionRetry:      5,
		RequestTimeout:       30 * time.Second,
		SubStreamsPerChannel: 1,
		TimeoutResolution:    15 * time.Second,
		StreamErrorWindow:    1800 * time.Second,
		RedirectLimit:        16,
		WorkerThreads:        8,
	}
}

// Validate checks the tuning for values no session could accept.
func (t Tuning) Validate() error {
	if t.ConnectionRetry < 0 {
		return fmt.Errorf("netfile: connection retry must be non-negative, got %d", t.ConnectionRetry)
	}
	if t.RedirectLimit < 0 {
		return fmt.Errorf("netfile: redirect limit must be non-negative, got %d", t.RedirectLimit)
	}
	if t.WorkerThreads < 1 {
		return fmt.Errorf("netfile: worker threads must be positive, got %d", t.WorkerThreads)
	}
	if t.SubStreamsPerChannel < 1 {
		return fmt.Errorf("netfile: substreams per channel must be positive, got %d", t.SubStreamsPerChannel)
	}
	return nil
}

// TuningFromEnv returns the defaults overridden by any NETFILE_*
// environment variables that are set. Values that do not parse keep
// their defaults.
func TuningFromEnv() Tuning {
	t := DefaultTuning()
	envSeconds(EnvConnectionWindow, &t.ConnectionWindow)
	envInt(EnvConnectionRetry, &t.ConnectionRetry)
	envSeconds(EnvRequestTimeout, &t.RequestTimeout)
	envInt(EnvSubStreamsPerChannel, &t.SubStreamsPerChannel)
	envSeconds(EnvTimeoutResolution, &t.TimeoutResolution)
	envSeconds(EnvStreamErrorWindow, &t.StreamErrorWindow)
	envInt(EnvRedirectLimit, &t.RedirectLimit)
	envInt(EnvWorkerThreads, &t.WorkerThreads)
	return t
}

func envInt(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func envSeconds(key string, dst *time.Duration) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		*dst = time.Duration(n) * time.Second
	}
}
