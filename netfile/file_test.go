package netfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
)

func openTestFile(t *testing.T, sess Session, opts ...Option) *File {
	t.Helper()
	f, err := Open(context.Background(), sess, "mem://file", opts...)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return f
}

// -----------------------------------------------------------------------------
// Reads, writes, position
// -----------------------------------------------------------------------------

func TestFile_ReadAdvancesOffset(t *testing.T) {
	ctx := context.Background()
	f := openTestFile(t, NewMemSession(sequentialData(32)))

	p := make([]byte, 8)
	if n, err := f.Read(ctx, p); err != nil || n != 8 {
		t.Fatalf("first Read: n=%d err=%v", n, err)
	}
	if p[0] != 0 || p[7] != 7 {
		t.Errorf("first Read returned %v", p)
	}

	if n, err := f.Read(ctx, p); err != nil || n != 8 {
		t.Fatalf("second Read: n=%d err=%v", n, err)
	}
	if p[0] != 8 || p[7] != 15 {
		t.Errorf("second Read did not continue at offset 8: %v", p)
	}
}

func TestFile_Seek(t *testing.T) {
	ctx := context.Background()
	f := openTestFile(t, NewMemSession(sequentialData(32)))

	if pos, err := f.Seek(ctx, 10, io.SeekStart); err != nil || pos != 10 {
		t.Fatalf("SeekStart: pos=%d err=%v", pos, err)
	}
	if pos, err := f.Seek(ctx, 5, io.SeekCurrent); err != nil || pos != 15 {
		t.Fatalf("SeekCurrent: pos=%d err=%v", pos, err)
	}
	if pos, err := f.Seek(ctx, -2, io.SeekEnd); err != nil || pos != 30 {
		t.Fatalf("SeekEnd: pos=%d err=%v", pos, err)
	}

	p := make([]byte, 2)
	if _, err := f.Read(ctx, p); err != nil {
		t.Fatalf("Read after seek: %v", err)
	}
	if p[0] != 30 || p[1] != 31 {
		t.Errorf("Read after SeekEnd returned %v", p)
	}

	if _, err := f.Seek(ctx, -1, io.SeekStart); err == nil {
		t.Error("expected error for negative position")
	}
	if _, err := f.Seek(ctx, 0, 42); err == nil {
		t.Error("expected error for invalid whence")
	}
}

func TestFile_Size(t *testing.T) {
	f := openTestFile(t, NewMemSession(sequentialData(17)))
	size, err := f.Size(context.Background())
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != 17 {
		t.Errorf("expected size 17, got %d", size)
	}
}

func TestFile_WriteAt(t *testing.T) {
	ctx := context.Background()
	sess := NewMemSession([]byte("hello world"))
	f := openTestFile(t, sess, WithMode(ModeUpdate))

	if n, err := f.WriteAt(ctx, []byte("WORLD"), 6); err != nil || n != 5 {
		t.Fatalf("WriteAt: n=%d err=%v", n, err)
	}
	if got := string(sess.Bytes()); got != "hello WORLD" {
		t.Errorf("session contents %q", got)
	}

	p := make([]byte, 5)
	if _, err := f.ReadAt(ctx, p, 6); err != nil {
		t.Fatalf("ReadAt after write: %v", err)
	}
	if string(p) != "WORLD" {
		t.Errorf("read back %q", p)
	}
}

func TestFile_WriteRejectedInReadMode(t *testing.T) {
	f := openTestFile(t, NewMemSession(sequentialData(8)))
	if _, err := f.WriteAt(context.Background(), []byte{1}, 0); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}

func TestFile_ReadWriteFailureLeavesFileUsable(t *testing.T) {
	ctx := context.Background()
	sess := NewMemSession(sequentialData(16))
	f := openTestFile(t, sess)

	sess.ReadErr = errors.New("transient failure")
	p := make([]byte, 4)
	if _, err := f.ReadAt(ctx, p, 0); err == nil {
		t.Fatal("expected read failure")
	}

	// The file is not a zombie; a retry succeeds.
	sess.ReadErr = nil
	if _, err := f.ReadAt(ctx, p, 0); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
}

// -----------------------------------------------------------------------------
// Vectored reads through the file
// -----------------------------------------------------------------------------

func TestFile_ReadVector(t *testing.T) {
	ctx := context.Background()
	sess := NewMemSession(sequentialData(64))
	sess.QueryResponse = map[string]string{
		"readv_ior_max": "4",
		"readv_iov_max": "2",
	}
	f := openTestFile(t, sess)

	if got := f.VectorLimits(); got.MaxChunkSize != 4 || got.MaxBatchCount != 2 {
		t.Fatalf("limits not taken from query: %+v", got)
	}

	// (0,8) splits into two chunks, (16,4) is one: batches of [2] and [1].
	dst := make([]byte, 12)
	n, err := f.ReadVector(ctx, dst, []int64{0, 16}, []int{8, 4})
	if err != nil {
		t.Fatalf("ReadVector failed: %v", err)
	}
	if n != 12 {
		t.Errorf("transferred %d bytes, want 12", n)
	}
	if got := sess.Submitted(); got != 2 {
		t.Errorf("expected 2 batches dispatched, got %d", got)
	}

	want := append(sequentialData(8), 16, 17, 18, 19)
	if !bytes.Equal(dst, want) {
		t.Errorf("dst = %v, want %v", dst, want)
	}
}

func TestFile_ReadVector_NoDescriptors(t *testing.T) {
	sess := NewMemSession(sequentialData(8))
	f := openTestFile(t, sess)

	n, err := f.ReadVector(context.Background(), nil, nil, nil)
	if err != nil || n != 0 {
		t.Fatalf("empty vector read: n=%d err=%v", n, err)
	}
	if got := sess.Submitted(); got != 0 {
		t.Errorf("expected no dispatched batches, got %d", got)
	}

	// All-zero-length descriptors are equally a no-op.
	n, err = f.ReadVector(context.Background(), make([]byte, 4), []int64{0, 4}, []int{0, 0})
	if err != nil || n != 0 {
		t.Fatalf("zero-length vector read: n=%d err=%v", n, err)
	}
}

// shortSession under-reports transferred bytes to exercise the
// short-read check.
type shortSession struct {
	*MemSession
}

func (s *shortSession) VectorRead(ctx context.Context, batch Batch) (<-chan BatchResult, error) {
	inner, err := s.MemSession.VectorRead(ctx, batch)
	if err != nil {
		return nil, err
	}
	ch := make(chan BatchResult, 1)
	go func() {
		r := <-inner
		if r.Err == nil && r.Bytes > 0 {
			r.Bytes--
		}
		ch <- r
	}()
	return ch, nil
}

func TestFile_ReadVector_ShortRead(t *testing.T) {
	sess := &shortSession{NewMemSession(sequentialData(32))}
	f := openTestFile(t, sess)

	dst := make([]byte, 8)
	_, err := f.ReadVector(context.Background(), dst, []int64{0}, []int{8})
	if !errors.Is(err, ErrShortRead) {
		t.Fatalf("expected ErrShortRead, got %v", err)
	}
}

// -----------------------------------------------------------------------------
// Cache tier interplay
// -----------------------------------------------------------------------------

func TestFile_CacheHitSkipsNetwork(t *testing.T) {
	ctx := context.Background()
	sess := NewMemSession(sequentialData(32))
	bc, err := NewBlockCache(16, 8)
	if err != nil {
		t.Fatal(err)
	}
	f := openTestFile(t, sess, WithCache(bc))

	p := make([]byte, 8)
	if _, err := f.ReadAt(ctx, p, 0); err != nil {
		t.Fatalf("first read: %v", err)
	}

	// The network is now broken; the cached block must answer.
	sess.ReadErr = errors.New("network down")
	q := make([]byte, 8)
	n, err := f.ReadAt(ctx, q, 0)
	if err != nil || n != 8 {
		t.Fatalf("cached read: n=%d err=%v", n, err)
	}
	if !bytes.Equal(p, q) {
		t.Errorf("cached read returned %v, want %v", q, p)
	}
}

type failingCache struct{ NopCache }

func (failingCache) Read(int64, []byte) CacheResult { return CacheFailed }

func TestFile_CacheFailureShortCircuits(t *testing.T) {
	sess := NewMemSession(sequentialData(8))
	f := openTestFile(t, sess, WithCache(failingCache{}))

	p := make([]byte, 4)
	if _, err := f.ReadAt(context.Background(), p, 0); !errors.Is(err, ErrCacheFailed) {
		t.Fatalf("expected ErrCacheFailed, got %v", err)
	}
}

// -----------------------------------------------------------------------------
// Reopen and close
// -----------------------------------------------------------------------------

func TestFile_ReOpen_ModeUnchanged(t *testing.T) {
	ctx := context.Background()

	f := openTestFile(t, NewMemSession(sequentialData(8)))
	if err := f.ReOpen(ctx, ModeRead); !errors.Is(err, ErrModeUnchanged) {
		t.Fatalf("same mode: expected ErrModeUnchanged, got %v", err)
	}

	// Update after New is also a no-op.
	g := openTestFile(t, NewMemSession(nil), WithMode(ModeNew))
	if err := g.ReOpen(ctx, ModeUpdate); !errors.Is(err, ErrModeUnchanged) {
		t.Fatalf("update after new: expected ErrModeUnchanged, got %v", err)
	}
}

func TestFile_ReOpen_SwitchesMode(t *testing.T) {
	ctx := context.Background()
	sess := NewMemSession([]byte("hello"))
	f := openTestFile(t, sess)

	if err := f.ReOpen(ctx, ModeUpdate); err != nil {
		t.Fatalf("ReOpen failed: %v", err)
	}
	if f.Mode() != ModeUpdate {
		t.Errorf("mode is %s after reopen", f.Mode())
	}
	if _, err := f.WriteAt(ctx, []byte("H"), 0); err != nil {
		t.Errorf("write after reopen: %v", err)
	}
}

func TestFile_ReOpen_InvalidMode(t *testing.T) {
	f := openTestFile(t, NewMemSession(sequentialData(8)))
	if err := f.ReOpen(context.Background(), ModeRecreate); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}

func TestFile_CloseFailureMakesZombie(t *testing.T) {
	ctx := context.Background()
	sess := NewMemSession(sequentialData(8))
	sess.CloseErr = errors.New("close refused")
	f := openTestFile(t, sess)

	if err := f.Close(ctx); err == nil {
		t.Fatal("expected close failure")
	}
	p := make([]byte, 4)
	if _, err := f.ReadAt(ctx, p, 0); !errors.Is(err, ErrZombie) {
		t.Fatalf("expected ErrZombie after failed close, got %v", err)
	}
}

// -----------------------------------------------------------------------------
// Metrics and monitoring
// -----------------------------------------------------------------------------

func TestFile_Metrics(t *testing.T) {
	ctx := context.Background()
	sess := NewMemSession(sequentialData(64))
	metrics := NewMetrics()
	f := openTestFile(t, sess, WithMode(ModeUpdate), WithMetrics(metrics))

	p := make([]byte, 8)
	if _, err := f.ReadAt(ctx, p, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt(ctx, []byte{1, 2, 3}, 0); err != nil {
		t.Fatal(err)
	}
	dst := make([]byte, 4)
	if _, err := f.ReadVector(ctx, dst, []int64{8}, []int{4}); err != nil {
		t.Fatal(err)
	}

	snap := metrics.Snapshot()
	if snap.BytesRead != 12 {
		t.Errorf("BytesRead = %d, want 12", snap.BytesRead)
	}
	if snap.ReadCalls != 2 {
		t.Errorf("ReadCalls = %d, want 2", snap.ReadCalls)
	}
	if snap.VectorReadCalls != 1 {
		t.Errorf("VectorReadCalls = %d, want 1", snap.VectorReadCalls)
	}
	if snap.BytesWritten != 3 || snap.WriteCalls != 1 {
		t.Errorf("write counters = (%d, %d), want (3, 1)", snap.BytesWritten, snap.WriteCalls)
	}
}

func TestFile_MonitorReceivesMilestones(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	sess := NewMemSession(sequentialData(16))
	f := openTestFile(t, sess, WithMonitor(NewWriterMonitor(&buf)))

	p := make([]byte, 4)
	if _, err := f.ReadAt(ctx, p, 0); err != nil {
		t.Fatal(err)
	}

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 4 {
		t.Fatalf("expected 4 events (3 open phases + 1 read), got %d", len(lines))
	}

	var first struct {
		Phase string `json:"phase"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("event is not valid JSON: %v", err)
	}
	if first.Phase != string(PhaseOpenStart) || first.URL != "mem://file" {
		t.Errorf("first event = %+v", first)
	}

	var last struct {
		Bytes  int64 `json:"bytes"`
		Vector bool  `json:"vector"`
	}
	if err := json.Unmarshal(lines[3], &last); err != nil {
		t.Fatalf("read event is not valid JSON: %v", err)
	}
	if last.Bytes != 4 || last.Vector {
		t.Errorf("read event = %+v", last)
	}
}
