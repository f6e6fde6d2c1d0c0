// Package s3 provides an S3-compatible session backend for netfile.
//
// The backend supports AWS S3, MinIO, LocalStack, Cloudflare R2, and
// other S3-compatible object stores. Reads are served with HTTP Range
// requests; a vectored read fans its chunks out as concurrent range
// requests bounded by the session tuning. Objects are immutable, so
// writable modes spool writes to a local temp file and upload the
// result on Close.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/sync/errgroup"

	"github.com/justapithecus/netfile/netfile"
)

// API defines the subset of the S3 client interface used by the
// session. This enables testing with mock implementations.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds configuration for the S3 session.
type Config struct {
	// Bucket is the bucket used for URLs that do not carry their own
	// (plain object keys). Optional when every URL is s3://bucket/key.
	Bucket string

	// MaxChunkSize and MaxBatchCount are the vector-read limits the
	// session reports through Query. Zero values report the netfile
	// defaults.
	MaxChunkSize  int
	MaxBatchCount int

	// Tuning carries connection and worker parameters. WorkerThreads
	// bounds the range-request fan-out of a vectored read;
	// RequestTimeout bounds each individual request.
	Tuning netfile.Tuning
}

// Session implements netfile.Session over an S3-compatible store.
type Session struct {
	client     API
	cfg        Config
	createTemp func() (*os.File, error)

	mu     sync.Mutex
	open   bool
	bucket string
	key    string
	mode   netfile.Mode
	size   int64
	sized  bool
	spool  *os.File
	dirty  bool
}

// New creates a session with the given client and configuration.
//
// The client must be pre-configured with credentials, region, and
// endpoint. Use github.com/aws/aws-sdk-go-v2/config to load
// configuration.
func New(client API, cfg Config) (*Session, error) {
	if client == nil {
		return nil, errors.New("s3: client is required")
	}
	if cfg.Tuning.WorkerThreads == 0 {
		cfg.Tuning = netfile.DefaultTuning()
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		client:     client,
		cfg:        cfg,
		createTemp: func() (*os.File, error) { return os.CreateTemp("", "netfile-s3-*") },
	}, nil
}

// parseURL splits an s3://bucket/key URL, falling back to the
// configured bucket for plain keys.
func (s *Session) parseURL(url string) (bucket, key string, err error) {
	if rest, ok := strings.CutPrefix(url, "s3://"); ok {
		bucket, key, ok = strings.Cut(rest, "/")
		if !ok || bucket == "" || key == "" {
			return "", "", fmt.Errorf("s3: malformed URL %q", url)
		}
		return bucket, key, nil
	}
	if s.cfg.Bucket == "" {
		return "", "", fmt.Errorf("s3: no bucket configured for key %q", url)
	}
	if url == "" {
		return "", "", errors.New("s3: empty key")
	}
	return s.cfg.Bucket, url, nil
}

// Open prepares the session for the given URL and mode. Read and
// Update require the object to exist; New requires it not to; and
// Recreate replaces whatever is there. Writable modes spool to a
// local temp file, seeded with the current object for Update.
func (s *Session) Open(ctx context.Context, url string, mode netfile.Mode) error {
	bucket, key, err := s.parseURL(url)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return errors.New("s3: session already open")
	}

	size, exists, err := s.head(ctx, bucket, key)
	if err != nil {
		return err
	}
	switch mode {
	case netfile.ModeRead, netfile.ModeUpdate:
		if !exists {
			return fmt.Errorf("s3: %s/%s does not exist", bucket, key)
		}
	case netfile.ModeNew:
		if exists {
			return fmt.Errorf("s3: %s/%s already exists", bucket, key)
		}
	}

	if mode != netfile.ModeRead {
		spool, err := s.createTemp()
		if err != nil {
			return fmt.Errorf("s3: creating spool: %w", err)
		}
		if mode == netfile.ModeUpdate {
			if err := s.download(ctx, bucket, key, spool); err != nil {
				_ = spool.Close()
				_ = os.Remove(spool.Name())
				return err
			}
		}
		s.spool = spool
	}

	s.bucket = bucket
	s.key = key
	s.mode = mode
	s.size = size
	s.sized = exists
	s.open = true
	s.dirty = false
	return nil
}

// Close flushes spooled writes with a single PutObject, then releases
// the session. New-mode uploads use If-None-Match for an atomic
// no-overwrite guarantee.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false

	if s.spool == nil {
		return nil
	}
	spool := s.spool
	s.spool = nil
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	if !s.dirty {
		return nil
	}
	info, err := spool.Stat()
	if err != nil {
		return fmt.Errorf("s3: stat spool: %w", err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("s3: seek spool: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key),
		Body:          spool,
		ContentLength: aws.Int64(info.Size()),
	}
	if s.mode == netfile.ModeNew {
		input.IfNoneMatch = aws.String("*")
	}

	ctx, cancel := s.requestCtx(ctx)
	defer cancel()
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3: put object: %w", err)
	}
	return nil
}

// IsOpen reports whether the session is open.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Stat reports the object size. When force is false the size cached
// at open (or by a previous Stat) is reused. With spooled writes the
// spool is the source of truth.
func (s *Session) Stat(ctx context.Context, force bool) (netfile.StatInfo, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return netfile.StatInfo{}, netfile.ErrNotOpen
	}
	if s.spool != nil {
		spool := s.spool
		s.mu.Unlock()
		info, err := spool.Stat()
		if err != nil {
			return netfile.StatInfo{}, fmt.Errorf("s3: stat spool: %w", err)
		}
		return netfile.StatInfo{Size: info.Size(), ModTime: info.ModTime()}, nil
	}
	if !force && s.sized {
		size := s.size
		s.mu.Unlock()
		return netfile.StatInfo{Size: size}, nil
	}
	bucket, key := s.bucket, s.key
	s.mu.Unlock()

	size, exists, err := s.head(ctx, bucket, key)
	if err != nil {
		return netfile.StatInfo{}, err
	}
	if !exists {
		return netfile.StatInfo{}, fmt.Errorf("s3: %s/%s does not exist", bucket, key)
	}

	s.mu.Lock()
	s.size = size
	s.sized = true
	s.mu.Unlock()
	return netfile.StatInfo{Size: size, ModTime: time.Now()}, nil
}

// ReadAt serves a single read. Writable sessions read from the spool
// so pending writes are visible; read-only sessions issue a range
// request.
func (s *Session) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return 0, netfile.ErrNotOpen
	}
	spool := s.spool
	bucket, key := s.bucket, s.key
	s.mu.Unlock()

	if spool != nil {
		return spool.ReadAt(p, off)
	}
	return s.rangeRead(ctx, bucket, key, p, off)
}

// WriteAt writes into the spool. Read-only sessions reject writes.
func (s *Session) WriteAt(_ context.Context, p []byte, off int64) (int, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return 0, netfile.ErrNotOpen
	}
	spool := s.spool
	s.mu.Unlock()

	if spool == nil {
		return 0, errors.New("s3: session opened read-only")
	}
	n, err := spool.WriteAt(p, off)
	if err != nil {
		return n, fmt.Errorf("s3: spool write: %w", err)
	}
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
	return n, nil
}

// VectorRead submits one batch. Chunks fan out as concurrent range
// requests bounded by Tuning.WorkerThreads; exactly one BatchResult
// is delivered on the returned channel. A closed session rejects the
// submission.
func (s *Session) VectorRead(ctx context.Context, batch netfile.Batch) (<-chan netfile.BatchResult, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil, netfile.ErrNotOpen
	}
	spool := s.spool
	bucket, key := s.bucket, s.key
	workers := s.cfg.Tuning.WorkerThreads
	s.mu.Unlock()

	ch := make(chan netfile.BatchResult, 1)
	go func() {
		var bytes atomic.Int64
		grp, ctx := errgroup.WithContext(ctx)
		grp.SetLimit(workers)

		for _, c := range batch {
			grp.Go(func() error {
				var (
					n   int
					err error
				)
				if spool != nil {
					n, err = spool.ReadAt(c.Data, c.Offset)
				} else {
					n, err = s.rangeRead(ctx, bucket, key, c.Data, c.Offset)
				}
				bytes.Add(int64(n))
				if err != nil {
					return fmt.Errorf("s3: chunk at %d: %w", c.Offset, err)
				}
				return nil
			})
		}

		err := grp.Wait()
		ch <- netfile.BatchResult{Bytes: bytes.Load(), Err: err}
	}()
	return ch, nil
}

// Query answers the vector-read limit keys from the configuration.
func (s *Session) Query(_ context.Context, keys []string) (map[string]string, error) {
	chunk := s.cfg.MaxChunkSize
	if chunk <= 0 {
		chunk = netfile.DefaultMaxChunkSize
	}
	count := s.cfg.MaxBatchCount
	if count <= 0 {
		count = netfile.DefaultMaxBatchCount
	}

	resp := make(map[string]string, len(keys))
	for _, k := range keys {
		switch k {
		case "readv_ior_max":
			resp[k] = strconv.Itoa(chunk)
		case "readv_iov_max":
			resp[k] = strconv.Itoa(count)
		}
	}
	return resp, nil
}

// -----------------------------------------------------------------------------
// S3 plumbing
// -----------------------------------------------------------------------------

// requestCtx applies the per-request timeout from the tuning.
func (s *Session) requestCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if t := s.cfg.Tuning.RequestTimeout; t > 0 {
		return context.WithTimeout(ctx, t)
	}
	return context.WithCancel(ctx)
}

func (s *Session) head(ctx context.Context, bucket, key string) (size int64, exists bool, err error) {
	ctx, cancel := s.requestCtx(ctx)
	defer cancel()

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("s3: head object: %w", err)
	}
	return aws.ToInt64(out.ContentLength), true, nil
}

// rangeRead fills p from the object at off using an HTTP Range
// request. Follows the io.ReaderAt error contract: a range beyond EOF
// reports io.EOF.
func (s *Session) rangeRead(ctx context.Context, bucket, key string, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("s3: negative offset")
	}
	if len(p) == 0 {
		return 0, nil
	}

	ctx, cancel := s.requestCtx(ctx)
	defer cancel()

	end := off + int64(len(p)) - 1
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange" {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("s3: range read: %w", err)
	}
	defer func() { _ = out.Body.Close() }()

	n, err := io.ReadFull(out.Body, p)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		// Requested range extends beyond EOF.
		err = io.EOF
	}
	return n, err
}

// download copies the whole object into w.
func (s *Session) download(ctx context.Context, bucket, key string, w io.Writer) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3: get object: %w", err)
	}
	defer func() { _ = out.Body.Close() }()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("s3: download: %w", err)
	}
	return nil
}

// isNotFound checks if an error indicates the object was not found.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey" || code == "404"
	}
	return false
}

// -----------------------------------------------------------------------------
// Mock S3 Client for Testing
// -----------------------------------------------------------------------------

// MockS3Client is a test double for API.
type MockS3Client struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// Call counters for test assertions
	GetObjectCalls  int
	HeadObjectCalls int
	PutObjectCalls  int

	// GetObjectErr forces GetObject to fail.
	GetObjectErr error
}

// NewMockS3Client creates a new mock S3 client for testing.
func NewMockS3Client() *MockS3Client {
	return &MockS3Client{objects: make(map[string][]byte)}
}

// SetObject seeds an object.
func (m *MockS3Client) SetObject(key string, data []byte) {
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
}

// Object returns a seeded or uploaded object.
func (m *MockS3Client) Object(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	return data, ok
}

// GetObject implements API.GetObject for testing.
func (m *MockS3Client) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(params.Key)

	m.mu.Lock()
	m.GetObjectCalls++
	err := m.GetObjectErr
	data, exists := m.objects[key]
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &types.NoSuchKey{}
	}

	// Handle range requests
	if params.Range != nil {
		var start, end int64
		_, _ = fmt.Sscanf(aws.ToString(params.Range), "bytes=%d-%d", &start, &end)

		if start >= int64(len(data)) {
			return nil, &smithyAPIError{code: "InvalidRange"}
		}
		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
		data = data[start : end+1]
	}

	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

// HeadObject implements API.HeadObject for testing.
func (m *MockS3Client) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	key := aws.ToString(params.Key)

	m.mu.Lock()
	m.HeadObjectCalls++
	data, exists := m.objects[key]
	m.mu.Unlock()

	if !exists {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

// PutObject implements API.PutObject for testing.
func (m *MockS3Client) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(params.Key)
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutObjectCalls++

	// Handle If-None-Match: "*" (conditional write for immutability)
	if aws.ToString(params.IfNoneMatch) == "*" {
		if _, exists := m.objects[key]; exists {
			return nil, &smithyAPIError{code: "PreconditionFailed", message: "object already exists"}
		}
	}

	m.objects[key] = data
	return &s3.PutObjectOutput{}, nil
}

// smithyAPIError implements smithy.APIError for testing.
type smithyAPIError struct {
	code    string
	message string
}

func (e *smithyAPIError) Error() string { return e.message }

func (e *smithyAPIError) ErrorCode() string { return e.code }

func (e *smithyAPIError) ErrorMessage() string { return e.message }

func (e *smithyAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }
