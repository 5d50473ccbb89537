package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"upload-files-skill/internal/domain"
	"upload-files-skill/internal/storage"
)

const (
	defaultRelayTimeout = 2 * time.Minute
	copyBufferSize      = 32 * 1024
)

// SourceOpener opens a streaming read of the bytes behind a source URL. The
// returned body must be closed by the caller.
type SourceOpener interface {
	Open(ctx context.Context, sourceURL string) (io.ReadCloser, error)
}

// Relayer moves one object from a source URL into storage.
type Relayer interface {
	Relay(ctx context.Context, sourceURL, objectName string) domain.RelayResult
}

type RelayOptions struct {
	Container string
	Timeout   time.Duration
	MaxBytes  int64
	Logger    *slog.Logger
}

// StreamRelay copies a download straight into a storage writer without
// buffering the whole object.
type StreamRelay struct {
	source    SourceOpener
	store     storage.Backend
	container string
	timeout   time.Duration
	maxBytes  int64
	log       *slog.Logger
}

func NewStreamRelay(source SourceOpener, store storage.Backend, opts RelayOptions) (*StreamRelay, error) {
	if source == nil {
		return nil, errors.New("usecase: source opener must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: storage backend must not be nil")
	}
	container := strings.TrimSpace(opts.Container)
	if container == "" {
		container = DefaultContainer
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRelayTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = storage.MaxObjectBytes
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &StreamRelay{
		source:    source,
		store:     store,
		container: container,
		timeout:   opts.Timeout,
		maxBytes:  opts.MaxBytes,
		log:       log.With(slog.String("component", "relay")),
	}, nil
}

// Timeout is the upper bound of one Relay call.
func (r *StreamRelay) Timeout() time.Duration {
	return r.timeout
}

// Relay never retries. On failure the storage writer is aborted so no
// partial object becomes visible.
func (r *StreamRelay) Relay(ctx context.Context, sourceURL, objectName string) domain.RelayResult {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := time.Now()
	log := r.log.With(slog.String("object", objectName), slog.String("container", r.container))

	body, err := r.source.Open(ctx, sourceURL)
	if err != nil {
		return r.failed(log, failureReason(ctx, err, ReasonDownloadFailed), err)
	}
	defer func() { _ = body.Close() }()

	w, err := r.store.OpenWriter(ctx, r.container, objectName)
	if err != nil {
		return r.failed(log, failureReason(ctx, err, ReasonUploadFailed), err)
	}

	src := &sourceReader{r: storage.LimitReader(body, r.maxBytes)}
	n, err := io.CopyBuffer(w, src, make([]byte, copyBufferSize))
	if err != nil {
		w.Abort(err)
		reason := ReasonUploadFailed
		var rerr *readError
		if errors.As(err, &rerr) {
			reason = ReasonDownloadFailed
			err = rerr.err
		}
		return r.failed(log, failureReason(ctx, err, reason), err)
	}
	if err := w.Close(); err != nil {
		return r.failed(log, failureReason(ctx, err, ReasonUploadFailed), err)
	}

	url := w.URL()
	log.Info("relay completed",
		slog.Int64("bytes", n),
		slog.Duration("elapsed", time.Since(started)),
		slog.String("url", url),
	)
	return domain.RelaySucceeded(url)
}

func (r *StreamRelay) failed(log *slog.Logger, reason string, cause error) domain.RelayResult {
	log.Warn("relay failed", slog.String("reason", reason), slog.Any("error", cause))
	res := domain.RelayFailedWith(newError(ErrorRelayFailed, reason, cause))
	res.ErrorMessage = cause.Error()
	return res
}

func failureReason(ctx context.Context, err error, fallback string) string {
	switch {
	case errors.Is(err, storage.ErrObjectTooLarge):
		return ReasonTooLarge
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return fallback
	}
}

// readError marks failures of the download side of a copy.
type readError struct {
	err error
}

func (e *readError) Error() string { return fmt.Sprintf("read source: %v", e.err) }
func (e *readError) Unwrap() error { return e.err }

type sourceReader struct {
	r io.Reader
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		return n, &readError{err: err}
	}
	return n, err
}
