// Package s3 implements storage.Backend on an S3 bucket. Containers map to
// key prefixes; objects are streamed through the multipart upload manager.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"upload-files-skill/internal/storage"
)

// uploaderAPI is the minimal upload manager interface required by Backend.
// *manager.Uploader satisfies it.
type uploaderAPI interface {
	Upload(ctx context.Context, in *awss3.PutObjectInput, optFns ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Backend writes objects to a single bucket.
type Backend struct {
	uploader      uploaderAPI
	bucket        string
	publicBaseURL string
}

// New creates a Backend. When publicBaseURL is empty the virtual-hosted
// bucket endpoint for region is used.
func New(uploader uploaderAPI, bucket, region, publicBaseURL string) (*Backend, error) {
	if uploader == nil {
		return nil, errors.New("s3: uploader must not be nil")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("s3: bucket must not be empty")
	}
	publicBaseURL = strings.TrimSpace(publicBaseURL)
	if publicBaseURL == "" {
		region = strings.TrimSpace(region)
		if region == "" {
			return nil, errors.New("s3: region or public base url is required")
		}
		publicBaseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}
	return &Backend{uploader: uploader, bucket: bucket, publicBaseURL: publicBaseURL}, nil
}

// NewFromClient builds a Backend around a streaming upload manager for client.
func NewFromClient(client *awss3.Client, bucket, region, publicBaseURL string) (*Backend, error) {
	if client == nil {
		return nil, errors.New("s3: client must not be nil")
	}
	return New(manager.NewUploader(client), bucket, region, publicBaseURL)
}

// OpenWriter starts an upload that consumes everything written to the
// returned Writer. The upload runs until Close or Abort.
func (b *Backend) OpenWriter(ctx context.Context, container, name string) (storage.Writer, error) {
	if err := storage.ValidateKey(container, name); err != nil {
		return nil, err
	}
	key := objectKey(container, name)
	pr, pw := io.Pipe()
	w := &pipeWriter{
		pw:   pw,
		done: make(chan struct{}),
		url:  storage.PublicURL(b.publicBaseURL, container, name),
	}

	in := &awss3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   pr,
	}
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		in.ContentType = aws.String(ct)
	}

	go func() {
		defer close(w.done)
		_, err := b.uploader.Upload(ctx, in)
		w.err = err
		// Unblock the writer side if the upload stopped reading early.
		_ = pr.CloseWithError(uploadStopped(err))
	}()
	return w, nil
}

func objectKey(container, name string) string {
	return container + "/" + strings.TrimLeft(name, "/")
}

func uploadStopped(err error) error {
	if err == nil {
		return io.ErrClosedPipe
	}
	return err
}

type pipeWriter struct {
	pw     *io.PipeWriter
	done   chan struct{}
	err    error
	url    string
	closed bool
}

func (w *pipeWriter) Write(p []byte) (int, error) {
	n, err := w.pw.Write(p)
	if err != nil {
		return n, fmt.Errorf("s3: write object: %w", err)
	}
	return n, nil
}

func (w *pipeWriter) Close() error {
	if w.closed {
		return errors.New("s3: writer already closed")
	}
	w.closed = true
	_ = w.pw.Close()
	<-w.done
	if w.err != nil {
		return fmt.Errorf("s3: upload object: %w", w.err)
	}
	return nil
}

func (w *pipeWriter) Abort(cause error) {
	if w.closed {
		return
	}
	w.closed = true
	if cause == nil {
		cause = errors.New("upload aborted")
	}
	_ = w.pw.CloseWithError(cause)
	<-w.done
}

func (w *pipeWriter) URL() string {
	return w.url
}
