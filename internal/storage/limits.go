package storage

import (
	"fmt"
	"io"
)

// LimitReader returns a reader that fails with ErrObjectTooLarge once more
// than maxBytes have been read from r. A non-positive maxBytes uses
// MaxObjectBytes.
func LimitReader(r io.Reader, maxBytes int64) io.Reader {
	if maxBytes <= 0 {
		maxBytes = MaxObjectBytes
	}
	return &limitedReader{r: r, remaining: maxBytes, max: maxBytes}
}

type limitedReader struct {
	r         io.Reader
	remaining int64
	max       int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if l.remaining <= 0 {
		var extra [1]byte
		n, err := l.r.Read(extra[:])
		if n > 0 {
			return 0, fmt.Errorf("%w: max %d bytes", ErrObjectTooLarge, l.max)
		}
		return 0, err
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}
