// Package ingest opens byte-stream inputs by URL scheme and counts what
// is read from them. Files are seekable; network transports are not.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNotSeekable is returned by Input.Seek on network transports.
var ErrNotSeekable = errors.New("ingest: input is not seekable")

// Stats captures connection-level metrics for an input.
type Stats struct {
	Scheme        string `json:"scheme"`
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Input is an open transport. It implements io.ReadCloser, and io.Seeker
// when Seekable reports true.
type Input struct {
	Scheme    string
	StartedAt time.Time

	r      io.Reader
	closer io.Closer
	seeker io.Seeker
	onStop func()

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value

	closeOnce sync.Once
	closeErr  error
}

func newInput(scheme string, r io.Reader, c io.Closer) *Input {
	in := &Input{Scheme: scheme, StartedAt: time.Now(), r: r, closer: c}
	if sk, ok := r.(io.Seeker); ok {
		in.seeker = sk
	}
	return in
}

// Read reads from the transport and records the byte count.
func (in *Input) Read(p []byte) (int, error) {
	n, err := in.r.Read(p)
	if n > 0 {
		in.RecordRead(n)
	}
	return n, err
}

// Seek repositions a seekable input.
func (in *Input) Seek(offset int64, whence int) (int64, error) {
	if in.seeker == nil {
		return 0, fmt.Errorf("%w: %s", ErrNotSeekable, in.Scheme)
	}
	return in.seeker.Seek(offset, whence)
}

// Seekable reports whether Seek is supported.
func (in *Input) Seekable() bool { return in.seeker != nil }

// Close closes the transport. It is safe to call more than once and from
// a goroutine other than the reader's.
func (in *Input) Close() error {
	in.closeOnce.Do(func() {
		if in.onStop != nil {
			in.onStop()
		}
		if in.closer != nil {
			in.closeErr = in.closer.Close()
		}
	})
	return in.closeErr
}

// RecordRead increments the byte and read counters.
func (in *Input) RecordRead(n int) {
	in.bytesReceived.Add(int64(n))
	in.readCount.Add(1)
}

// SetRemoteAddr stores the peer address for diagnostics.
func (in *Input) SetRemoteAddr(addr string) {
	in.remoteAddr.Store(addr)
}

// Stats returns a snapshot of the input's metrics.
func (in *Input) Stats() Stats {
	addr, _ := in.remoteAddr.Load().(string)
	return Stats{
		Scheme:        in.Scheme,
		BytesReceived: in.bytesReceived.Load(),
		ReadCount:     in.readCount.Load(),
		ConnectedAt:   in.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(in.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}
