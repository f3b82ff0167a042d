package receiver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"

	"github.com/n0needt0/goodies/sbs-relay/config"
	"github.com/n0needt0/goodies/sbs-relay/domain"
	"github.com/n0needt0/goodies/sbs-relay/logging"
)

// BatchForwarder delivers one complete batch. Errors are reported but never
// stop the read loop.
type BatchForwarder interface {
	Forward(ctx context.Context, batch *domain.Batch) error
}

// ByteRecorder receives per-read byte accounting
type ByteRecorder interface {
	RecordBytesReceived(n int)
	RecordBytesDropped(n int)
}

// FrameReader turns the byte stream of one connection into newline
// terminated batches. It is not safe for concurrent use; the Supervisor owns
// it and serves one connection at a time.
type FrameReader struct {
	forwarder   BatchForwarder
	stats       ByteRecorder
	buf         *ReadBuffer
	readTimeout time.Duration
	retryPause  time.Duration
	batchSeq    uint64
	received    int64
}

// NewFrameReader creates a reader sized from the receiver configuration
func NewFrameReader(cfg *config.Config, forwarder BatchForwarder, stats ByteRecorder) *FrameReader {
	return &FrameReader{
		forwarder:   forwarder,
		stats:       stats,
		buf:         NewReadBuffer(cfg.Receiver.ReadBufferSizeBytes, cfg.Receiver.BufferGrowthLimit),
		readTimeout: cfg.GetReadTimeout(),
		retryPause:  cfg.GetRetryPause(),
	}
}

// Serve reads conn until the peer closes it, a read fails or ctx is done.
// A clean close returns nil, cancellation returns ctx.Err() and any other
// failure is returned for the Supervisor to reconnect on.
func (r *FrameReader) Serve(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	remote := conn.RemoteAddr().String()
	r.buf.Reset()
	r.received = 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if dropped := r.buf.Prepare(); dropped > 0 {
			log.Warnf("Read buffer from %s exceeded %d bytes without a newline, discarding %d buffered bytes", remote, r.buf.Threshold(), dropped)
			r.stats.RecordBytesDropped(dropped)
		}

		if err := conn.SetReadDeadline(time.Now().Add(r.readTimeout)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isClosedConnError(err) {
				return errors.Wrap(err, "connection closed")
			}
			log.Warnf("Waiting for data from %s failed: %v, retrying in %s", remote, err, r.retryPause)
			if err := sleepContext(ctx, r.retryPause); err != nil {
				return err
			}
			continue
		}

		n, err := conn.Read(r.buf.Spare())
		if n > 0 {
			r.buf.Commit(n)
			r.received += int64(n)
			r.stats.RecordBytesReceived(n)
			if r.buf.EndsWithDelimiter() {
				r.flush(ctx, remote)
			}
		}

		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// no data yet
				continue
			}
			if errors.Is(err, io.EOF) {
				logging.Infof("Receiver %s closed the connection (%d bytes pending)", remote, r.buf.Len())
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Errorf("Read error from %s: %v", remote, err)
			return errors.Wrapf(err, "read from %s", remote)
		}
	}
}

// SessionBytes is the number of bytes read during the last Serve
func (r *FrameReader) SessionBytes() int64 {
	return r.received
}

// flush hands the whole buffer to the forwarder and waits for the attempt
// to finish before the next read.
func (r *FrameReader) flush(ctx context.Context, remote string) {
	data := r.buf.Bytes()
	r.batchSeq++
	batch := &domain.Batch{
		ID:           fmt.Sprintf("%d_%d", time.Now().UnixNano(), r.batchSeq),
		Data:         data,
		MessageCount: bytes.Count(data, []byte{'\n'}),
		ReceivedAt:   time.Now(),
	}

	if err := r.forwarder.Forward(ctx, batch); err != nil {
		log.Debugf("Batch %s from %s dropped: %v", batch.ID, remote, err)
	}
	r.buf.Reset()
}

// isClosedConnError checks if the error is due to closed connection
func isClosedConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		return strings.Contains(opErr.Err.Error(), "use of closed network connection")
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
