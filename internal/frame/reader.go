// Package frame reassembles newline-delimited JSON-RPC messages from an
// arbitrarily chunked byte stream.
//
// A Reader keeps one accumulation buffer. Each chunk is appended, every
// complete line is decoded and emitted, and the trailing partial line is kept
// for the next chunk. Lines that are not valid JSON are reported as
// FrameParseError through the logger and skipped.
package frame

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/wagiedev/stdiomux/internal/errors"
	"github.com/wagiedev/stdiomux/internal/jsonrpc"
)

const (
	// readChunkSize is the size of each read from the underlying stream.
	readChunkSize = 32 * 1024
	// maxFrameSize bounds the partial-line buffer. A line longer than this is
	// discarded as unparseable.
	maxFrameSize = 16 * 1024 * 1024 // 16MB
)

// Reader turns byte chunks into decoded messages.
type Reader struct {
	log      *slog.Logger
	endpoint string
	buf      []byte
	dropping bool // discarding an oversized line until its newline
	parseErr func(*errors.FrameParseError)
}

// NewReader creates a Reader for the named endpoint.
func NewReader(log *slog.Logger, endpoint string) *Reader {
	return &Reader{
		log:      log.With("component", "frame_reader", "endpoint", endpoint),
		endpoint: endpoint,
	}
}

// OnParseError registers a callback invoked for every dropped line, in
// addition to logging it.
func (r *Reader) OnParseError(fn func(*errors.FrameParseError)) {
	r.parseErr = fn
}

// Buffered returns the number of bytes held as an incomplete line.
func (r *Reader) Buffered() int {
	return len(r.buf)
}

// Feed appends chunk to the buffer and returns every message completed by it,
// in stream order.
func (r *Reader) Feed(chunk []byte) []*jsonrpc.Message {
	var out []*jsonrpc.Message

	for len(chunk) > 0 {
		idx := bytes.IndexByte(chunk, '\n')
		if idx < 0 {
			r.appendPartial(chunk)

			return out
		}

		if r.dropping {
			r.dropping = false
			chunk = chunk[idx+1:]

			continue
		}

		var line []byte
		if len(r.buf) > 0 {
			line = append(r.buf, chunk[:idx]...)
			r.buf = nil
		} else {
			line = chunk[:idx]
		}

		chunk = chunk[idx+1:]

		if msg := r.decode(line); msg != nil {
			out = append(out, msg)
		}
	}

	return out
}

// Messages reads src until it is exhausted or ctx is cancelled, yielding
// each decoded message. A clean end of stream ends the sequence without an
// error; read failures and cancellation are yielded once as the last element.
func (r *Reader) Messages(ctx context.Context, src io.Reader) iter.Seq2[*jsonrpc.Message, error] {
	return func(yield func(*jsonrpc.Message, error) bool) {
		chunk := make([]byte, readChunkSize)

		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)

				return
			}

			n, err := src.Read(chunk)
			if n > 0 {
				for _, msg := range r.Feed(chunk[:n]) {
					if !yield(msg, nil) {
						return
					}
				}
			}

			if err != nil {
				if stderrors.Is(err, io.EOF) {
					r.flushTail()

					return
				}

				yield(nil, fmt.Errorf("read stdout: %w", err))

				return
			}
		}
	}
}

func (r *Reader) appendPartial(chunk []byte) {
	if r.dropping {
		return
	}

	if len(r.buf)+len(chunk) > maxFrameSize {
		r.report(r.buf, fmt.Errorf("frame exceeds %d bytes", maxFrameSize))
		r.buf = nil
		r.dropping = true

		return
	}

	r.buf = append(r.buf, chunk...)
}

// flushTail reports a trailing line left without a newline at end of stream.
func (r *Reader) flushTail() {
	if len(bytes.TrimSpace(r.buf)) > 0 {
		r.log.Debug("Discarding unterminated trailing frame", "bytes", len(r.buf))
	}

	r.buf = nil
	r.dropping = false
}

func (r *Reader) decode(line []byte) *jsonrpc.Message {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	msg, err := jsonrpc.Decode(line)
	if err != nil {
		r.report(line, err)

		return nil
	}

	return msg
}

func (r *Reader) report(line []byte, err error) {
	perr := &errors.FrameParseError{
		Endpoint: r.endpoint,
		RawData:  string(line),
		Err:      err,
	}

	r.log.Warn("Dropping unparseable frame", "error", perr, "bytes", len(line))

	if r.parseErr != nil {
		r.parseErr(perr)
	}
}
