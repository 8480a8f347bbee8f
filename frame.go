package mcp

import (
	"bytes"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

const (
	// DefaultMaxMessageBytes caps the declared Content-Length of an inbound
	// frame. Frames above the cap are dropped without corrupting the stream.
	DefaultMaxMessageBytes = 4 * 1024 * 1024

	headerTerminator    = "\r\n\r\n"
	contentLengthHeader = "Content-Length"

	readChunkSize = 32 * 1024
)

// FrameWriter encodes message bodies onto a byte stream using
// "Content-Length: <N>\r\n\r\n" framing. Writes are serialized and flushed per
// frame, so the peer never observes interleaved or partially written frames.
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewFrameWriter creates a FrameWriter targeting the given stream.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes the header and body as a single atomic frame and flushes
// the underlying stream when it supports flushing.
func (w *FrameWriter) WriteFrame(body []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	frame := make([]byte, 0, len(body)+32)
	frame = fmt.Appendf(frame, "%s: %d%s", contentLengthHeader, len(body), headerTerminator)
	frame = append(frame, body...)

	if _, err := w.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	type flusher interface{ Flush() error }
	if f, ok := w.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("failed to flush frame: %w", err)
		}
	}
	return nil
}

// FrameDecoder splits a byte stream into discrete message bodies. It maintains
// a single growable accumulation buffer and never surfaces partial frames: a
// body is yielded only once the full header and Content-Length bytes are
// available. Malformed and oversized frames are dropped with a logged
// diagnostic, and decoding continues with the next frame on the stream.
type FrameDecoder struct {
	r        io.Reader
	maxBytes int
	logger   *slog.Logger

	buf []byte
	// discard counts body bytes of an oversized frame still to be consumed.
	// The remainder may span multiple future reads.
	discard int
}

// FrameDecoderOption represents the options for the FrameDecoder.
type FrameDecoderOption func(*FrameDecoder)

// WithMaxMessageBytes sets the largest Content-Length the decoder accepts.
// Zero or negative values fall back to DefaultMaxMessageBytes.
func WithMaxMessageBytes(n int) FrameDecoderOption {
	return func(d *FrameDecoder) {
		d.maxBytes = n
	}
}

// WithFrameLogger sets the logger used for dropped-frame diagnostics.
func WithFrameLogger(logger *slog.Logger) FrameDecoderOption {
	return func(d *FrameDecoder) {
		d.logger = logger.With(slog.String("component", "frame-decoder"))
	}
}

// NewFrameDecoder creates a FrameDecoder consuming the given stream.
func NewFrameDecoder(r io.Reader, options ...FrameDecoderOption) *FrameDecoder {
	d := &FrameDecoder{
		r:      r,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(d)
	}
	if d.maxBytes <= 0 {
		d.maxBytes = DefaultMaxMessageBytes
	}
	return d
}

// Frames returns an iterator yielding one message body per complete frame. The
// sequence is tied to the stream lifetime: it ends cleanly when the stream
// reaches EOF and is not restartable. All complete frames already buffered are
// yielded before the decoder waits for more input.
func (d *FrameDecoder) Frames() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		chunk := make([]byte, readChunkSize)
		for {
			for {
				body, ok := d.next()
				if !ok {
					break
				}
				if !yield(body) {
					return
				}
			}

			n, err := d.r.Read(chunk)
			if n > 0 {
				d.buf = append(d.buf, chunk[:n]...)
			}
			if err != nil {
				if err != io.EOF {
					d.logger.Error("failed to read stream", slog.String("err", err.Error()))
				}
				// Drain whatever complete frames the final read produced.
				for {
					body, ok := d.next()
					if !ok {
						return
					}
					if !yield(body) {
						return
					}
				}
			}
		}
	}
}

// next extracts a single complete frame from the accumulation buffer,
// compacting consumed bytes. It reports false when more input is needed.
func (d *FrameDecoder) next() ([]byte, bool) {
	for {
		if d.discard > 0 {
			n := min(d.discard, len(d.buf))
			d.buf = d.buf[n:]
			d.discard -= n
			if d.discard > 0 {
				return nil, false
			}
		}

		headerEnd := bytes.Index(d.buf, []byte(headerTerminator))
		if headerEnd < 0 {
			return nil, false
		}

		length, err := parseContentLength(d.buf[:headerEnd])
		if err != nil {
			d.logger.Warn("dropping malformed frame header",
				slog.String("header", string(d.buf[:headerEnd])),
				slog.String("err", err.Error()))
			d.buf = d.buf[headerEnd+len(headerTerminator):]
			continue
		}

		if length > d.maxBytes {
			d.logger.Warn("dropping oversized frame",
				slog.Int("contentLength", length),
				slog.Int("maxMessageBytes", d.maxBytes))
			d.buf = d.buf[headerEnd+len(headerTerminator):]
			d.discard = length
			continue
		}

		if len(d.buf) < headerEnd+len(headerTerminator)+length {
			return nil, false
		}

		start := headerEnd + len(headerTerminator)
		body := make([]byte, length)
		copy(body, d.buf[start:start+length])
		d.buf = d.buf[start+length:]
		return body, true
	}
}

// parseContentLength scans the colon-delimited header block for a
// Content-Length value. Unknown headers are ignored.
func parseContentLength(header []byte) (int, error) {
	for _, line := range strings.Split(string(header), "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(name), contentLengthHeader) {
			continue
		}
		length, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("non-numeric %s: %q", contentLengthHeader, strings.TrimSpace(value))
		}
		if length < 0 {
			return 0, fmt.Errorf("negative %s: %d", contentLengthHeader, length)
		}
		return length, nil
	}
	return 0, fmt.Errorf("missing %s header", contentLengthHeader)
}
