package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
)

// Session is a bidirectional JSON-RPC message stream with a stable identity.
// StdIO provides the canonical implementation over standard input and output;
// tests substitute in-memory pipes.
type Session interface {
	ID() string
	Send(ctx context.Context, msg JSONRPCMessage) error
	Messages() iter.Seq[JSONRPCMessage]
	Stop()
}

// StdIO is a standard input/output transport carrying Content-Length framed
// JSON-RPC messages over an io.Reader/io.Writer pair. It provides a single
// persistent session and serializes writes through an internal channel so
// concurrent senders never interleave frames.
//
// Use NewStdIO to create instances and Stop to release the session's
// goroutines once the peer disconnects.
type StdIO struct {
	sessionID string
	writer    *FrameWriter
	decoder   *FrameDecoder
	logger    *slog.Logger
	maxBytes  int

	reading       atomic.Bool
	writeMessages chan stdIOMessage
	done          chan struct{}
	readClosed    chan struct{}
	writeClosed   chan struct{}
}

type stdIOMessage struct {
	body []byte
	errs chan error
}

// StdIOOption configures a StdIO transport.
type StdIOOption func(*StdIO)

// WithStdIOLogger sets the logger used for transport-level diagnostics. All
// diagnostics go to the logger, never to the writer, which carries frames
// exclusively.
func WithStdIOLogger(logger *slog.Logger) StdIOOption {
	return func(s *StdIO) {
		s.logger = logger
	}
}

// WithStdIOMaxMessageBytes caps the size of a single inbound frame body.
func WithStdIOMaxMessageBytes(n int) StdIOOption {
	return func(s *StdIO) {
		s.maxBytes = n
	}
}

// NewStdIO creates a transport reading frames from reader and writing frames
// to writer. The write pump starts immediately.
func NewStdIO(reader io.Reader, writer io.Writer, opts ...StdIOOption) *StdIO {
	s := &StdIO{
		sessionID:     uuid.New().String(),
		logger:        slog.Default(),
		maxBytes:      DefaultMaxMessageBytes,
		writeMessages: make(chan stdIOMessage),
		done:          make(chan struct{}),
		readClosed:    make(chan struct{}),
		writeClosed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.writer = NewFrameWriter(writer)
	s.decoder = NewFrameDecoder(reader,
		WithMaxMessageBytes(s.maxBytes),
		WithFrameLogger(s.logger.With(slog.String("component", "framing"))),
	)

	go s.processWriteMessages()
	return s
}

// ID returns the stable identifier assigned to this session at construction.
func (s *StdIO) ID() string {
	return s.sessionID
}

// Send marshals msg and queues it for writing as a single frame. It blocks
// until the frame has been written, the context expires, or the session stops.
func (s *StdIO) Send(ctx context.Context, msg JSONRPCMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ioMsg := stdIOMessage{
		body: body,
		errs: make(chan error, 1),
	}

	// Queue the message so concurrent senders serialize through one writer.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		s.logger.Warn("session is closed while queueing message", slog.String("method", msg.Method))
		return nil
	case s.writeMessages <- ioMsg:
	}

	select {
	case err := <-ioMsg.errs:
		if err != nil {
			s.logger.Error("failed to write frame", slog.String("err", err.Error()))
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		s.logger.Warn("session is closed while waiting for write result", slog.String("method", msg.Method))
		return nil
	}
}

// Messages returns an iterator over inbound JSON-RPC messages. Frame bodies
// that fail to parse as JSON-RPC are logged and skipped so one bad message
// never stalls the session. The iterator ends when the reader is exhausted or
// the session stops.
func (s *StdIO) Messages() iter.Seq[JSONRPCMessage] {
	return func(yield func(JSONRPCMessage) bool) {
		s.reading.Store(true)
		defer close(s.readClosed)

		frames := make(chan []byte)

		// Decode on a separate goroutine so a slow or blocked reader never
		// keeps us from observing done.
		go func() {
			defer close(frames)
			for body := range s.decoder.Frames() {
				select {
				case <-s.done:
					return
				case frames <- body:
				}
			}
		}()

		for {
			var body []byte
			var ok bool
			select {
			case <-s.done:
				return
			case body, ok = <-frames:
				if !ok {
					return
				}
			}

			msg, err := parseMessage(body)
			if err != nil {
				s.logger.Error("failed to parse inbound message", slog.String("err", err.Error()))
				continue
			}

			if !yield(msg) {
				return
			}
		}
	}
}

// Stop closes the session and waits for the read and write pumps to exit.
func (s *StdIO) Stop() {
	close(s.done)
	<-s.writeClosed
	if s.reading.Load() {
		<-s.readClosed
	}
}

func (s *StdIO) processWriteMessages() {
	defer close(s.writeClosed)

	for {
		var msg stdIOMessage
		select {
		case <-s.done:
			return
		case msg = <-s.writeMessages:
		}

		msg.errs <- s.writer.WriteFrame(msg.body)
	}
}
