package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

// DefaultMaxFrameSize bounds the bytes buffered while waiting for a delimiter.
const DefaultMaxFrameSize = 1024 * 1024

// ErrFrameTooLarge is returned by Framer.Next when more than the configured
// maximum is buffered without a delimiter. The stream cannot be resynchronized
// after this error.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Framer reassembles delimiter-terminated frames from a byte stream that
// arrives in arbitrary chunks. It is not safe for concurrent use.
//
// Example:
//
//	f := protocol.NewFramer(protocol.DefaultMaxFrameSize)
//	for {
//		n, err := conn.Read(buf)
//		f.Write(buf[:n])
//		for {
//			frame, err := f.Next()
//			if err != nil || frame == nil {
//				break
//			}
//			handle(frame)
//		}
//	}
type Framer struct {
	buf     []byte
	start   int // first unconsumed byte
	scanned int // bytes after start already known to hold no delimiter
	max     int
}

// NewFramer returns a Framer that rejects frames longer than maxFrameSize.
// A non-positive maxFrameSize selects DefaultMaxFrameSize.
func NewFramer(maxFrameSize int) *Framer {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Framer{max: maxFrameSize}
}

// Write appends a chunk read from the stream. It never fails.
func (f *Framer) Write(p []byte) (int, error) {
	if f.start > 0 && f.start >= len(f.buf)/2 {
		n := copy(f.buf, f.buf[f.start:])
		f.buf = f.buf[:n]
		f.start = 0
	}
	f.buf = append(f.buf, p...)
	return len(p), nil
}

// Next returns the next complete frame without its delimiter, or nil when no
// complete frame is buffered yet. Empty frames are skipped. The returned slice
// is only valid until the next call to Write.
func (f *Framer) Next() ([]byte, error) {
	for {
		pending := f.buf[f.start:]
		idx := bytes.IndexByte(pending[f.scanned:], Delimiter)
		if idx < 0 {
			f.scanned = len(pending)
			if len(pending) > f.max {
				return nil, fmt.Errorf("%w: %d bytes buffered", ErrFrameTooLarge, len(pending))
			}
			return nil, nil
		}

		end := f.scanned + idx
		frame := pending[:end]
		f.start += end + 1
		f.scanned = 0

		if len(frame) > f.max {
			return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
		}
		if len(frame) == 0 {
			continue
		}
		return frame, nil
	}
}

// Buffered returns the number of bytes held for an incomplete frame.
func (f *Framer) Buffered() int {
	return len(f.buf) - f.start
}
