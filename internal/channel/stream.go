package channel

import (
	"errors"
	"io"
	"os"

	"github.com/mattjoyce/testworker/internal/protocol"
)

// StreamTransport carries newline-delimited JSON frames over a byte stream.
type StreamTransport struct {
	dec     *protocol.Decoder
	enc     *protocol.Encoder
	closers []io.Closer
}

// NewStreamTransport reads frames from r and writes them to w. Close closes
// closers in order.
func NewStreamTransport(r io.Reader, w io.Writer, closers ...io.Closer) *StreamTransport {
	return &StreamTransport{
		dec:     protocol.NewDecoder(r),
		enc:     protocol.NewEncoder(w),
		closers: closers,
	}
}

// Stdio is the transport a worker uses when the host launched it with pipes
// on stdin and stdout.
func Stdio() *StreamTransport {
	return NewStreamTransport(os.Stdin, os.Stdout, os.Stdout, os.Stdin)
}

func (t *StreamTransport) ReadFrame(f *protocol.Frame) error {
	return t.dec.Decode(f)
}

func (t *StreamTransport) WriteFrame(f *protocol.Frame) error {
	return t.enc.Encode(f)
}

func (t *StreamTransport) Close() error {
	var errs []error
	for _, c := range t.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pipe returns two connected in-memory transports.
func Pipe() (*StreamTransport, *StreamTransport) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	a := NewStreamTransport(ar, aw, aw, ar)
	b := NewStreamTransport(br, bw, bw, br)
	return a, b
}
