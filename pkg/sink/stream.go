package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/protocol/codec"
)

// Stream encodes every event with a codec and writes it to w. JSON records
// are newline terminated; CBOR records are written back to back as a CBOR
// sequence.
type Stream struct {
	mu      sync.Mutex
	w       *bufio.Writer
	c       io.Closer
	codec   codec.Codec
	newline bool
	errs    uint64
}

// NewStream wraps w. If w is an io.Closer, Close closes it.
func NewStream(w io.Writer, c codec.Codec) *Stream {
	s := &Stream{w: bufio.NewWriter(w), codec: c, newline: c.ContentType() == codec.ContentJSON}
	if cl, ok := w.(io.Closer); ok {
		s.c = cl
	}
	return s
}

// OpenStream appends to the file at path ("-" is stdout) using the named
// format (json or cbor).
func OpenStream(path, format string) (*Stream, error) {
	c, err := codec.NewRegistry().ByName(format)
	if err != nil {
		return nil, err
	}
	if path == "-" {
		return NewStream(os.Stdout, c), nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", path, err)
	}
	return NewStream(f, c), nil
}

func (s *Stream) Publish(ev Event) {
	b, err := s.codec.Marshal(ev)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		_, err = s.w.Write(b)
	}
	if err == nil && s.newline {
		err = s.w.WriteByte('\n')
	}
	if err == nil {
		err = s.w.Flush()
	}
	if err != nil {
		s.errs++
		if s.errs == 1 || s.errs%1000 == 0 {
			zap.L().Warn("event stream write failed", zap.Uint64("failures", s.errs), zap.Error(err))
		}
	}
}

// Close flushes and closes the underlying writer. Stdout is never closed.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.w.Flush()
	if s.c != nil && s.c != os.Stdout {
		if cerr := s.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
