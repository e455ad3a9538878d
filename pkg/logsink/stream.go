package logsink

import (
	"fmt"
	"io"
	"sync"
)

// StreamSink writes all artifacts through to a single writer, typically the
// operator console. A banner line marks the point where output switches to a
// different artifact, so interleaved transactions stay readable.
type StreamSink struct {
	mu   sync.Mutex
	out  io.Writer
	last string
}

func NewStreamSink(out io.Writer) *StreamSink {
	return &StreamSink{out: out}
}

func (s *StreamSink) Write(artifact string, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if artifact != s.last {
		if _, err := fmt.Fprintf(s.out, "==== %s ====\n", artifact); err != nil {
			return err
		}
		s.last = artifact
	}
	if _, err := s.out.Write(p); err != nil {
		return err
	}
	if len(p) > 0 && p[len(p)-1] != '\n' {
		if _, err := io.WriteString(s.out, "\n"); err != nil {
			return err
		}
	}
	return nil
}
