package relay

import (
	"bytes"
	"strings"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// streamExtractor pulls text-event-stream payloads out of raw response
// bytes. Lines split across network chunks are buffered until their newline
// arrives, so payloads are not lost at chunk boundaries. Payload lines have
// the data prefix stripped; the terminal sentinel and bare keep-alive lines
// are skipped.
type streamExtractor struct {
	pending []byte
}

func newStreamExtractor() *streamExtractor {
	return &streamExtractor{pending: make([]byte, 0, 1024)}
}

func (e *streamExtractor) Consume(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	e.pending = append(e.pending, chunk...)
	var out []string
	for {
		idx := bytes.IndexByte(e.pending, '\n')
		if idx < 0 {
			return out
		}
		line := strings.TrimSpace(string(e.pending[:idx]))
		e.pending = e.pending[idx+1:]
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if payload == "" || payload == doneSentinel {
			continue
		}
		out = append(out, payload)
	}
}
