package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/lkarlslund/relaytap/pkg/logsink"
	"github.com/lkarlslund/relaytap/pkg/normalize"
	"github.com/lkarlslund/relaytap/pkg/sequence"
)

const streamChunkSize = 32 * 1024

const (
	combinedSuffix = ".log"
	requestSuffix  = ".request.json"
	streamSuffix   = ".stream.log"
)

// relayHandler runs one transaction end to end: admission, body buffering,
// normalization, upstream dispatch, response streaming, audit writes. The
// whole inbound body is buffered before anything goes upstream; that bounds
// memory by max_body_bytes and keeps the recomputed Content-Length honest.
func (s *Server) relayHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		s.handleRoot(w, r)
		return
	}
	if !s.admit(r.URL.Path) {
		s.logger.Warn("forbidden", "method", r.Method, "path", r.URL.Path, "client", clientAddr(r))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	tx := s.seq.Next()
	combined := tx.Artifact(combinedSuffix)

	var head bytes.Buffer
	fmt.Fprintf(&head, "[#%06d] %s %s %s\n", tx.Seq, tx.StartedAt.Format(time.RFC3339Nano), r.Method, r.URL.RequestURI())
	fmt.Fprintf(&head, "client: %s\n", clientAddr(r))
	writeMaskedHeaders(&head, r.Header)
	head.WriteByte('\n')
	s.appendArtifact(combined, head.Bytes())

	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes+1))
	if err != nil {
		s.failTransaction(w, r, tx, combined, http.StatusInternalServerError, fmt.Errorf("read request body: %w", err))
		return
	}
	if int64(len(body)) > s.cfg.MaxBodyBytes {
		s.failTransaction(w, r, tx, combined, http.StatusRequestEntityTooLarge,
			fmt.Errorf("request body exceeds %d bytes", s.cfg.MaxBodyBytes))
		return
	}

	outBody, events := normalize.Apply(r.Header.Get("Content-Type"), body, normalize.Options{
		ModelOverride: s.cfg.ModelOverride,
	})
	for _, ev := range events {
		s.appendArtifact(combined, []byte("rewrite: "+string(ev)+"\n"))
	}
	if len(outBody) > 0 {
		s.appendArtifact(combined, append(append([]byte(nil), outBody...), '\n'))
		if pretty := prettyJSON(outBody); pretty != nil {
			s.appendArtifact(tx.Artifact(requestSuffix), pretty)
		}
	}

	req, err := s.buildUpstreamRequest(r, outBody)
	if err != nil {
		s.failTransaction(w, r, tx, combined, http.StatusInternalServerError, fmt.Errorf("build upstream request: %w", err))
		return
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.appendArtifact(combined, []byte("upstream error: "+err.Error()+"\n"))
		s.logger.Error("upstream dispatch failed", "seq", tx.Seq, "path", r.URL.Path, "err", err)
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		s.publishSummary(tx, r, http.StatusBadGateway, 0)
		return
	}
	defer resp.Body.Close()

	var respHead bytes.Buffer
	fmt.Fprintf(&respHead, "\nresponse: %s\n", resp.Status)
	writeMaskedHeaders(&respHead, resp.Header)
	respHead.WriteByte('\n')
	s.appendArtifact(combined, respHead.Bytes())

	// Mirror status and headers as soon as they arrive. Content-Length is
	// dropped because the body is re-chunked on the way through.
	for k, vals := range resp.Header {
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	written := s.streamResponse(w, flusher, resp, tx, combined)
	if written < 0 {
		return
	}

	elapsed := time.Since(tx.StartedAt)
	s.appendArtifact(combined, []byte(fmt.Sprintf("\ncompleted: status=%d bytes=%d elapsed=%s\n",
		resp.StatusCode, written, elapsed.Round(time.Millisecond))))
	s.publishSummary(tx, r, resp.StatusCode, written)
	s.logger.Info("relayed", "seq", tx.Seq, "method", r.Method, "path", r.URL.Path,
		"status", resp.StatusCode, "bytes", written, "elapsed", elapsed.Round(time.Millisecond))
}

// streamResponse copies the upstream body to the caller chunk by chunk while
// appending the same bytes to the combined artifact and feeding the
// event-stream extractor. Returns bytes forwarded, or -1 when the transaction
// already terminated (artifact holds a truncated but valid record).
func (s *Server) streamResponse(w http.ResponseWriter, flusher http.Flusher, resp *http.Response, tx sequence.Transaction, combined string) int64 {
	extractor := newStreamExtractor()
	var written int64
	buf := make([]byte, streamChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			s.appendArtifact(combined, chunk)
			if lines := extractor.Consume(chunk); len(lines) > 0 {
				s.appendArtifact(tx.Artifact(streamSuffix), joinLines(lines))
			}
			if _, werr := w.Write(chunk); werr != nil {
				s.appendArtifact(combined, []byte(fmt.Sprintf("\nclient write aborted after %d bytes: %v\n", written, werr)))
				s.logger.Warn("client aborted mid-stream", "seq", tx.Seq, "bytes", written, "err", werr)
				return -1
			}
			written += int64(n)
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return written
			}
			s.appendArtifact(combined, []byte(fmt.Sprintf("\nupstream read error after %d bytes: %v\n", written, readErr)))
			s.logger.Error("upstream stream broke", "seq", tx.Seq, "bytes", written, "err", readErr)
			return -1
		}
	}
}

func (s *Server) buildUpstreamRequest(r *http.Request, body []byte) (*http.Request, error) {
	u := *s.upstream
	u.Path = joinPath(s.upstream.Path, r.URL.Path)
	u.RawQuery = r.URL.RawQuery
	req, err := http.NewRequestWithContext(r.Context(), r.Method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, vals := range r.Header {
		// Host is implied by the upstream URL. Accept-Encoding is dropped to
		// force an uncompressed response the audit trail can read.
		// Content-Length is recomputed from the normalized body.
		if strings.EqualFold(k, "Host") || strings.EqualFold(k, "Accept-Encoding") || strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.ContentLength = int64(len(body))
	if s.cfg.UpstreamAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.UpstreamAPIKey)
	}
	return req, nil
}

// admit matches the request path against the allow-list. An empty allow-list
// admits everything.
func (s *Server) admit(path string) bool {
	if len(s.cfg.AllowedPathPrefixes) == 0 {
		return true
	}
	normalized := path
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if !strings.HasSuffix(normalized, "/") {
		normalized += "/"
	}
	for _, prefix := range s.cfg.AllowedPathPrefixes {
		if strings.HasPrefix(normalized, prefix) {
			return true
		}
	}
	return false
}

func (s *Server) failTransaction(w http.ResponseWriter, r *http.Request, tx sequence.Transaction, combined string, status int, err error) {
	s.appendArtifact(combined, []byte("error: "+err.Error()+"\n"))
	s.logger.Error("transaction failed", "seq", tx.Seq, "status", status, "err", err)
	http.Error(w, http.StatusText(status), status)
	s.publishSummary(tx, r, status, 0)
}

// appendArtifact is best-effort: a sink failure is surfaced to the operator
// but never changes the client-visible outcome.
func (s *Server) appendArtifact(name string, p []byte) {
	if err := s.sink.Write(name, p); err != nil {
		s.logger.Warn("audit write failed", "artifact", name, "err", err)
	}
}

func (s *Server) publishSummary(tx sequence.Transaction, r *http.Request, status int, written int64) {
	s.tail.publish(fmt.Sprintf("#%06d %s %s -> %d (%d bytes, %s)",
		tx.Seq, r.Method, r.URL.Path, status, written, time.Since(tx.StartedAt).Round(time.Millisecond)))
}

var maskedHeaders = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
	"x-api-key":           {},
}

func writeMaskedHeaders(buf *bytes.Buffer, h http.Header) {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			if _, masked := maskedHeaders[strings.ToLower(k)]; masked {
				v = logsink.MaskSecret(v)
			}
			fmt.Fprintf(buf, "%s: %s\n", k, v)
		}
	}
}

func prettyJSON(b []byte) []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, b, "", "  "); err != nil {
		return nil
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

func joinPath(base, p string) string {
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return base + p
}

func joinLines(lines []string) []byte {
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func clientAddr(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return ""
	}
	if parsed, _, err := net.SplitHostPort(host); err == nil {
		return parsed
	}
	return host
}
