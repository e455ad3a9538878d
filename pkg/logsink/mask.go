package logsink

import "strings"

const maskToken = "...***..."

// MaskSecret hides the middle of a credential header value, keeping a scheme
// word like "Bearer" and just enough of each end to recognize which key was
// used. Only the human-readable audit log sees the masked form; the bytes
// forwarded upstream carry the full value.
func MaskSecret(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	scheme := ""
	if i := strings.IndexByte(v, ' '); i > 0 {
		scheme, v = v[:i+1], strings.TrimSpace(v[i+1:])
	}
	if len(v) <= 8 {
		return scheme + maskToken
	}
	return scheme + v[:4] + maskToken + v[len(v)-4:]
}
