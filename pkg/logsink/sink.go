package logsink

// Sink appends bytes to a named artifact. Artifact names are slash-separated
// relative paths. Implementations must be safe for concurrent use across
// artifacts; writes to one artifact arrive in call order because each
// transaction writes from a single goroutine.
type Sink interface {
	Write(artifact string, p []byte) error
}
