package logsink

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileSink writes each artifact to its own append-only file under root,
// creating parent directories on first write. Files are never truncated or
// deleted.
type FileSink struct {
	root string
}

func NewFileSink(root string) *FileSink {
	return &FileSink{root: root}
}

func (s *FileSink) Write(artifact string, p []byte) error {
	path := filepath.Join(s.root, filepath.FromSlash(artifact))
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(p); err != nil {
		return fmt.Errorf("append artifact: %w", err)
	}
	return nil
}
