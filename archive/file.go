// Package archive persists raw inbound/outbound messages for audit,
// satisfying the coordinator's Archiver interface and the config
// package's archive_msg flag. The corpus has no structured audit-log
// library; every example that logs traffic for later review (the
// teacher's metric.go counters aside) just appends lines to a file, so
// this does the same, through the teacher's logger.Logger for the
// operational side and a plain append-only file for the archived
// payloads themselves.
package archive

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sysmex-bridge/astmhl7/logger"
)

// FileArchiver appends one line per archived message to Path, each
// prefixed with a timestamp, transaction label, and direction.
type FileArchiver struct {
	Path   string
	logger logger.Logger
	now    func() time.Time

	mu sync.Mutex
	f  *os.File
}

// NewFileArchiver opens (creating if necessary) the archive file at path
// for appending.
func NewFileArchiver(path string, l logger.Logger) (*FileArchiver, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}

	return &FileArchiver{Path: path, logger: l, now: time.Now, f: f}, nil
}

// Archive appends one record. On a write error it logs a warning and
// returns the error; the coordinator ignores that error, since archiving is
// audit-only.
func (a *FileArchiver) Archive(label, direction, raw string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	line := fmt.Sprintf("%s\t%s\t%s\t%q\n", a.now().UTC().Format(time.RFC3339Nano), label, direction, raw)

	if _, err := a.f.WriteString(line); err != nil {
		a.logger.Warn("archive: write failed", "path", a.Path, "error", err)

		return fmt.Errorf("archive: write: %w", err)
	}

	return nil
}

// Close closes the underlying file.
func (a *FileArchiver) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.f.Close()
}

// NoopArchiver discards every message; used when archive_msg is false.
type NoopArchiver struct{}

func (NoopArchiver) Archive(label, direction, raw string) error { return nil }
