package log

import (
	"io"
	"os"
	"sync"

	"github.com/keithlinneman/securelogin-web/internal/xerrors"
)

// appendFile is the flat-file log target. Records are written whole by the
// slog handler; the mutex only guards close against late writes.
type appendFile struct {
	mu     sync.Mutex
	f      *os.File
	closed bool
}

func openAppend(path string) (*appendFile, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open log file %s", path)
	}
	return &appendFile{f: f}, nil
}

func (a *appendFile) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return len(p), nil
	}
	return a.f.Write(p)
}

func (a *appendFile) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if err := a.f.Sync(); err != nil {
		_ = a.f.Close()
		return xerrors.Wrap(err, "sync log file")
	}
	return a.f.Close()
}

// fileFirst writes each record to the log file before the console. The file
// is the durable record, so a closed or broken stdout is ignored instead of
// stopping the write the way io.MultiWriter would.
type fileFirst struct {
	file    *appendFile
	console io.Writer
}

func (w fileFirst) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	_, _ = w.console.Write(p)
	return n, err
}
