package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileVersion is written as the first event of every file.
const FileVersion = "brain.Event:2"

// Writer appends events to one event file.
type Writer struct {
	mu   sync.Mutex
	f    *os.File
	recs *RecordWriter
}

// Create makes dir and opens a new event file in it, named the way
// TensorFlow summary writers name theirs, with suffix appended.
func Create(dir, suffix string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "localhost"
	}
	now := time.Now()
	name := fmt.Sprintf("events.out.tfevents.%d.%s%s", now.Unix(), host, suffix)

	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	w := &Writer{f: f, recs: NewRecordWriter(f)}

	header := Event{WallTime: float64(now.UnixNano()) / 1e9, FileVersion: FileVersion}
	if err := w.WriteRaw(header.Marshal()); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// Path returns the file being written.
func (w *Writer) Path() string {
	return w.f.Name()
}

// WriteEvent appends one event.
func (w *Writer) WriteEvent(e *Event) error {
	return w.WriteRaw(e.Marshal())
}

// WriteRaw appends one already-serialized event.
func (w *Writer) WriteRaw(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.recs.Write(b)
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}
