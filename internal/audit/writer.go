package audit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	ErrWriterClosed = errors.New("audit writer closed")
)

const defaultSegmentMaxBytes int64 = 256 << 20

// WriterConfig controls the JSONL audit writer.
type WriterConfig struct {
	Dir             string
	FilePrefix      string
	RunID           string
	ExecID          string
	SegmentMaxBytes int64
}

func (c WriterConfig) withDefaults() WriterConfig {
	if c.FilePrefix == "" {
		c.FilePrefix = "audit"
	}
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	return c
}

// Validate checks if the configuration is usable.
func (c WriterConfig) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("invalid audit config: Dir is empty")
	}
	if c.RunID == "" {
		return fmt.Errorf("invalid audit config: RunID is empty")
	}
	if c.SegmentMaxBytes < 0 {
		return fmt.Errorf("invalid audit config: SegmentMaxBytes must be >= 0")
	}
	return nil
}

// Writer appends events to JSONL segments. Every write is flushed and
// fsynced before Write returns: a record is either durably on disk or
// the call failed. Format is pure append, one object per line, no
// compaction, so retention is an operator concern over whole files.
//
// A Writer is a single logical writer per output directory; concurrent
// producers go through Pipeline.
type Writer struct {
	cfg WriterConfig

	mu     sync.Mutex
	file   *os.File
	size   int64
	segID  uint64
	closed bool
}

// NewWriter creates a writer and ensures the target directory exists.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{cfg: cfg}, nil
}

// Write validates, stamps correlation ids, and durably appends one
// event. The writer's run_id/exec_id override whatever the caller set,
// so every record on disk correlates to this run. No byte is appended
// when validation fails.
func (w *Writer) Write(event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	event.RunID = w.cfg.RunID
	if w.cfg.ExecID != "" {
		event.ExecID = w.cfg.ExecID
	}

	line, err := event.MarshalJSON()
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if err := w.rotateLocked(int64(len(line))); err != nil {
		return err
	}
	if _, err := w.file.Write(line); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.size += int64(len(line))
	return nil
}

// Close syncs and closes the current segment. Further writes fail with
// ErrWriterClosed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.file == nil {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		return err
	}
	return w.file.Close()
}

func (w *Writer) rotateLocked(nextSize int64) error {
	if w.file != nil && w.size+nextSize <= w.cfg.SegmentMaxBytes {
		return nil
	}
	if w.file != nil {
		if err := w.file.Sync(); err != nil {
			return err
		}
		if err := w.file.Close(); err != nil {
			return err
		}
		w.file = nil
	}

	ts := time.Now().UTC().Format("20060102-150405")
	for {
		w.segID++
		name := fmt.Sprintf("%s-%s-%06d.jsonl", w.cfg.FilePrefix, ts, w.segID)
		path := filepath.Join(w.cfg.Dir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return err
		}
		w.file = file
		w.size = 0
		return nil
	}
}
