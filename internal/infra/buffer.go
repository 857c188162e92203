package infra

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"io"
	"path/filepath"
	"sync"

	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
)

// bufferRecord is one line of the buffer file.
type bufferRecord struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Name      string  `json:"name,omitempty"`
	Host      string  `json:"host,omitempty"`
	Timestamp float64 `json:"timestamp"` // Unix seconds
}

// EncodeRecord renders an event as one buffer line (without the newline).
func EncodeRecord(ev domain.ViolationEvent) ([]byte, error) {
	rec := bufferRecord{
		ID:        ev.ID,
		Type:      string(ev.Kind),
		Timestamp: float64(ev.Timestamp.UnixNano()) / 1e9,
	}
	if ev.Kind == domain.KindNetwork {
		rec.Host = ev.Subject
	} else {
		rec.Name = ev.Subject
	}
	return json.Marshal(rec)
}

// Upload batch limits used unless WithBatchLimit overrides them.
const (
	DefaultBatchRecords = 500
	DefaultBatchBytes   = 1 << 20
)

// FileBuffer implements domain.EventBuffer with a newline-delimited JSON file.
// Every operation holds an in-process mutex and an exclusive lock on a
// sidecar lock file, so the daemon and a one-shot CLI flush can share it.
type FileBuffer struct {
	path       string
	maxRecords int
	maxBytes   int
	mu         sync.Mutex
}

// NewFileBuffer creates a buffer at path, creating the parent directory.
func NewFileBuffer(path string) (*FileBuffer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create buffer directory: %w", err)
	}
	return &FileBuffer{
		path:       path,
		maxRecords: DefaultBatchRecords,
		maxBytes:   DefaultBatchBytes,
	}, nil
}

// WithBatchLimit caps how many records, and how many record bytes, one
// Pending batch may hold. Non-positive values keep the current limit. A
// single record larger than maxBytes still forms a batch on its own.
func (b *FileBuffer) WithBatchLimit(maxRecords, maxBytes int) *FileBuffer {
	if maxRecords > 0 {
		b.maxRecords = maxRecords
	}
	if maxBytes > 0 {
		b.maxBytes = maxBytes
	}
	return b
}

// Path returns the buffer file path.
func (b *FileBuffer) Path() string {
	return b.path
}

// Append writes one record and fsyncs before returning. If a crash left the
// file ending in a partial line, that line is terminated first so the new
// record starts on a line of its own.
func (b *FileBuffer) Append(ev domain.ViolationEvent) error {
	line, err := EncodeRecord(ev)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	line = append(line, '\n')

	return b.withLock(func() error {
		f, err := os.OpenFile(b.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0600)
		if err != nil {
			return fmt.Errorf("open buffer: %w", err)
		}
		torn, err := endsMidLine(f)
		if err != nil {
			f.Close()
			return fmt.Errorf("inspect buffer: %w", err)
		}
		if torn {
			line = append([]byte{'\n'}, line...)
		}
		if _, err := f.Write(line); err != nil {
			f.Close()
			return fmt.Errorf("write buffer: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("sync buffer: %w", err)
		}
		return f.Close()
	})
}

// DrainAll reads and removes every record in one locked step.
func (b *FileBuffer) DrainAll() ([][]byte, error) {
	var records [][]byte
	err := b.withLock(func() error {
		data, err := b.readLocked()
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return nil
		}
		records = splitRecords(data)
		if err := os.Truncate(b.path, 0); err != nil {
			return fmt.Errorf("truncate buffer: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Pending reads the oldest records, up to the batch limit, without removing
// them. Unreadable lines in that span are left out of Records but covered
// by the batch, so acking it clears them too.
func (b *FileBuffer) Pending() (domain.BufferBatch, error) {
	var batch domain.BufferBatch
	err := b.withLock(func() error {
		data, err := b.readLocked()
		if err != nil {
			return err
		}
		records, size := headRecords(data, b.maxRecords, b.maxBytes)
		batch = domain.NewBufferBatch(records, size, fingerprint(data[:size]))
		return nil
	})
	return batch, err
}

// Ack removes the bytes covered by batch and keeps anything appended since.
// If the head of the file no longer matches the batch, nothing is removed and
// domain.ErrAckMismatch is returned.
func (b *FileBuffer) Ack(batch domain.BufferBatch) error {
	if batch.Size() == 0 {
		return nil
	}
	return b.withLock(func() error {
		data, err := b.readLocked()
		if err != nil {
			return err
		}
		size := batch.Size()
		if int64(len(data)) < size || fingerprint(data[:size]) != batch.Token() {
			return domain.ErrAckMismatch
		}
		return b.atomicWrite(data[size:])
	})
}

// Len returns the number of buffered records.
func (b *FileBuffer) Len() (int, error) {
	var n int
	err := b.withLock(func() error {
		data, err := b.readLocked()
		if err != nil {
			return err
		}
		n = len(splitRecords(data))
		return nil
	})
	return n, err
}

func (b *FileBuffer) withLock(fn func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return withFileLock(b.path+".lock", fn)
}

// endsMidLine reports whether f is non-empty and its last byte is not a
// newline.
func endsMidLine(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil && err != io.EOF {
		return false, err
	}
	return last[0] != '\n', nil
}

func (b *FileBuffer) readLocked() ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read buffer: %w", err)
	}
	return data, nil
}

// atomicWrite replaces the buffer contents (write temp + fsync + rename).
func (b *FileBuffer) atomicWrite(data []byte) error {
	tmpPath := fmt.Sprintf("%s.%d.tmp", b.path, os.Getpid())
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open temp buffer: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp buffer: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp buffer: %w", err)
	}
	f.Close()

	if err := os.Rename(tmpPath, b.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace buffer: %w", err)
	}
	return nil
}

// splitRecords returns every readable record in data. Blank lines and lines
// that are not a JSON value (a write torn by a crash) are skipped.
func splitRecords(data []byte) [][]byte {
	records, _ := headRecords(data, 0, 0)
	return records
}

// headRecords walks data line by line and returns the leading records that
// fit within maxRecords and maxBytes (zero means unlimited), plus the number
// of bytes consumed. The first record is always taken.
func headRecords(data []byte, maxRecords, maxBytes int) ([][]byte, int64) {
	var records [][]byte
	recordBytes := 0
	offset := 0
	for offset < len(data) {
		next := len(data)
		if i := bytes.IndexByte(data[offset:], '\n'); i >= 0 {
			next = offset + i + 1
		}
		if line, ok := parseRecordLine(data[offset:next]); ok {
			if len(records) > 0 {
				if maxRecords > 0 && len(records) >= maxRecords {
					break
				}
				if maxBytes > 0 && recordBytes+len(line) > maxBytes {
					break
				}
			}
			records = append(records, line)
			recordBytes += len(line)
		}
		offset = next
	}
	return records, int64(offset)
}

func parseRecordLine(raw []byte) ([]byte, bool) {
	line := bytes.TrimSpace(raw)
	if len(line) == 0 || !json.Valid(line) {
		return nil, false
	}
	return append([]byte(nil), line...), true
}

func fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Ensure FileBuffer implements domain.EventBuffer.
var _ domain.EventBuffer = (*FileBuffer)(nil)
