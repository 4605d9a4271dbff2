// Package recorder logs detector responses to disk and plays them back.
//
// A log file is the magic string followed by records of
// [8 byte unix nanos][4 byte length][CBOR Entry], little endian.
package recorder

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/teslashibe/go-shopcam/pkg/detect"
)

const magic = "SHOPREC1"

// maxRecord bounds a single record on read.
const maxRecord = 16 << 20

// ErrClosed is returned when recording to a closed Writer.
var ErrClosed = errors.New("recorder: writer is closed")

// Entry is one recorded detector response.
type Entry struct {
	Seq    uint64         `cbor:"1,keyasint"`
	Device string         `cbor:"2,keyasint"`
	At     time.Time      `cbor:"3,keyasint"`
	Result *detect.Result `cbor:"4,keyasint"`
}

// Writer appends entries to a log file. It is safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
	enc  cbor.EncMode
}

// NewWriter creates a timestamped log file under dir.
func NewWriter(dir, prefix string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	timestamp := time.Now().Format("20060102_150405")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.bin", timestamp, prefix))
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w := bufio.NewWriterSize(f, 256*1024)
	if _, err := w.WriteString(magic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{path: path, f: f, w: w, enc: enc}, nil
}

// Path returns the log file path.
func (r *Writer) Path() string { return r.path }

// Record appends one detector response.
func (r *Writer) Record(seq uint64, device string, res *detect.Result) error {
	now := time.Now()
	payload, err := r.enc.Marshal(Entry{Seq: seq, Device: device, At: now, Result: res})
	if err != nil {
		return fmt.Errorf("recorder: encode: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return ErrClosed
	}
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(now.UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := r.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := r.w.Write(payload); err != nil {
		return err
	}
	return r.w.Flush()
}

// Close flushes and closes the file.
func (r *Writer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	if err := r.w.Flush(); err != nil {
		_ = r.f.Close()
		r.w = nil
		return err
	}
	err := r.f.Close()
	r.w = nil
	return err
}

// Reader iterates over a log.
type Reader struct {
	r io.Reader
}

// NewReader checks the magic and returns a reader positioned at the first
// record.
func NewReader(r io.Reader) (*Reader, error) {
	header := make([]byte, len(magic))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("recorder: read magic: %w", err)
	}
	if string(header) != magic {
		return nil, fmt.Errorf("recorder: unexpected magic %q", string(header))
	}
	return &Reader{r: bufio.NewReader(r)}, nil
}

// Next returns the next entry, or io.EOF at the end of the log. A record
// truncated by a crash also ends the log.
func (rd *Reader) Next() (*Entry, error) {
	var meta [12]byte
	if _, err := io.ReadFull(rd.r, meta[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	size := binary.LittleEndian.Uint32(meta[8:12])
	if size > maxRecord {
		return nil, fmt.Errorf("recorder: record of %d bytes exceeds limit", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(rd.r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}

	var e Entry
	if err := cbor.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("recorder: decode: %w", err)
	}
	if e.Result == nil {
		e.Result = &detect.Result{}
	}
	return &e, nil
}

// ReadFile loads every entry of a log file.
func ReadFile(path string) ([]*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rd, err := NewReader(f)
	if err != nil {
		return nil, err
	}
	var entries []*Entry
	for {
		e, err := rd.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
}
