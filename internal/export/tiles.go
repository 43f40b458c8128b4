// SPDX-License-Identifier: MIT

// Package export persists spectrogram tiles together with their predicted
// genre label.
//
// A dump is a sequence of records, each laid out little-endian as:
//
//	magic   [4]byte  "SPGT"
//	version uint8
//	rows    uint16
//	cols    uint16
//	data    [rows*cols]float32, row-major
//	label   uint16 length + UTF-8 bytes
package export

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"unicode/utf8"
)

const (
	magic   = "SPGT"
	version = 1
)

// ErrBadRecord is returned when a dump does not match the record layout.
var ErrBadRecord = errors.New("malformed tile record")

// Record is one persisted tile.
type Record struct {
	Rows  int
	Cols  int
	Data  []float32
	Label string
}

// Writer appends records to a dump. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	count  int
}

// NewWriter writes records to w.
func NewWriter(w io.Writer) *Writer {
	tw := &Writer{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		tw.closer = c
	}
	return tw
}

// Create opens path for appending, creating it if needed.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open tile dump: %w", err)
	}
	return NewWriter(f), nil
}

// Write appends one record and flushes it.
func (tw *Writer) Write(rows, cols int, data []float32, label string) error {
	if rows <= 0 || cols <= 0 || rows > math.MaxUint16 || cols > math.MaxUint16 {
		return fmt.Errorf("tile shape %dx%d: %w", rows, cols, ErrBadRecord)
	}
	if len(data) != rows*cols {
		return fmt.Errorf("tile has %d values, want %d: %w", len(data), rows*cols, ErrBadRecord)
	}
	if len(label) > math.MaxUint16 || !utf8.ValidString(label) {
		return fmt.Errorf("label: %w", ErrBadRecord)
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()

	var hdr [9]byte
	copy(hdr[:4], magic)
	hdr[4] = version
	binary.LittleEndian.PutUint16(hdr[5:], uint16(rows))
	binary.LittleEndian.PutUint16(hdr[7:], uint16(cols))
	if _, err := tw.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := binary.Write(tw.w, binary.LittleEndian, data); err != nil {
		return fmt.Errorf("write tile: %w", err)
	}
	var n [2]byte
	binary.LittleEndian.PutUint16(n[:], uint16(len(label)))
	if _, err := tw.w.Write(n[:]); err != nil {
		return fmt.Errorf("write label: %w", err)
	}
	if _, err := tw.w.WriteString(label); err != nil {
		return fmt.Errorf("write label: %w", err)
	}
	if err := tw.w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	tw.count++
	return nil
}

// Count returns the number of records written.
func (tw *Writer) Count() int {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.count
}

// Close flushes and closes the underlying writer if it is closable.
func (tw *Writer) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if err := tw.w.Flush(); err != nil {
		return err
	}
	if tw.closer != nil {
		return tw.closer.Close()
	}
	return nil
}

// Reader iterates over the records of a dump.
type Reader struct {
	r *bufio.Reader
}

// NewReader reads records from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next record, or io.EOF at a clean end of input.
func (tr *Reader) Next() (Record, error) {
	var hdr [9]byte
	if _, err := io.ReadFull(tr.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("read header: %w", ErrBadRecord)
	}
	if string(hdr[:4]) != magic {
		return Record{}, fmt.Errorf("bad magic %q: %w", hdr[:4], ErrBadRecord)
	}
	if hdr[4] != version {
		return Record{}, fmt.Errorf("unsupported version %d: %w", hdr[4], ErrBadRecord)
	}

	rec := Record{
		Rows: int(binary.LittleEndian.Uint16(hdr[5:])),
		Cols: int(binary.LittleEndian.Uint16(hdr[7:])),
	}
	rec.Data = make([]float32, rec.Rows*rec.Cols)
	if err := binary.Read(tr.r, binary.LittleEndian, rec.Data); err != nil {
		return Record{}, fmt.Errorf("read tile: %w", ErrBadRecord)
	}

	var n [2]byte
	if _, err := io.ReadFull(tr.r, n[:]); err != nil {
		return Record{}, fmt.Errorf("read label: %w", ErrBadRecord)
	}
	label := make([]byte, binary.LittleEndian.Uint16(n[:]))
	if _, err := io.ReadFull(tr.r, label); err != nil {
		return Record{}, fmt.Errorf("read label: %w", ErrBadRecord)
	}
	rec.Label = string(label)
	return rec, nil
}

// ReadAll returns every record in r.
func ReadAll(r io.Reader) ([]Record, error) {
	tr := NewReader(r)
	var out []Record
	for {
		rec, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
