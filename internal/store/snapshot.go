package store

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"golang.org/x/exp/mmap"

	"macropulse/internal/panel"
)

// Binary panel snapshot: a small self-describing header followed by
// fixed-size records, one per month. Records are read through an
// mmap-backed reader so standalone stages can reload the panel without
// parsing text.
//
// Layout (little endian):
//
//	magic "MPB1" | headerSize u32 | rows u32 | cols u32
//	cols x (nameLen u16 | name bytes)
//	rows x (unixSec i64 | cols x f64)

var (
	snapshotMagic  = [4]byte{'M', 'P', 'B', '1'}
	ErrBadSnapshot = errors.New("malformed panel snapshot")
)

func WriteSnapshot(path string, p *panel.Panel) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating snapshot %q: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	w := bufio.NewWriter(f)

	columns := p.Columns()
	headerSize := 16
	for _, c := range columns {
		headerSize += 2 + len(c)
	}

	if _, err := w.Write(snapshotMagic[:]); err != nil {
		return fmt.Errorf("writing snapshot header: %w", err)
	}
	for _, v := range []uint32{uint32(headerSize), uint32(p.Rows()), uint32(len(columns))} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("writing snapshot header: %w", err)
		}
	}
	for _, c := range columns {
		if err := binary.Write(w, binary.LittleEndian, uint16(len(c))); err != nil {
			return fmt.Errorf("writing column name: %w", err)
		}
		if _, err := w.WriteString(c); err != nil {
			return fmt.Errorf("writing column name: %w", err)
		}
	}

	dates := p.Dates()
	for i := 0; i < p.Rows(); i++ {
		if err := binary.Write(w, binary.LittleEndian, dates[i].Unix()); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
		for _, c := range columns {
			v, err := p.At(i, c)
			if err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, math.Float64bits(v)); err != nil {
				return fmt.Errorf("writing row %d: %w", i, err)
			}
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing snapshot: %w", err)
	}
	return f.Sync()
}

// SnapshotReader random-accesses one snapshot file.
type SnapshotReader struct {
	path    string
	reader  *mmap.ReaderAt
	columns []string
	rows    int
	dataOff int64
	rowSize int64
}

func OpenSnapshot(path string) (*SnapshotReader, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open snapshot %q: %w", path, err)
	}

	s := &SnapshotReader{path: path, reader: r}
	if err := s.readHeader(); err != nil {
		_ = r.Close()
		return nil, err
	}
	return s, nil
}

func (s *SnapshotReader) readHeader() error {
	head := make([]byte, 16)
	if _, err := s.reader.ReadAt(head, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	if [4]byte(head[:4]) != snapshotMagic {
		return fmt.Errorf("%w: bad magic", ErrBadSnapshot)
	}
	headerSize := binary.LittleEndian.Uint32(head[4:8])
	s.rows = int(binary.LittleEndian.Uint32(head[8:12]))
	cols := int(binary.LittleEndian.Uint32(head[12:16]))

	names := make([]byte, int(headerSize)-16)
	if _, err := s.reader.ReadAt(names, 16); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	off := 0
	for i := 0; i < cols; i++ {
		if off+2 > len(names) {
			return fmt.Errorf("%w: truncated column table", ErrBadSnapshot)
		}
		n := int(binary.LittleEndian.Uint16(names[off : off+2]))
		off += 2
		if off+n > len(names) {
			return fmt.Errorf("%w: truncated column name", ErrBadSnapshot)
		}
		s.columns = append(s.columns, string(names[off:off+n]))
		off += n
	}

	s.dataOff = int64(headerSize)
	s.rowSize = 8 + 8*int64(cols)

	want := s.dataOff + int64(s.rows)*s.rowSize
	if int64(s.reader.Len()) != want {
		return fmt.Errorf("%w: file size %d, want %d", ErrBadSnapshot, s.reader.Len(), want)
	}
	return nil
}

func (s *SnapshotReader) Close() {
	_ = s.reader.Close()
}

func (s *SnapshotReader) Rows() int         { return s.rows }
func (s *SnapshotReader) Columns() []string { return append([]string(nil), s.columns...) }

// ReadRow reads one record by index.
func (s *SnapshotReader) ReadRow(index int) (time.Time, []float64, error) {
	if index < 0 || index >= s.rows {
		return time.Time{}, nil, io.EOF
	}
	buf := make([]byte, s.rowSize)
	if _, err := s.reader.ReadAt(buf, s.dataOff+int64(index)*s.rowSize); err != nil {
		return time.Time{}, nil, fmt.Errorf("unable to read row %d: %w", index, err)
	}
	ts := time.Unix(int64(binary.LittleEndian.Uint64(buf[:8])), 0).UTC()
	values := make([]float64, len(s.columns))
	for j := range values {
		values[j] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8+8*j : 16+8*j]))
	}
	return ts, values, nil
}

// LoadSnapshot reconstructs the full panel from a snapshot file.
func LoadSnapshot(path string) (*panel.Panel, error) {
	r, err := OpenSnapshot(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	dates := make([]time.Time, r.Rows())
	rows := make([][]float64, r.Rows())
	for i := 0; i < r.Rows(); i++ {
		ts, values, err := r.ReadRow(i)
		if err != nil {
			return nil, err
		}
		dates[i] = ts
		rows[i] = values
	}

	p, err := panel.New(dates, r.Columns())
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		for j, c := range r.Columns() {
			if err := p.Set(i, c, row[j]); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}
