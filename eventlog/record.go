package eventlog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Record framing errors.
var (
	// ErrTruncated reports a record cut off by the end of the stream. Writers
	// append whole records, so this normally means the tail is still being
	// written.
	ErrTruncated = errors.New("eventlog: truncated record")

	// ErrCorrupt reports a checksum mismatch.
	ErrCorrupt = errors.New("eventlog: corrupt record")
)

const (
	headerSize  = 12 // length + length crc
	footerSize  = 4
	maxRecordSz = 1 << 30
)

// maskedCRC returns the masked CRC-32C used by TFRecord framing.
func maskedCRC(b []byte) uint32 {
	crc := crc32.Checksum(b, castagnoli)
	return ((crc >> 15) | (crc << 17)) + 0xa282ead8
}

// RecordReader reads TFRecord frames.
type RecordReader struct {
	r      *bufio.Reader
	offset int64
}

// NewRecordReader reads frames from r.
func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{r: bufio.NewReaderSize(r, 64<<10)}
}

// Offset is the number of bytes consumed by complete records so far.
func (rr *RecordReader) Offset() int64 {
	return rr.offset
}

// Next returns the payload of the next record. It returns io.EOF at a clean
// end of stream and ErrTruncated when the stream ends mid-record; in both
// cases Offset still points at the start of the unread record.
func (rr *RecordReader) Next() ([]byte, error) {
	var header [headerSize]byte
	if err := rr.readFull(header[:]); err != nil {
		return nil, err
	}

	length := binary.LittleEndian.Uint64(header[:8])
	if got, want := maskedCRC(header[:8]), binary.LittleEndian.Uint32(header[8:]); got != want {
		return nil, fmt.Errorf("%w: length crc %#x, want %#x", ErrCorrupt, got, want)
	}
	if length > maxRecordSz {
		return nil, fmt.Errorf("%w: record length %d", ErrCorrupt, length)
	}

	buf := make([]byte, int(length)+footerSize)
	if err := rr.readFull(buf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}

	data := buf[:length]
	if got, want := maskedCRC(data), binary.LittleEndian.Uint32(buf[length:]); got != want {
		return nil, fmt.Errorf("%w: data crc %#x, want %#x", ErrCorrupt, got, want)
	}

	rr.offset += int64(headerSize + len(buf))
	return data, nil
}

func (rr *RecordReader) readFull(b []byte) error {
	n, err := io.ReadFull(rr.r, b)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && n == 0:
		return io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return ErrTruncated
	default:
		return err
	}
}

// RecordWriter writes TFRecord frames.
type RecordWriter struct {
	w io.Writer
}

// NewRecordWriter writes frames to w.
func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{w: w}
}

// Write appends one record holding data.
func (rw *RecordWriter) Write(data []byte) error {
	frame := make([]byte, headerSize, headerSize+len(data)+footerSize)
	binary.LittleEndian.PutUint64(frame[:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(frame[8:], maskedCRC(frame[:8]))
	frame = append(frame, data...)
	frame = binary.LittleEndian.AppendUint32(frame, maskedCRC(data))
	_, err := rw.w.Write(frame)
	return err
}
