// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tfrecord reads and writes the TFRecord container format.
//
// Each record is framed as:
//
//	uint64 length
//	uint32 masked CRC-32C of length
//	byte   data[length]
//	uint32 masked CRC-32C of data
//
// All integers are little-endian. The same framing is used by TensorBoard event files.
package tfrecord

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
)

const (
	headerSize = 8 + 4
	footerSize = 4
	maskDelta  = 0xa282ead8
)

// ErrChecksum is returned when the length or the data of a record doesn't match its checksum.
var ErrChecksum = errors.New("tfrecord: checksum mismatch")

// ErrRecordTooLarge is returned when a record header declares a length above MaxRecordSize.
var ErrRecordTooLarge = errors.New("tfrecord: record too large")

// MaxRecordSize is the largest record length accepted by Reader.
const MaxRecordSize = 1 << 30

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// MaskedCRC returns the masked CRC-32C of data, as stored in TFRecord files.
func MaskedCRC(data []byte) uint32 {
	crc := crc32.Checksum(data, crc32cTable)
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// Reader reads records sequentially from an io.Reader.
// It is not safe for concurrent use.
type Reader struct {
	r      *bufio.Reader
	verify bool
	header [headerSize]byte
	footer [footerSize]byte
	count  int
}

// NewReader creates a Reader with checksum verification enabled.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 1<<16), verify: true}
}

// WithVerify configures whether checksums are verified. It returns itself.
func (r *Reader) WithVerify(verify bool) *Reader {
	r.verify = verify
	return r
}

// Count returns the number of records read or skipped so far.
func (r *Reader) Count() int { return r.count }

// readHeader returns the length of the next record.
// It returns io.EOF if the stream ends exactly at a record boundary.
func (r *Reader) readHeader() (uint64, error) {
	n, err := io.ReadFull(r.r, r.header[:])
	if err != nil {
		if err == io.EOF && n == 0 {
			return 0, io.EOF
		}
		return 0, io.ErrUnexpectedEOF
	}
	length := binary.LittleEndian.Uint64(r.header[:8])
	if r.verify {
		if binary.LittleEndian.Uint32(r.header[8:]) != MaskedCRC(r.header[:8]) {
			return 0, errors.Wrapf(ErrChecksum, "length of record #%d", r.count)
		}
	}
	if length > MaxRecordSize {
		return 0, errors.Wrapf(ErrRecordTooLarge, "record #%d declares %d bytes", r.count, length)
	}
	return length, nil
}

// Next returns the payload of the next record, or io.EOF when there are no more records.
// A truncated record returns io.ErrUnexpectedEOF.
func (r *Reader) Next() ([]byte, error) {
	length, err := r.readHeader()
	if err != nil {
		return nil, err
	}
	// Buffer grows with the data actually read, so a corrupt length can't force a large allocation.
	data, err := io.ReadAll(io.LimitReader(r.r, int64(length)))
	if err != nil || uint64(len(data)) != length {
		return nil, io.ErrUnexpectedEOF
	}
	if _, err = io.ReadFull(r.r, r.footer[:]); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	if r.verify && binary.LittleEndian.Uint32(r.footer[:]) != MaskedCRC(data) {
		return nil, errors.Wrapf(ErrChecksum, "data of record #%d", r.count)
	}
	r.count++
	return data, nil
}

// Skip jumps over the next record without verifying its data, and returns its payload length.
// It returns io.EOF when there are no more records.
func (r *Reader) Skip() (int64, error) {
	length, err := r.readHeader()
	if err != nil {
		return 0, err
	}
	toDiscard := int64(length) + footerSize
	discarded, err := io.CopyN(io.Discard, r.r, toDiscard)
	if err != nil || discarded != toDiscard {
		return 0, io.ErrUnexpectedEOF
	}
	r.count++
	return int64(length), nil
}

// Writer writes framed records to an io.Writer. Call Flush when done.
// It is not safe for concurrent use.
type Writer struct {
	w      *bufio.Writer
	header [headerSize]byte
	footer [footerSize]byte
}

// NewWriter creates a Writer on top of w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write appends one record with the given payload.
func (w *Writer) Write(data []byte) error {
	binary.LittleEndian.PutUint64(w.header[:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(w.header[8:], MaskedCRC(w.header[:8]))
	binary.LittleEndian.PutUint32(w.footer[:], MaskedCRC(data))
	for _, part := range [][]byte{w.header[:], data, w.footer[:]} {
		if _, err := w.w.Write(part); err != nil {
			return errors.Wrap(err, "tfrecord: failed to write record")
		}
	}
	return nil
}

// Flush writes any buffered data to the underlying io.Writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}
