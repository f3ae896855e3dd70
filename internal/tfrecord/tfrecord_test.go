// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tfrecord

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRecords(t *testing.T, payloads ...[]byte) []byte {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, p := range payloads {
		require.NoError(t, w.Write(p))
	}
	require.NoError(t, w.Flush())
	return buf.Bytes()
}

func TestReadWrite(t *testing.T) {
	payloads := [][]byte{[]byte("first"), {}, bytes.Repeat([]byte{0xAB}, 100_000)}
	data := writeRecords(t, payloads...)
	assert.Len(t, data, 3*(headerSize+footerSize)+5+100_000)

	r := NewReader(bytes.NewReader(data))
	for ii, want := range payloads {
		got, err := r.Next()
		require.NoErrorf(t, err, "record #%d", ii)
		assert.Equal(t, want, got)
	}
	_, err := r.Next()
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 3, r.Count())
}

func TestMaskedCRC(t *testing.T) {
	// CRC-32C("123456789") = 0xE3069283, rotated right by 15 bits and offset.
	assert.Equal(t, uint32(0xC78AB0E5), MaskedCRC([]byte("123456789")))
	assert.NotEqual(t, MaskedCRC(make([]byte, 8)), MaskedCRC([]byte{1, 0, 0, 0, 0, 0, 0, 0}))
}

func TestChecksumErrors(t *testing.T) {
	data := writeRecords(t, []byte("hello world"))

	t.Run("data", func(t *testing.T) {
		corrupted := bytes.Clone(data)
		corrupted[headerSize+2] ^= 0xFF
		_, err := NewReader(bytes.NewReader(corrupted)).Next()
		require.ErrorIs(t, err, ErrChecksum)

		// Without verification the corrupted payload is returned.
		got, err := NewReader(bytes.NewReader(corrupted)).WithVerify(false).Next()
		require.NoError(t, err)
		assert.Len(t, got, len("hello world"))
	})

	t.Run("length", func(t *testing.T) {
		corrupted := bytes.Clone(data)
		corrupted[9] ^= 0x01
		_, err := NewReader(bytes.NewReader(corrupted)).Next()
		require.ErrorIs(t, err, ErrChecksum)
	})
}

func TestTruncated(t *testing.T) {
	data := writeRecords(t, []byte("hello world"), []byte("second"))
	for _, cut := range []int{3, headerSize + 4, len(data) - 2} {
		r := NewReader(bytes.NewReader(data[:cut]))
		var err error
		for err == nil {
			_, err = r.Next()
		}
		assert.Equalf(t, io.ErrUnexpectedEOF, err, "cut at %d bytes", cut)
	}
}

func TestSkip(t *testing.T) {
	data := writeRecords(t, []byte("a"), []byte("bcd"), []byte("efghij"))
	r := NewReader(bytes.NewReader(data))
	var lengths []int64
	for {
		n, err := r.Skip()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		lengths = append(lengths, n)
	}
	assert.Equal(t, []int64{1, 3, 6}, lengths)
	assert.Equal(t, 3, r.Count())
}

func TestRecordTooLarge(t *testing.T) {
	// Valid length checksum over a huge declared length, with no data following.
	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint64(header, 1<<62)
	binary.LittleEndian.PutUint32(header[8:], MaskedCRC(header[:8]))

	_, err := NewReader(bytes.NewReader(header)).Next()
	require.ErrorIs(t, err, ErrRecordTooLarge)
	_, err = NewReader(bytes.NewReader(header)).Skip()
	require.ErrorIs(t, err, ErrRecordTooLarge)

	// Within the limit, but truncated: the reader fails without allocating the declared length.
	binary.LittleEndian.PutUint64(header, MaxRecordSize)
	binary.LittleEndian.PutUint32(header[8:], MaskedCRC(header[:8]))
	_, err = NewReader(bytes.NewReader(append(header, "short"...))).Next()
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}
