/*
Copyright Scivis Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package bytestream implements the growable byte buffer used as the
// payload container on both sides of the messenger. Writes always append at
// the end of the buffer, reads consume from a cursor that can be reset with
// Rewind. All fixed-width values are encoded little-endian; the encoding is
// only meant to be read by other ranks of the same deployment.
//
// A ByteStream is not safe for concurrent use.
package bytestream

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// ByteStream is a sequential byte buffer with an append-only write end and a
// single read cursor.
type ByteStream struct {
	buf []byte
	pos int
}

// New returns an empty ByteStream.
func New() *ByteStream {
	return &ByteStream{}
}

// NewFromBytes returns a ByteStream initialized with a copy of data and the
// read cursor at the beginning.
func NewFromBytes(data []byte) *ByteStream {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &ByteStream{buf: buf}
}

// Len returns the total number of bytes held by the stream, independent of
// the read cursor.
func (bs *ByteStream) Len() int {
	return len(bs.buf)
}

// Data returns the underlying buffer without copying. The returned slice is
// only valid until the next write.
func (bs *ByteStream) Data() []byte {
	return bs.buf
}

// Rewind resets the read cursor to the beginning of the stream.
func (bs *ByteStream) Rewind() {
	bs.pos = 0
}

// Remaining returns the number of unread bytes after the cursor.
func (bs *ByteStream) Remaining() int {
	return len(bs.buf) - bs.pos
}

// WriteBytes appends data to the stream.
func (bs *ByteStream) WriteBytes(data []byte) {
	bs.buf = append(bs.buf, data...)
}

// ReadBytes consumes and returns the next n bytes as a copy.
func (bs *ByteStream) ReadBytes(n int) ([]byte, error) {
	if err := bs.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, bs.buf[bs.pos:bs.pos+n])
	bs.pos += n
	return out, nil
}

// WriteInt32 appends v in little-endian order.
func (bs *ByteStream) WriteInt32(v int32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	bs.buf = append(bs.buf, tmp[:]...)
}

// ReadInt32 consumes and returns the next little-endian int32.
func (bs *ByteStream) ReadInt32() (int32, error) {
	if err := bs.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.LittleEndian.Uint32(bs.buf[bs.pos:]))
	bs.pos += 4
	return v, nil
}

// WriteInt64 appends v in little-endian order.
func (bs *ByteStream) WriteInt64(v int64) {
	bs.WriteUint64(uint64(v))
}

// ReadInt64 consumes and returns the next little-endian int64.
func (bs *ByteStream) ReadInt64() (int64, error) {
	v, err := bs.ReadUint64()
	return int64(v), err
}

// WriteUint64 appends v in little-endian order.
func (bs *ByteStream) WriteUint64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	bs.buf = append(bs.buf, tmp[:]...)
}

// ReadUint64 consumes and returns the next little-endian uint64.
func (bs *ByteStream) ReadUint64() (uint64, error) {
	if err := bs.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(bs.buf[bs.pos:])
	bs.pos += 8
	return v, nil
}

// WriteFloat64 appends the IEEE 754 representation of v.
func (bs *ByteStream) WriteFloat64(v float64) {
	bs.WriteUint64(math.Float64bits(v))
}

// ReadFloat64 consumes and returns the next float64.
func (bs *ByteStream) ReadFloat64() (float64, error) {
	v, err := bs.ReadUint64()
	return math.Float64frombits(v), err
}

// WriteInt32Slice appends the element count as a uint64 followed by the
// elements themselves.
func (bs *ByteStream) WriteInt32Slice(vs []int32) {
	bs.WriteUint64(uint64(len(vs)))
	for _, v := range vs {
		bs.WriteInt32(v)
	}
}

// ReadInt32Slice consumes a slice written by WriteInt32Slice.
func (bs *ByteStream) ReadInt32Slice() ([]int32, error) {
	n, err := bs.ReadUint64()
	if err != nil {
		return nil, err
	}
	if err := bs.need(int(n) * 4); err != nil {
		return nil, err
	}
	out := make([]int32, n)
	for i := range out {
		out[i], _ = bs.ReadInt32()
	}
	return out, nil
}

func (bs *ByteStream) need(n int) error {
	if bs.pos+n > len(bs.buf) {
		return errors.Errorf("bytestream: read of %d bytes past end (pos %d, len %d)", n, bs.pos, len(bs.buf))
	}
	return nil
}
