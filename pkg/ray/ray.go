/*
Copyright Scivis Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ray implements the typed messaging layer used by the distributed
// renderer: control messages (slices of int32) and bulk work items (Ray
// records) exchanged over two well-known tags.
package ray

import (
	"github.com/pkg/errors"

	"github.com/scivis-labs/raynet/pkg/bytestream"
)

// RaySlotBytes is the fixed on-wire footprint of one encoded Ray. The actual
// field data is smaller; the slot is padded to this fixed width. The ray
// channel's per-packet capacity is RaySlotBytes*RaysPerRecv bytes; a burst
// also carries an 8-byte prefix (sender rank and ray count), so up to
// RaysPerRecv-1 rays fit a single packet.
const RaySlotBytes = 256

// RaysPerRecv is the number of ray slots one receive buffer of the ray
// channel can hold.
const RaysPerRecv = 639

// raySlotPadding fills an encoded Ray up to RaySlotBytes.
const raySlotPadding = RaySlotBytes - 152

// Ray is one unit of render work in flight between ranks.
type Ray struct {
	ID      int64
	PixelID int64
	Depth   int32
	Status  int32

	Origin     [3]float64
	Dir        [3]float64
	Color      [4]float64
	Throughput [3]float64

	Distance float64
	MinT     float64
	MaxT     float64
}

// Encode appends the fixed-size slot representation of r to bs.
func (r *Ray) Encode(bs *bytestream.ByteStream) {
	bs.WriteInt64(r.ID)
	bs.WriteInt64(r.PixelID)
	bs.WriteInt32(r.Depth)
	bs.WriteInt32(r.Status)
	for _, v := range r.Origin {
		bs.WriteFloat64(v)
	}
	for _, v := range r.Dir {
		bs.WriteFloat64(v)
	}
	for _, v := range r.Color {
		bs.WriteFloat64(v)
	}
	for _, v := range r.Throughput {
		bs.WriteFloat64(v)
	}
	bs.WriteFloat64(r.Distance)
	bs.WriteFloat64(r.MinT)
	bs.WriteFloat64(r.MaxT)
	bs.WriteBytes(make([]byte, raySlotPadding))
}

// Decode consumes one slot from bs into r.
func (r *Ray) Decode(bs *bytestream.ByteStream) error {
	var err error
	if r.ID, err = bs.ReadInt64(); err != nil {
		return errors.WithMessage(err, "ray id")
	}
	if r.PixelID, err = bs.ReadInt64(); err != nil {
		return errors.WithMessage(err, "ray pixel id")
	}
	if r.Depth, err = bs.ReadInt32(); err != nil {
		return errors.WithMessage(err, "ray depth")
	}
	if r.Status, err = bs.ReadInt32(); err != nil {
		return errors.WithMessage(err, "ray status")
	}
	for i := range r.Origin {
		if r.Origin[i], err = bs.ReadFloat64(); err != nil {
			return errors.WithMessage(err, "ray origin")
		}
	}
	for i := range r.Dir {
		if r.Dir[i], err = bs.ReadFloat64(); err != nil {
			return errors.WithMessage(err, "ray dir")
		}
	}
	for i := range r.Color {
		if r.Color[i], err = bs.ReadFloat64(); err != nil {
			return errors.WithMessage(err, "ray color")
		}
	}
	for i := range r.Throughput {
		if r.Throughput[i], err = bs.ReadFloat64(); err != nil {
			return errors.WithMessage(err, "ray throughput")
		}
	}
	if r.Distance, err = bs.ReadFloat64(); err != nil {
		return errors.WithMessage(err, "ray distance")
	}
	if r.MinT, err = bs.ReadFloat64(); err != nil {
		return errors.WithMessage(err, "ray mint")
	}
	if r.MaxT, err = bs.ReadFloat64(); err != nil {
		return errors.WithMessage(err, "ray maxt")
	}
	if _, err = bs.ReadBytes(raySlotPadding); err != nil {
		return errors.WithMessage(err, "ray padding")
	}
	return nil
}
