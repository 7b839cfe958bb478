/*
Copyright Scivis Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package messenger

import (
	"encoding/binary"
	"sort"

	"github.com/scivis-labs/raynet/pkg/bytestream"
	"github.com/scivis-labs/raynet/pkg/types"
)

// HeaderSize is the fixed number of bytes the packet header occupies at the
// front of every packet on the wire.
const HeaderSize = 32

// header is the self-describing prefix of every packet. Fields are encoded
// little-endian at fixed offsets; the layout is only valid within one
// deployment.
type header struct {
	tag        types.Tag
	rank       types.Rank
	id         types.MsgID
	numPackets int32
	packet     int32
	packetSz   int32
	dataSz     int32
}

// encode writes the header into the first HeaderSize bytes of buf.
func (h *header) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(h.tag))
	binary.LittleEndian.PutUint32(buf[4:], uint32(h.rank))
	binary.LittleEndian.PutUint64(buf[8:], uint64(h.id))
	binary.LittleEndian.PutUint32(buf[16:], uint32(h.numPackets))
	binary.LittleEndian.PutUint32(buf[20:], uint32(h.packet))
	binary.LittleEndian.PutUint32(buf[24:], uint32(h.packetSz))
	binary.LittleEndian.PutUint32(buf[28:], uint32(h.dataSz))
}

// decodeHeader reads the header from the first HeaderSize bytes of buf.
func decodeHeader(buf []byte) (header, error) {
	if len(buf) < HeaderSize {
		return header{}, &RuntPacketError{Size: len(buf)}
	}
	return header{
		tag:        types.Tag(binary.LittleEndian.Uint32(buf[0:])),
		rank:       types.Rank(binary.LittleEndian.Uint32(buf[4:])),
		id:         types.MsgID(binary.LittleEndian.Uint64(buf[8:])),
		numPackets: int32(binary.LittleEndian.Uint32(buf[16:])),
		packet:     int32(binary.LittleEndian.Uint32(buf[20:])),
		packetSz:   int32(binary.LittleEndian.Uint32(buf[24:])),
		dataSz:     int32(binary.LittleEndian.Uint32(buf[28:])),
	}, nil
}

// prepareForSend fragments payload into packets for the given tag. All
// packets of the message share one id, drawn from the per-messenger counter.
//
// The packet count is 1 + len/max whenever the payload exceeds the per-packet
// capacity. When the length is an exact multiple of the capacity this yields
// one trailing packet with dataSz == 0; receivers of the same deployment
// count on that, so the formula must not be "fixed".
func (m *Messenger) prepareForSend(tag types.Tag, payload *bytestream.ByteStream) ([][]byte, error) {
	info, ok := m.tagInfo[tag]
	if !ok {
		return nil, &UnregisteredTagError{Tag: tag}
	}

	bytesLeft := payload.Len()
	maxDataLen := info.MaxPayloadBytes
	h := header{
		tag:        tag,
		rank:       m.rank,
		id:         m.msgID,
		numPackets: 1,
	}
	if payload.Len() > maxDataLen {
		h.numPackets += int32(payload.Len() / maxDataLen)
	}
	m.msgID++

	data := payload.Data()
	packets := make([][]byte, h.numPackets)
	pos := 0
	for i := int32(0); i < h.numPackets; i++ {
		h.packet = i
		if i == h.numPackets-1 {
			h.dataSz = int32(bytesLeft)
		} else {
			h.dataSz = int32(maxDataLen)
		}
		h.packetSz = h.dataSz + HeaderSize

		b := make([]byte, h.packetSz)
		h.encode(b)
		copy(b[HeaderSize:], data[pos:pos+int(h.dataSz)])
		pos += int(h.dataSz)

		packets[i] = b
		bytesLeft -= maxDataLen
	}

	return packets, nil
}

// processReceivedBuffers classifies each completed receive buffer.
// Single-packet messages yield a payload immediately. Packets of fragmented
// messages are parked per (sender, id) until the message is complete, then
// sorted by packet index and concatenated.
func (m *Messenger) processReceivedBuffers(incoming [][]byte) ([]Delivery, error) {
	var out []Delivery

	for _, buf := range incoming {
		h, err := decodeHeader(buf)
		if err != nil {
			return out, err
		}

		if h.numPackets == 1 {
			payload := bytestream.NewFromBytes(buf[HeaderSize : HeaderSize+int(h.dataSz)])
			out = append(out, Delivery{Tag: h.tag, Payload: payload})
			continue
		}

		key := msgKey{rank: h.rank, id: h.id}
		list, ok := m.partial[key]
		if !ok {
			m.partial[key] = [][]byte{buf}
			continue
		}

		list = append(list, buf)
		if len(list) < int(h.numPackets) {
			m.partial[key] = list
			continue
		}

		// Last packet arrived. Restore packet order and merge.
		sort.Slice(list, func(i, j int) bool {
			hi, _ := decodeHeader(list[i])
			hj, _ := decodeHeader(list[j])
			return hi.packet < hj.packet
		})

		merged := bytestream.New()
		for _, b := range list {
			hb, err := decodeHeader(b)
			if err != nil {
				return out, err
			}
			merged.WriteBytes(b[HeaderSize : HeaderSize+int(hb.dataSz)])
		}
		merged.Rewind()

		out = append(out, Delivery{Tag: h.tag, Payload: merged})
		delete(m.partial, key)
	}

	return out, nil
}
