/*
Copyright Scivis Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ray

import (
	"sort"

	"github.com/pkg/errors"
	logger "github.com/rs/zerolog/log"

	"github.com/scivis-labs/raynet/pkg/bytestream"
	"github.com/scivis-labs/raynet/pkg/messenger"
	"github.com/scivis-labs/raynet/pkg/transport"
	"github.com/scivis-labs/raynet/pkg/types"
)

const (
	// MessageTag is the channel carrying control messages.
	MessageTag types.Tag = 1

	// RayTag is the channel carrying ray bursts.
	RayTag types.Tag = 2
)

// MsgCommData is one decoded control message together with its sender.
type MsgCommData struct {
	Rank    types.Rank
	Message []int32
}

// Messenger binds the two well-known channels on top of the messaging core
// and encodes/decodes their payloads.
type Messenger struct {
	*messenger.Messenger
}

// New creates a ray messenger bound to the given transport endpoint.
// RegisterMessages must be called before any send or receive.
func New(tp transport.Transport) *Messenger {
	return &Messenger{Messenger: messenger.New(tp)}
}

// RegisterMessages registers both channels and posts their receive pools.
// maxMsgLen is the maximum number of int32 elements a control message may
// carry; numMsgRecvs and numRayRecvs size the respective pools.
func (m *Messenger) RegisterMessages(maxMsgLen, numMsgRecvs, numRayRecvs int) error {
	// A control message serializes as the sender rank, the element count
	// and up to maxMsgLen elements.
	msgSize := 8 + 4 + 4*maxMsgLen

	m.RegisterTag(MessageTag, numMsgRecvs, msgSize)
	m.RegisterTag(RayTag, numRayRecvs, RaySlotBytes*RaysPerRecv)

	return m.InitializeBuffers()
}

// SendMsg sends a control message to dst.
func (m *Messenger) SendMsg(dst types.Rank, msg []int32) error {
	buff := bytestream.New()
	buff.WriteInt32(m.Rank().Pb())
	buff.WriteInt32Slice(msg)
	return m.SendData(dst, MessageTag, buff)
}

// SendAllMsg sends a control message to every peer except the local rank.
func (m *Messenger) SendAllMsg(msg []int32) error {
	for i := 0; i < m.Size(); i++ {
		if types.Rank(i) == m.Rank() {
			continue
		}
		if err := m.SendMsg(types.Rank(i), msg); err != nil {
			return err
		}
	}
	return nil
}

// SendRays sends a ray burst to dst. An empty burst is a no-op. Sending rays
// to the local rank is refused with a logged warning.
func (m *Messenger) SendRays(dst types.Rank, rays []Ray) error {
	if dst == m.Rank() {
		logger.Warn().Int32("rank", dst.Pb()).Msg("Refusing to send rays to own rank.")
		return nil
	}
	if len(rays) == 0 {
		return nil
	}

	buff := bytestream.New()
	buff.WriteInt32(m.Rank().Pb())
	buff.WriteInt32(int32(len(rays)))
	for i := range rays {
		rays[i].Encode(buff)
	}
	return m.SendData(dst, RayTag, buff)
}

// SendRayMap sends one burst per destination, in rank order. Empty bursts
// are skipped.
func (m *Messenger) SendRayMap(rayMap map[types.Rank][]Ray) error {
	dests := make([]types.Rank, 0, len(rayMap))
	for dst := range rayMap {
		dests = append(dests, dst)
	}
	sort.Slice(dests, func(i, j int) bool { return dests[i] < dests[j] })

	for _, dst := range dests {
		if len(rayMap[dst]) == 0 {
			continue
		}
		if err := m.SendRays(dst, rayMap[dst]); err != nil {
			return err
		}
	}
	return nil
}

// RecvAny drains whichever of the two channels have a non-nil output,
// decoding each assembled payload by its tag. It reports whether anything
// was received. With both outputs nil it returns false immediately.
func (m *Messenger) RecvAny(msgs *[]MsgCommData, rays *[]Ray, blockAndWait bool) (bool, error) {
	var tags []types.Tag
	if msgs != nil {
		tags = append(tags, MessageTag)
		*msgs = (*msgs)[:0]
	}
	if rays != nil {
		tags = append(tags, RayTag)
		*rays = (*rays)[:0]
	}
	if len(tags) == 0 {
		return false, nil
	}

	deliveries, err := m.RecvData(tags, blockAndWait)
	if err != nil {
		return false, err
	}
	if len(deliveries) == 0 {
		return false, nil
	}

	for _, d := range deliveries {
		switch d.Tag {
		case MessageTag:
			sender, err := d.Payload.ReadInt32()
			if err != nil {
				return false, errors.WithMessage(err, "control message sender")
			}
			elements, err := d.Payload.ReadInt32Slice()
			if err != nil {
				return false, errors.WithMessage(err, "control message body")
			}
			*msgs = append(*msgs, MsgCommData{Rank: types.Rank(sender), Message: elements})

		case RayTag:
			sender, err := d.Payload.ReadInt32()
			if err != nil {
				return false, errors.WithMessage(err, "ray burst sender")
			}
			num, err := d.Payload.ReadInt32()
			if err != nil {
				return false, errors.WithMessage(err, "ray burst count")
			}
			for i := int32(0); i < num; i++ {
				var r Ray
				if err := r.Decode(d.Payload); err != nil {
					return false, errors.WithMessagef(err, "ray %d from rank %d", i, sender)
				}
				*rays = append(*rays, r)
			}
		}
	}

	return true, nil
}

// RecvMsg drains pending control messages without blocking.
func (m *Messenger) RecvMsg() ([]MsgCommData, error) {
	msgs := make([]MsgCommData, 0)
	if _, err := m.RecvAny(&msgs, nil, false); err != nil {
		return nil, err
	}
	return msgs, nil
}

// RecvRays drains pending ray bursts without blocking.
func (m *Messenger) RecvRays() ([]Ray, error) {
	rays := make([]Ray, 0)
	if _, err := m.RecvAny(nil, &rays, false); err != nil {
		return nil, err
	}
	return rays, nil
}
