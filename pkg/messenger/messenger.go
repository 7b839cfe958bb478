/*
Copyright Scivis Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package messenger implements the tagged, fragmented, asynchronous
// point-to-point messaging core. A Messenger owns, per registered tag, a
// fixed-size pool of receive buffers kept pre-posted on the transport, a map
// of in-flight send buffers, and a table of partially reassembled messages.
//
// Payloads of arbitrary size are fragmented into fixed-capacity packets on
// send and reassembled by (sender rank, message id) on receive; arrival
// order of packets is immaterial. Across distinct messages no ordering is
// guaranteed, even between two sends from the same sender on the same tag.
//
// A Messenger is driven by a single goroutine; it is not safe for concurrent
// use. Progress is made by the driver polling RecvData and
// CheckPendingSendRequests. Only RecvData with blockAndWait set may suspend.
package messenger

import (
	logger "github.com/rs/zerolog/log"

	"github.com/scivis-labs/raynet/pkg/bytestream"
	"github.com/scivis-labs/raynet/pkg/transport"
	"github.com/scivis-labs/raynet/pkg/types"
)

// TagInfo describes one registered channel: how many receives are kept
// pre-posted for the tag and the per-packet user-data capacity. The
// transport-side buffer for the tag is MaxPayloadBytes + HeaderSize.
type TagInfo struct {
	NumRecvs        int
	MaxPayloadBytes int
}

// Delivery is one assembled payload yielded by RecvData, together with the
// tag it arrived on. The payload is owned by the caller.
type Delivery struct {
	Tag     types.Tag
	Payload *bytestream.ByteStream
}

// requestKey identifies one pending transport operation in the pools.
type requestKey struct {
	req transport.Request
	tag types.Tag
}

// msgKey identifies one fragmented message during reassembly.
type msgKey struct {
	rank types.Rank
	id   types.MsgID
}

// Messenger is the messaging core bound to one communicator endpoint.
type Messenger struct {
	trans  transport.Transport
	rank   types.Rank
	nProcs int

	msgID   types.MsgID
	tagInfo map[types.Tag]TagInfo

	// Posted-receive pool: at steady state exactly TagInfo[t].NumRecvs
	// entries per registered tag t.
	recvBuffers map[requestKey][]byte

	// In-flight send pool: entries live from PostSend until the transport
	// reports the send drained.
	sendBuffers map[requestKey][]byte

	// Partially reassembled fragmented messages.
	partial map[msgKey][][]byte
}

// New creates a Messenger bound to the given transport endpoint.
func New(tp transport.Transport) *Messenger {
	return &Messenger{
		trans:       tp,
		rank:        tp.Rank(),
		nProcs:      tp.Size(),
		tagInfo:     make(map[types.Tag]TagInfo),
		recvBuffers: make(map[requestKey][]byte),
		sendBuffers: make(map[requestKey][]byte),
		partial:     make(map[msgKey][][]byte),
	}
}

// Rank returns the local rank in the communicator.
func (m *Messenger) Rank() types.Rank {
	return m.rank
}

// Size returns the number of ranks in the communicator.
func (m *Messenger) Size() int {
	return m.nProcs
}

// RegisterTag declares a channel with numRecvs pre-posted receives of
// maxPayloadBytes user-data capacity each. Re-registering a tag overwrites
// the previous registration but does not resize already-posted buffers.
func (m *Messenger) RegisterTag(tag types.Tag, numRecvs, maxPayloadBytes int) {
	if _, ok := m.tagInfo[tag]; ok {
		logger.Warn().Int32("tag", tag.Pb()).Msg("Tag already registered. Overwriting.")
	}
	m.tagInfo[tag] = TagInfo{NumRecvs: numRecvs, MaxPayloadBytes: maxPayloadBytes}
}

// InitializeBuffers posts the full receive pool for every registered tag.
// Must be called once, after all tags are registered and before any send or
// receive.
func (m *Messenger) InitializeBuffers() error {
	for tag, info := range m.tagInfo {
		for i := 0; i < info.NumRecvs; i++ {
			if err := m.postRecv(tag); err != nil {
				return err
			}
		}
	}
	return nil
}

// postRecv posts one receive for the given tag, from any source, and records
// its buffer in the pool. Transport errors are logged and swallowed.
func (m *Messenger) postRecv(tag types.Tag) error {
	info, ok := m.tagInfo[tag]
	if !ok {
		return &UnregisteredTagError{Tag: tag}
	}

	buf := make([]byte, info.MaxPayloadBytes+HeaderSize)
	req, err := m.trans.PostRecv(buf, types.AnySource, tag)
	if err != nil {
		logger.Error().Err(err).Int32("tag", tag.Pb()).Msg("Failed to post receive.")
		return nil
	}
	m.recvBuffers[requestKey{req: req, tag: tag}] = buf
	return nil
}

// SendData fragments payload and submits each packet as a non-blocking send
// to dest. The payload is consumed: the caller must not touch it afterwards.
// The message id counter is bumped exactly once per call. Sends are
// fire-and-forget; there is no user-observable completion event.
func (m *Messenger) SendData(dest types.Rank, tag types.Tag, payload *bytestream.ByteStream) error {
	packets, err := m.prepareForSend(tag, payload)
	if err != nil {
		return err
	}

	for _, pkt := range packets {
		req, err := m.trans.PostSend(pkt, dest, tag)
		if err != nil {
			logger.Error().Err(err).Int32("dest", dest.Pb()).Int32("tag", tag.Pb()).Msg("Failed to post send.")
			continue
		}
		m.sendBuffers[requestKey{req: req, tag: tag}] = pkt
	}

	return nil
}

// RecvData drains completed receives whose tag is in tags and returns the
// assembled payloads, re-posting one receive per drained slot to keep the
// pool at capacity. With blockAndWait set it suspends until at least one
// matching receive completes; with zero matching posted receives it returns
// immediately in either mode. An empty result with a nil error means nothing
// was ready.
func (m *Messenger) RecvData(tags []types.Tag, blockAndWait bool) ([]Delivery, error) {
	tagSet := make(map[types.Tag]bool, len(tags))
	for _, t := range tags {
		tagSet[t] = true
	}

	// Collect the posted receives matching the requested tags.
	var reqs []transport.Request
	var keys []requestKey
	for key := range m.recvBuffers {
		if tagSet[key.tag] {
			reqs = append(reqs, key.req)
			keys = append(keys, key)
		}
	}
	if len(reqs) == 0 {
		return nil, nil
	}

	var indices []int
	var err error
	if blockAndWait {
		indices, err = m.trans.WaitSome(reqs)
	} else {
		indices, err = m.trans.TestSome(reqs)
	}
	if err != nil {
		logger.Error().Err(err).Bool("blocking", blockAndWait).Msg("Transport completion poll failed.")
		return nil, nil
	}
	if len(indices) == 0 {
		return nil, nil
	}

	incoming := make([][]byte, 0, len(indices))
	completedTags := make([]types.Tag, 0, len(indices))
	for _, idx := range indices {
		key := keys[idx]
		buf, ok := m.recvBuffers[key]
		if !ok {
			return nil, &MissingBufferError{Req: key.req, Tag: key.tag}
		}
		delete(m.recvBuffers, key)
		incoming = append(incoming, buf)
		completedTags = append(completedTags, key.tag)
	}

	deliveries, err := m.processReceivedBuffers(incoming)

	// Refill the pool: one fresh receive per drained slot.
	for _, tag := range completedTags {
		if perr := m.postRecv(tag); perr != nil && err == nil {
			err = perr
		}
	}

	return deliveries, err
}

// RecvTag is a single-tag convenience wrapper around RecvData.
func (m *Messenger) RecvTag(tag types.Tag, blockAndWait bool) ([]*bytestream.ByteStream, error) {
	deliveries, err := m.RecvData([]types.Tag{tag}, blockAndWait)
	if err != nil {
		return nil, err
	}
	payloads := make([]*bytestream.ByteStream, len(deliveries))
	for i, d := range deliveries {
		payloads[i] = d.Payload
	}
	return payloads, nil
}

// CheckPendingSendRequests polls the in-flight send pool and releases the
// buffers of sends the transport has drained. The driver must call this
// periodically to keep the pool bounded. Safe to call at any time.
func (m *Messenger) CheckPendingSendRequests() error {
	if len(m.sendBuffers) == 0 {
		return nil
	}

	reqs := make([]transport.Request, 0, len(m.sendBuffers))
	keys := make([]requestKey, 0, len(m.sendBuffers))
	for key := range m.sendBuffers {
		reqs = append(reqs, key.req)
		keys = append(keys, key)
	}

	indices, err := m.trans.TestSome(reqs)
	if err != nil {
		logger.Error().Err(err).Msg("Transport send poll failed.")
		return nil
	}
	for _, idx := range indices {
		delete(m.sendBuffers, keys[idx])
	}
	return nil
}

// CleanupRequests cancels and drops all posted receives matching tag, or all
// of them when tag is types.AllTags. Called before shutdown and to tear down
// a single channel. Shutdown is complete once a subsequent
// CheckPendingSendRequests loop has drained the send pool.
func (m *Messenger) CleanupRequests(tag types.Tag) {
	var del []requestKey
	for key := range m.recvBuffers {
		if tag == types.AllTags || tag == key.tag {
			del = append(del, key)
		}
	}

	for _, key := range del {
		if err := m.trans.Cancel(key.req); err != nil {
			logger.Error().Err(err).Int32("tag", key.tag.Pb()).Msg("Failed to cancel posted receive.")
		}
		delete(m.recvBuffers, key)
	}
}

// PostedRecvCount returns the number of posted receives currently in the
// pool for the given tag (all tags when types.AllTags).
func (m *Messenger) PostedRecvCount(tag types.Tag) int {
	n := 0
	for key := range m.recvBuffers {
		if tag == types.AllTags || key.tag == tag {
			n++
		}
	}
	return n
}

// PendingSendCount returns the number of in-flight send buffers.
func (m *Messenger) PendingSendCount() int {
	return len(m.sendBuffers)
}

// PartialMessageCount returns the number of fragmented messages awaiting
// missing packets.
func (m *Messenger) PartialMessageCount() int {
	return len(m.partial)
}
