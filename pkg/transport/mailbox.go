/*
Copyright Scivis Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"sync"

	"github.com/scivis-labs/raynet/pkg/types"
)

// postedRecv is one receive buffer handed to the transport and not yet
// matched by an incoming packet.
type postedRecv struct {
	req Request
	buf []byte
	src types.Rank
	tag types.Tag
}

// inbound is a packet that arrived before a matching receive was posted.
type inbound struct {
	src  types.Rank
	data []byte
}

// Mailbox implements the posting, matching and completion machinery shared
// by all transport implementations. Incoming packets are matched against
// posted receives in posting order; packets without a matching receive are
// parked in a per-tag queue and claimed by the next matching PostRecv.
//
// A Mailbox is safe for concurrent use: the driver thread posts and polls
// while transport goroutines deliver.
type Mailbox struct {
	mu        sync.Mutex
	cond      *sync.Cond
	nextReq   Request
	posted    []*postedRecv
	parked    map[types.Tag][]inbound
	completed map[Request]struct{}
}

// NewMailbox returns an empty Mailbox.
func NewMailbox() *Mailbox {
	mb := &Mailbox{
		parked:    make(map[types.Tag][]inbound),
		completed: make(map[Request]struct{}),
	}
	mb.cond = sync.NewCond(&mb.mu)
	return mb
}

// NextRequest allocates a fresh request handle. Used by implementations for
// send requests, whose completion they signal through CompleteSend.
func (mb *Mailbox) NextRequest() Request {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.newRequest()
}

func (mb *Mailbox) newRequest() Request {
	mb.nextReq++
	return mb.nextReq
}

// PostRecv registers buf for an incoming packet matching (src, tag). If a
// matching packet is already parked, it is consumed and the returned request
// completes immediately.
func (mb *Mailbox) PostRecv(buf []byte, src types.Rank, tag types.Tag) Request {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	req := mb.newRequest()

	queue := mb.parked[tag]
	for i, in := range queue {
		if src != types.AnySource && src != in.src {
			continue
		}
		copy(buf, in.data)
		mb.parked[tag] = append(queue[:i:i], queue[i+1:]...)
		if len(mb.parked[tag]) == 0 {
			delete(mb.parked, tag)
		}
		mb.completed[req] = struct{}{}
		mb.cond.Broadcast()
		return req
	}

	mb.posted = append(mb.posted, &postedRecv{req: req, buf: buf, src: src, tag: tag})
	return req
}

// Deliver hands an incoming packet to the mailbox. The packet is copied into
// the first matching posted receive, or parked if none matches. Deliver does
// not retain data after returning.
func (mb *Mailbox) Deliver(src types.Rank, tag types.Tag, data []byte) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	for i, p := range mb.posted {
		if p.tag != tag {
			continue
		}
		if p.src != types.AnySource && p.src != src {
			continue
		}
		copy(p.buf, data)
		mb.posted = append(mb.posted[:i:i], mb.posted[i+1:]...)
		mb.completed[p.req] = struct{}{}
		mb.cond.Broadcast()
		return
	}

	parked := make([]byte, len(data))
	copy(parked, data)
	mb.parked[tag] = append(mb.parked[tag], inbound{src: src, data: parked})
}

// CompleteSend marks a send request as drained by the transport.
func (mb *Mailbox) CompleteSend(req Request) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.completed[req] = struct{}{}
	mb.cond.Broadcast()
}

// TestSome returns the indices of the given requests that have completed and
// retires those completions. It never blocks.
func (mb *Mailbox) TestSome(reqs []Request) []int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.takeCompleted(reqs)
}

// WaitSome blocks until at least one of the given requests completes, then
// returns the indices of all completed ones, retiring those completions.
// An empty request list returns immediately.
func (mb *Mailbox) WaitSome(reqs []Request) []int {
	if len(reqs) == 0 {
		return nil
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()
	for {
		if done := mb.takeCompleted(reqs); len(done) > 0 {
			return done
		}
		mb.cond.Wait()
	}
}

func (mb *Mailbox) takeCompleted(reqs []Request) []int {
	var done []int
	for i, req := range reqs {
		if _, ok := mb.completed[req]; ok {
			delete(mb.completed, req)
			done = append(done, i)
		}
	}
	return done
}

// Cancel withdraws a posted receive. Already completed or unknown requests
// are left alone.
func (mb *Mailbox) Cancel(req Request) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	for i, p := range mb.posted {
		if p.req == req {
			mb.posted = append(mb.posted[:i:i], mb.posted[i+1:]...)
			return
		}
	}
}
