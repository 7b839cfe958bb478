/*
Copyright Scivis Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package local implements an in-process transport connecting a fixed number
// of ranks through their mailboxes. It is used by tests and by demos running
// all ranks inside one process. Sends are delivered synchronously into the
// destination mailbox and complete immediately.
package local

import (
	"github.com/pkg/errors"

	"github.com/scivis-labs/raynet/pkg/transport"
	"github.com/scivis-labs/raynet/pkg/types"
)

// Network connects n ranks. Endpoints are safe to drive from one goroutine
// per rank.
type Network struct {
	endpoints []*Endpoint
}

// NewNetwork creates a network of n ranks with empty mailboxes.
func NewNetwork(n int) *Network {
	net := &Network{endpoints: make([]*Endpoint, n)}
	for i := 0; i < n; i++ {
		net.endpoints[i] = &Endpoint{
			rank: types.Rank(i),
			net:  net,
			mbox: transport.NewMailbox(),
		}
	}
	return net
}

// Endpoint returns the transport endpoint of the given rank.
func (net *Network) Endpoint(rank types.Rank) *Endpoint {
	return net.endpoints[int(rank)]
}

// Endpoint is one rank's view of the network.
type Endpoint struct {
	rank types.Rank
	net  *Network
	mbox *transport.Mailbox
}

var _ transport.Transport = (*Endpoint)(nil)

// Rank returns the identity of this endpoint.
func (ep *Endpoint) Rank() types.Rank {
	return ep.rank
}

// Size returns the number of ranks in the network.
func (ep *Endpoint) Size() int {
	return len(ep.net.endpoints)
}

// PostRecv registers buf for an incoming packet matching (src, tag).
func (ep *Endpoint) PostRecv(buf []byte, src types.Rank, tag types.Tag) (transport.Request, error) {
	if src != types.AnySource && !ep.validRank(src) {
		return 0, errors.Errorf("local transport: invalid source rank %d", src)
	}
	return ep.mbox.PostRecv(buf, src, tag), nil
}

// PostSend copies buf into the destination's mailbox and completes
// immediately.
func (ep *Endpoint) PostSend(buf []byte, dest types.Rank, tag types.Tag) (transport.Request, error) {
	if !ep.validRank(dest) {
		return 0, errors.Errorf("local transport: invalid destination rank %d", dest)
	}

	ep.net.endpoints[int(dest)].mbox.Deliver(ep.rank, tag, buf)

	req := ep.mbox.NextRequest()
	ep.mbox.CompleteSend(req)
	return req, nil
}

// TestSome polls the given requests for completion.
func (ep *Endpoint) TestSome(reqs []transport.Request) ([]int, error) {
	return ep.mbox.TestSome(reqs), nil
}

// WaitSome blocks until at least one of the given requests completes.
func (ep *Endpoint) WaitSome(reqs []transport.Request) ([]int, error) {
	return ep.mbox.WaitSome(reqs), nil
}

// Cancel withdraws a posted receive.
func (ep *Endpoint) Cancel(req transport.Request) error {
	ep.mbox.Cancel(req)
	return nil
}

func (ep *Endpoint) validRank(r types.Rank) bool {
	return r >= 0 && int(r) < len(ep.net.endpoints)
}
