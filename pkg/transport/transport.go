/*
Copyright Scivis Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package transport defines the capability set the messenger consumes from
// the underlying message-passing layer: tagged non-blocking sends, posted
// receives with an any-source wildcard, batch completion testing/waiting,
// and best-effort cancellation of posted receives.
//
// The package also provides the Mailbox helper shared by the concrete
// implementations (local and grpctransport), which contains all of the
// posting/matching/completion machinery. Implementations only differ in how
// a packet travels from one rank's PostSend to another rank's Mailbox.
package transport

import (
	"github.com/scivis-labs/raynet/pkg/types"
)

// Request is an opaque handle identifying one pending transport operation.
// Handles are unique per transport instance and are never reused.
type Request uint64

// Transport gives the messenger access to the communicator.
// All methods either succeed or report a fatal transport error; partial or
// degraded modes are not modelled.
type Transport interface {

	// Rank returns the identity of the local process in the communicator.
	Rank() types.Rank

	// Size returns the number of processes in the communicator.
	Size() int

	// PostRecv hands buf to the transport for an incoming packet with the
	// given tag, from the given source rank (types.AnySource matches any
	// sender). The buffer stays pinned by the transport until the request
	// completes or is cancelled.
	PostRecv(buf []byte, src types.Rank, tag types.Tag) (Request, error)

	// PostSend submits buf for transmission to dest on the given tag and
	// returns without waiting for delivery. The buffer must not be modified
	// until the request completes.
	PostSend(buf []byte, dest types.Rank, tag types.Tag) (Request, error)

	// TestSome polls the given requests and returns the indices of those
	// that have completed, retiring their completions. It never blocks.
	TestSome(reqs []Request) ([]int, error)

	// WaitSome blocks until at least one of the given requests completes
	// and returns the indices of all completed ones, retiring their
	// completions. Calling WaitSome with no requests returns immediately.
	WaitSome(reqs []Request) ([]int, error)

	// Cancel withdraws a posted receive. Cancelling an already completed or
	// unknown request is a no-op.
	Cancel(req Request) error
}
