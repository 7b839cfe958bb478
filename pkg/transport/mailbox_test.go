/*
Copyright Scivis Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scivis-labs/raynet/pkg/types"
)

func TestMailboxPostThenDeliver(t *testing.T) {
	mb := NewMailbox()

	buf := make([]byte, 8)
	req := mb.PostRecv(buf, types.AnySource, 1)

	require.Empty(t, mb.TestSome([]Request{req}))

	mb.Deliver(0, 1, []byte{1, 2, 3})

	done := mb.TestSome([]Request{req})
	require.Equal(t, []int{0}, done)
	require.Equal(t, []byte{1, 2, 3}, buf[:3])

	// Completions are retired on first poll.
	require.Empty(t, mb.TestSome([]Request{req}))
}

func TestMailboxDeliverThenPost(t *testing.T) {
	mb := NewMailbox()

	mb.Deliver(2, 1, []byte{9, 9})

	buf := make([]byte, 8)
	req := mb.PostRecv(buf, types.AnySource, 1)

	done := mb.TestSome([]Request{req})
	require.Equal(t, []int{0}, done)
	require.Equal(t, []byte{9, 9}, buf[:2])
}

func TestMailboxTagMatching(t *testing.T) {
	mb := NewMailbox()

	buf1 := make([]byte, 8)
	buf2 := make([]byte, 8)
	req1 := mb.PostRecv(buf1, types.AnySource, 1)
	req2 := mb.PostRecv(buf2, types.AnySource, 2)

	mb.Deliver(0, 2, []byte{5})

	require.Empty(t, mb.TestSome([]Request{req1}))
	require.Equal(t, []int{0}, mb.TestSome([]Request{req2}))
	require.Equal(t, byte(5), buf2[0])
}

func TestMailboxSourceMatching(t *testing.T) {
	mb := NewMailbox()

	buf := make([]byte, 8)
	req := mb.PostRecv(buf, 3, 1)

	// A packet from a different source parks instead of matching.
	mb.Deliver(2, 1, []byte{1})
	require.Empty(t, mb.TestSome([]Request{req}))

	mb.Deliver(3, 1, []byte{2})
	require.Equal(t, []int{0}, mb.TestSome([]Request{req}))
	require.Equal(t, byte(2), buf[0])

	// The parked packet is still claimable.
	buf2 := make([]byte, 8)
	req2 := mb.PostRecv(buf2, types.AnySource, 1)
	require.Equal(t, []int{0}, mb.TestSome([]Request{req2}))
	require.Equal(t, byte(1), buf2[0])
}

func TestMailboxWaitSome(t *testing.T) {
	mb := NewMailbox()

	buf := make([]byte, 8)
	req := mb.PostRecv(buf, types.AnySource, 1)

	go func() {
		time.Sleep(10 * time.Millisecond)
		mb.Deliver(0, 1, []byte{7})
	}()

	done := mb.WaitSome([]Request{req})
	require.Equal(t, []int{0}, done)
	require.Equal(t, byte(7), buf[0])
}

func TestMailboxWaitSomeEmpty(t *testing.T) {
	mb := NewMailbox()
	require.Empty(t, mb.WaitSome(nil))
}

func TestMailboxCancel(t *testing.T) {
	mb := NewMailbox()

	buf := make([]byte, 8)
	req := mb.PostRecv(buf, types.AnySource, 1)
	mb.Cancel(req)

	// A delivery after cancellation parks instead of completing the request.
	mb.Deliver(0, 1, []byte{1})
	require.Empty(t, mb.TestSome([]Request{req}))
}

func TestMailboxCompleteSend(t *testing.T) {
	mb := NewMailbox()

	req := mb.NextRequest()
	require.Empty(t, mb.TestSome([]Request{req}))

	mb.CompleteSend(req)
	require.Equal(t, []int{0}, mb.TestSome([]Request{req}))
}

func TestMailboxDeliverCopies(t *testing.T) {
	mb := NewMailbox()

	data := []byte{1, 2, 3}
	mb.Deliver(0, 1, data)
	data[0] = 99 // caller reuses its buffer

	buf := make([]byte, 8)
	req := mb.PostRecv(buf, types.AnySource, 1)
	require.Equal(t, []int{0}, mb.TestSome([]Request{req}))
	require.Equal(t, byte(1), buf[0])
}
