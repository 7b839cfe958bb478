/*
Copyright Scivis Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ray_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scivis-labs/raynet/pkg/ray"
	"github.com/scivis-labs/raynet/pkg/transport/local"
	"github.com/scivis-labs/raynet/pkg/types"
)

// newRing builds n connected ray messengers over the local transport.
func newRing(t *testing.T, n int) []*ray.Messenger {
	t.Helper()
	net := local.NewNetwork(n)
	ms := make([]*ray.Messenger, n)
	for i := 0; i < n; i++ {
		ms[i] = ray.New(net.Endpoint(types.Rank(i)))
		require.NoError(t, ms[i].RegisterMessages(16, 8, 4))
	}
	return ms
}

func testBurst(n int) []ray.Ray {
	rays := make([]ray.Ray, n)
	for i := range rays {
		rays[i] = ray.Ray{
			ID:      int64(i),
			PixelID: int64(i * 3),
			Origin:  [3]float64{float64(i), 0, 0},
			Dir:     [3]float64{0, 1, 0},
			MaxT:    1e30,
		}
	}
	return rays
}

func TestSendMsgRecvMsg(t *testing.T) {
	ms := newRing(t, 2)

	require.NoError(t, ms[0].SendMsg(1, []int32{7, 8, 9}))

	msgs, err := ms[1].RecvMsg()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, types.Rank(0), msgs[0].Rank)
	require.Equal(t, []int32{7, 8, 9}, msgs[0].Message)
}

func TestSendAllMsg(t *testing.T) {
	ms := newRing(t, 4)

	require.NoError(t, ms[0].SendAllMsg([]int32{7, 8, 9}))

	for i := 1; i < 4; i++ {
		var msgs []ray.MsgCommData
		got, err := ms[i].RecvAny(&msgs, nil, true)
		require.NoError(t, err)
		require.True(t, got)
		require.Len(t, msgs, 1)
		require.Equal(t, types.Rank(0), msgs[0].Rank)
		require.Equal(t, []int32{7, 8, 9}, msgs[0].Message)
	}

	// The sender itself received nothing.
	msgs, err := ms[0].RecvMsg()
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestSendRecvRays(t *testing.T) {
	ms := newRing(t, 2)
	burst := testBurst(10)

	require.NoError(t, ms[0].SendRays(1, burst))

	rays, err := ms[1].RecvRays()
	require.NoError(t, err)
	require.Equal(t, burst, rays)
}

func TestSendRaysFragmented(t *testing.T) {
	ms := newRing(t, 2)

	// Large enough to exceed one packet of the ray channel.
	burst := testBurst(700)
	require.NoError(t, ms[0].SendRays(1, burst))

	var rays []ray.Ray
	for len(rays) < len(burst) {
		var got []ray.Ray
		ok, err := ms[1].RecvAny(nil, &got, true)
		require.NoError(t, err)
		require.True(t, ok)
		rays = append(rays, got...)
	}
	require.Equal(t, burst, rays)
}

func TestSendRaysToSelfIsNoOp(t *testing.T) {
	ms := newRing(t, 2)

	require.NoError(t, ms[0].SendRays(0, testBurst(5)))
	require.Equal(t, 0, ms[0].PendingSendCount())

	rays, err := ms[0].RecvRays()
	require.NoError(t, err)
	require.Empty(t, rays)
}

func TestSendEmptyRaysIsNoOp(t *testing.T) {
	ms := newRing(t, 2)

	require.NoError(t, ms[0].SendRays(1, nil))
	require.Equal(t, 0, ms[0].PendingSendCount())
}

func TestSendRayMap(t *testing.T) {
	ms := newRing(t, 3)

	rayMap := map[types.Rank][]ray.Ray{
		1: testBurst(3),
		2: testBurst(5),
	}
	require.NoError(t, ms[0].SendRayMap(rayMap))

	rays, err := ms[1].RecvRays()
	require.NoError(t, err)
	require.Len(t, rays, 3)

	rays, err = ms[2].RecvRays()
	require.NoError(t, err)
	require.Len(t, rays, 5)
}

func TestRecvAnyNoOutputs(t *testing.T) {
	ms := newRing(t, 2)

	got, err := ms[0].RecvAny(nil, nil, true)
	require.NoError(t, err)
	require.False(t, got)
}

func TestRecvAnyBothChannels(t *testing.T) {
	ms := newRing(t, 2)

	require.NoError(t, ms[0].SendMsg(1, []int32{1}))
	require.NoError(t, ms[0].SendRays(1, testBurst(2)))

	var msgs []ray.MsgCommData
	var rays []ray.Ray
	for len(msgs) < 1 || len(rays) < 2 {
		var m []ray.MsgCommData
		var r []ray.Ray
		_, err := ms[1].RecvAny(&m, &r, true)
		require.NoError(t, err)
		msgs = append(msgs, m...)
		rays = append(rays, r...)
	}
	require.Equal(t, types.Rank(0), msgs[0].Rank)
	require.Len(t, rays, 2)
}
