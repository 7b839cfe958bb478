/*
Copyright Scivis Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package messenger_test

import (
	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/scivis-labs/raynet/pkg/bytestream"
	"github.com/scivis-labs/raynet/pkg/messenger"
	"github.com/scivis-labs/raynet/pkg/transport/local"
	"github.com/scivis-labs/raynet/pkg/types"
)

const (
	tagT  types.Tag = 7
	tagT2 types.Tag = 8

	numRecvs   = 4
	maxPayload = 100
)

// payload returns a deterministic n-byte payload.
func payload(n int) *bytestream.ByteStream {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + n)
	}
	return bytestream.NewFromBytes(data)
}

// drain calls RecvData until want payloads have arrived.
func drain(m *messenger.Messenger, tags []types.Tag, want int) []messenger.Delivery {
	var got []messenger.Delivery
	for len(got) < want {
		ds, err := m.RecvData(tags, true)
		Expect(err).NotTo(HaveOccurred())
		got = append(got, ds...)
	}
	return got
}

var _ = Describe("Messenger", func() {
	var (
		sender *messenger.Messenger
		recver *messenger.Messenger
	)

	BeforeEach(func() {
		net := local.NewNetwork(2)
		sender = messenger.New(net.Endpoint(0))
		recver = messenger.New(net.Endpoint(1))
		for _, m := range []*messenger.Messenger{sender, recver} {
			m.RegisterTag(tagT, numRecvs, maxPayload)
			Expect(m.InitializeBuffers()).To(Succeed())
		}
	})

	It("round-trips a single-packet payload and keeps the pool full", func() {
		in := payload(50)
		want := append([]byte(nil), in.Data()...)

		Expect(sender.SendData(1, tagT, in)).To(Succeed())

		ds := drain(recver, []types.Tag{tagT}, 1)
		Expect(ds).To(HaveLen(1))
		Expect(ds[0].Tag).To(Equal(tagT))
		Expect(ds[0].Payload.Data()).To(Equal(want))

		Expect(recver.PostedRecvCount(tagT)).To(Equal(numRecvs))
	})

	It("round-trips a fragmented payload", func() {
		in := payload(350) // 4 packets: 100, 100, 100, 50
		want := append([]byte(nil), in.Data()...)

		Expect(sender.SendData(1, tagT, in)).To(Succeed())

		ds := drain(recver, []types.Tag{tagT}, 1)
		Expect(ds).To(HaveLen(1))
		Expect(ds[0].Payload.Data()).To(Equal(want))
		Expect(recver.PartialMessageCount()).To(Equal(0))
		Expect(recver.PostedRecvCount(tagT)).To(Equal(numRecvs))
	})

	It("round-trips a payload exactly at the packet capacity", func() {
		in := payload(maxPayload)
		want := append([]byte(nil), in.Data()...)

		Expect(sender.SendData(1, tagT, in)).To(Succeed())

		ds := drain(recver, []types.Tag{tagT}, 1)
		Expect(ds[0].Payload.Data()).To(Equal(want))
	})

	It("keeps back-to-back fragmented messages apart", func() {
		in1 := payload(250)
		in2 := payload(180)
		want1 := append([]byte(nil), in1.Data()...)
		want2 := append([]byte(nil), in2.Data()...)

		Expect(sender.SendData(1, tagT, in1)).To(Succeed())
		Expect(sender.SendData(1, tagT, in2)).To(Succeed())

		ds := drain(recver, []types.Tag{tagT}, 2)
		Expect(ds).To(HaveLen(2))

		outs := [][]byte{ds[0].Payload.Data(), ds[1].Payload.Data()}
		Expect(outs).To(ConsistOf(want1, want2))
		Expect(recver.PartialMessageCount()).To(Equal(0))
		Expect(recver.PostedRecvCount(tagT)).To(Equal(numRecvs))
	})

	It("routes payloads by tag", func() {
		net := local.NewNetwork(2)
		sender := messenger.New(net.Endpoint(0))
		recver := messenger.New(net.Endpoint(1))
		for _, m := range []*messenger.Messenger{sender, recver} {
			m.RegisterTag(tagT, numRecvs, maxPayload)
			m.RegisterTag(tagT2, numRecvs, maxPayload)
			Expect(m.InitializeBuffers()).To(Succeed())
		}

		in1 := payload(30)
		in2 := payload(60)
		want1 := append([]byte(nil), in1.Data()...)
		want2 := append([]byte(nil), in2.Data()...)

		Expect(sender.SendData(1, tagT, in1)).To(Succeed())
		Expect(sender.SendData(1, tagT2, in2)).To(Succeed())

		ds := drain(recver, []types.Tag{tagT}, 1)
		Expect(ds).To(HaveLen(1))
		Expect(ds[0].Tag).To(Equal(tagT))
		Expect(ds[0].Payload.Data()).To(Equal(want1))

		ds = drain(recver, []types.Tag{tagT2}, 1)
		Expect(ds[0].Tag).To(Equal(tagT2))
		Expect(ds[0].Payload.Data()).To(Equal(want2))
	})

	It("drains the send pool once the transport completes the sends", func() {
		Expect(sender.SendData(1, tagT, payload(350))).To(Succeed())
		Expect(sender.PendingSendCount()).To(Equal(4))

		Expect(sender.CheckPendingSendRequests()).To(Succeed())
		Expect(sender.PendingSendCount()).To(Equal(0))
	})

	It("cancels all posted receives on cleanup", func() {
		Expect(sender.SendData(1, tagT, payload(300))).To(Succeed())

		recver.CleanupRequests(types.AllTags)
		Expect(recver.PostedRecvCount(types.AllTags)).To(Equal(0))

		// Nothing left to wait on: a blocking receive returns immediately.
		ds, err := recver.RecvData([]types.Tag{tagT}, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(ds).To(BeEmpty())
	})

	It("tears down a single tag without touching others", func() {
		net := local.NewNetwork(2)
		recver := messenger.New(net.Endpoint(1))
		recver.RegisterTag(tagT, numRecvs, maxPayload)
		recver.RegisterTag(tagT2, numRecvs, maxPayload)
		Expect(recver.InitializeBuffers()).To(Succeed())

		recver.CleanupRequests(tagT)
		Expect(recver.PostedRecvCount(tagT)).To(Equal(0))
		Expect(recver.PostedRecvCount(tagT2)).To(Equal(numRecvs))
	})

	It("returns immediately from a non-blocking receive with nothing pending", func() {
		ds, err := recver.RecvData([]types.Tag{tagT}, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(ds).To(BeEmpty())
		Expect(recver.PostedRecvCount(tagT)).To(Equal(numRecvs))
	})

	It("rejects sends on an unregistered tag", func() {
		err := sender.SendData(1, types.Tag(99), payload(10))
		var tagErr *messenger.UnregisteredTagError
		Expect(errors.As(err, &tagErr)).To(BeTrue())
		Expect(tagErr.Tag).To(Equal(types.Tag(99)))
	})

	It("leaves both pools and the partial table empty after shutdown", func() {
		Expect(sender.SendData(1, tagT, payload(250))).To(Succeed())

		sender.CleanupRequests(types.AllTags)
		for sender.PendingSendCount() > 0 {
			Expect(sender.CheckPendingSendRequests()).To(Succeed())
		}
		Expect(sender.PostedRecvCount(types.AllTags)).To(Equal(0))
		Expect(sender.PendingSendCount()).To(Equal(0))
		Expect(sender.PartialMessageCount()).To(Equal(0))
	})
})
