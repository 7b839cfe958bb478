/*
Copyright Scivis Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package grpctransport

import (
	"github.com/vmihailenco/msgpack/v4"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype under which the msgpack codec is
// registered.
const CodecName = "raynet-msgpack"

// envelope is the unit of transfer between two endpoints: one packet of the
// messaging layer, with the addressing the receiving mailbox needs.
type envelope struct {
	Src  int32  `msgpack:"src"`
	Tag  int32  `msgpack:"tag"`
	Data []byte `msgpack:"data"`
}

// msgpackCodec encodes envelopes with msgpack. Registered instead of running
// protobuf codegen: the payload bytes already carry the messaging layer's
// own header and are opaque to the transport.
type msgpackCodec struct{}

func (msgpackCodec) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

func (msgpackCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(msgpackCodec{})
}
