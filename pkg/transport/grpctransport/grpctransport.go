/*
Copyright Scivis Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package grpctransport implements the transport over gRPC. Each rank runs
// one gRPC server; every peer holds one client stream to it, over which
// packets travel as msgpack-encoded envelopes. Incoming envelopes feed the
// rank's mailbox, where posted receives are matched.
//
// A send completes as soon as the stream accepts the envelope; delivery is
// fire-and-forget, matching the messenger's send state machine.
package grpctransport

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	logger "github.com/rs/zerolog/log"
	"google.golang.org/grpc"

	"github.com/scivis-labs/raynet/pkg/transport"
	"github.com/scivis-labs/raynet/pkg/types"
)

// Maximum size of a gRPC message.
const maxMessageSize = 33554432 // 32 MB

// Connect deadline per peer when none is configured.
const defaultConnectTimeout = 30 * time.Second

// deliverServer is the server-side contract of the packet stream.
type deliverServer interface {
	deliver(stream grpc.ServerStream) error
}

func deliverHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(deliverServer).deliver(stream)
}

// serviceDesc describes the packet stream service. Registered by hand; the
// envelope codec makes generated stubs unnecessary.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "raynet.PacketStream",
	HandlerType: (*deliverServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Deliver",
			Handler:       deliverHandler,
			ClientStreams: true,
		},
	},
	Metadata: "raynet/packetstream",
}

var deliverStreamDesc = &serviceDesc.Streams[0]

const deliverMethod = "/raynet.PacketStream/Deliver"

// Transport is the gRPC-backed communicator endpoint of one rank.
type Transport struct {
	ownRank types.Rank

	// Maps every rank of the communicator to its "host:port" address.
	membership map[types.Rank]string

	// Deadline for establishing the connection to each peer.
	connectTimeout time.Duration

	mbox *transport.Mailbox

	server      *grpc.Server
	serverError error

	mu      sync.Mutex
	conns   map[types.Rank]*grpc.ClientConn
	streams map[types.Rank]grpc.ClientStream
}

var _ transport.Transport = (*Transport)(nil)

// NewTransport returns an endpoint for ownRank in the communicator described
// by membership (rank -> "host:port", one entry per rank including the own
// one). connectTimeout bounds the connection attempt to each peer; zero or
// negative selects the default. The endpoint is not yet listening nor
// connected; call Start() and Connect().
func NewTransport(membership map[types.Rank]string, ownRank types.Rank, connectTimeout time.Duration) *Transport {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	return &Transport{
		ownRank:        ownRank,
		membership:     membership,
		connectTimeout: connectTimeout,
		mbox:           transport.NewMailbox(),
		conns:          make(map[types.Rank]*grpc.ClientConn),
		streams:        make(map[types.Rank]grpc.ClientStream),
	}
}

// Rank returns the identity of this endpoint.
func (t *Transport) Rank() types.Rank {
	return t.ownRank
}

// Size returns the number of ranks in the communicator.
func (t *Transport) Size() int {
	return len(t.membership)
}

// deliver receives envelopes from one peer's client stream and feeds them to
// the mailbox. Runs inside the gRPC server for the lifetime of the stream.
func (t *Transport) deliver(stream grpc.ServerStream) error {
	for {
		var env envelope
		if err := stream.RecvMsg(&env); err != nil {
			if err != io.EOF {
				logger.Info().Err(err).Msg("Packet stream terminated.")
			}
			return nil
		}
		t.mbox.Deliver(types.Rank(env.Src), types.Tag(env.Tag), env.Data)
	}
}

// Start brings up the gRPC server on the own membership address. Before
// Start returns, no peer can connect to this endpoint.
func (t *Transport) Start() error {
	_, port, err := net.SplitHostPort(t.membership[t.ownRank])
	if err != nil {
		return errors.WithMessagef(err, "invalid own address %q", t.membership[t.ownRank])
	}

	logger.Info().Str("port", port).Int32("rank", t.ownRank.Pb()).Msg("Listening for packet streams.")

	t.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
	)
	t.server.RegisterService(&serviceDesc, t)

	conn, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return errors.WithMessagef(err, "failed to listen on port %s", port)
	}

	go func() {
		t.serverError = t.server.Serve(conn)
	}()

	return nil
}

// Connect establishes (in parallel) one packet stream to every peer. The
// peers' servers must already be running. Only after Connect returns is
// PostSend usable.
func (t *Transport) Connect() {
	wg := sync.WaitGroup{}

	for rank, addr := range t.membership {
		if rank == t.ownRank {
			continue
		}

		wg.Add(1)
		go func(rank types.Rank, addr string) {
			defer wg.Done()

			conn, stream, err := t.connectToPeer(addr)
			t.mu.Lock()
			t.conns[rank] = conn
			t.streams[rank] = stream
			t.mu.Unlock()

			if err != nil {
				logger.Error().Err(err).Int32("rank", rank.Pb()).Str("addr", addr).Msg("Failed to connect to peer.")
			} else {
				logger.Debug().Int32("rank", rank.Pb()).Str("addr", addr).Msg("Peer connected.")
			}
		}(rank, addr)
	}

	wg.Wait()
}

func (t *Transport) connectToPeer(addr string) (*grpc.ClientConn, grpc.ClientStream, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithBlock(),
		grpc.WithInsecure(),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(CodecName),
			grpc.MaxCallRecvMsgSize(maxMessageSize),
			grpc.MaxCallSendMsgSize(maxMessageSize),
		),
	}

	// The blocking dial is bounded by the connect timeout so that a peer
	// that never comes up cannot stall Connect() forever.
	dialCtx, cancel := context.WithTimeout(context.Background(), t.connectTimeout)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "dialing %s (timeout %s)", addr, t.connectTimeout)
	}

	// The stream must outlive the connect deadline; it is opened on the
	// already-established connection with the transport-lifetime context.
	stream, err := conn.NewStream(context.Background(), deliverStreamDesc, deliverMethod)
	if err != nil {
		if cerr := conn.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("Failed to close connection.")
		}
		return nil, nil, err
	}

	return conn, stream, nil
}

// PostRecv registers buf with the mailbox for an incoming packet.
func (t *Transport) PostRecv(buf []byte, src types.Rank, tag types.Tag) (transport.Request, error) {
	return t.mbox.PostRecv(buf, src, tag), nil
}

// PostSend ships one packet to dest. The returned request completes as soon
// as the stream has accepted the envelope; stream errors are logged and do
// not fail the operation.
func (t *Transport) PostSend(buf []byte, dest types.Rank, tag types.Tag) (transport.Request, error) {
	req := t.mbox.NextRequest()

	if dest == t.ownRank {
		t.mbox.Deliver(t.ownRank, tag, buf)
		t.mbox.CompleteSend(req)
		return req, nil
	}

	t.mu.Lock()
	stream := t.streams[dest]
	t.mu.Unlock()
	if stream == nil {
		return 0, errors.Errorf("no connection to rank %d", dest)
	}

	env := envelope{Src: t.ownRank.Pb(), Tag: tag.Pb(), Data: buf}
	if err := stream.SendMsg(&env); err != nil {
		logger.Error().Err(err).Int32("dest", dest.Pb()).Int32("tag", tag.Pb()).Msg("Failed to send packet.")
	}
	t.mbox.CompleteSend(req)
	return req, nil
}

// TestSome polls the given requests for completion.
func (t *Transport) TestSome(reqs []transport.Request) ([]int, error) {
	return t.mbox.TestSome(reqs), nil
}

// WaitSome blocks until at least one of the given requests completes.
func (t *Transport) WaitSome(reqs []transport.Request) ([]int, error) {
	return t.mbox.WaitSome(reqs), nil
}

// Cancel withdraws a posted receive.
func (t *Transport) Cancel(req transport.Request) error {
	t.mbox.Cancel(req)
	return nil
}

// Stop closes the streams to all peers and shuts down the server.
func (t *Transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for rank, stream := range t.streams {
		if stream == nil {
			continue
		}
		if err := stream.CloseSend(); err != nil {
			logger.Warn().Err(err).Int32("rank", rank.Pb()).Msg("Failed to close packet stream.")
		}
	}
	for rank, conn := range t.conns {
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil {
			logger.Warn().Err(err).Int32("rank", rank.Pb()).Msg("Failed to close connection.")
		}
	}

	if t.server != nil {
		t.server.GracefulStop()
	}
}

// ServerError returns the error the gRPC server exited with. Must not be
// called before Stop() has returned.
func (t *Transport) ServerError() error {
	return t.serverError
}
