// Package loopback implements rpc.Transport entirely in-process: one
// Transport value forwards every request to a peer Service, round-tripping
// each Request through rpc.MarshalEnvelope/UnmarshalEnvelope so the wire
// envelope is exercised even though no socket is involved. It is a
// same-process stand-in for a real channel, used for local testing and for
// same-host zone pairs that don't need a socket at all.
package loopback

import (
	"context"

	"github.com/sammck-go/rpcfabric/rpc"
)

// Transport delivers every call synchronously to peer, as though peer sat on
// the other end of a physical channel.
type Transport struct {
	peer *rpc.Service
}

// New returns a Transport that routes to peer.
func New(peer *rpc.Service) *Transport {
	return &Transport{peer: peer}
}

// Send implements rpc.Transport.
func (t *Transport) Send(ctx context.Context, req *rpc.Request) (*rpc.Reply, error) {
	envelope, err := rpc.MarshalEnvelope(req)
	if err != nil {
		return nil, err
	}
	wireReq, err := rpc.UnmarshalEnvelope(envelope)
	if err != nil {
		return nil, err
	}

	out, callErr := t.peer.Send(
		ctx,
		wireReq.ProtocolVersion,
		wireReq.Encoding,
		wireReq.CallerChannelZone,
		wireReq.CallerZone,
		wireReq.DestinationZone,
		wireReq.ObjectID,
		wireReq.InterfaceID,
		wireReq.MethodID,
		wireReq.InPayload,
	)
	if callErr != nil {
		return &rpc.Reply{Code: rpc.CodeOf(callErr)}, nil
	}
	return &rpc.Reply{Code: rpc.CodeOK, OutPayload: out}, nil
}

// TryCast implements rpc.Transport.
func (t *Transport) TryCast(ctx context.Context, req *rpc.RefCountRequest) error {
	return t.peer.TryCast(ctx, req.ProtocolVersion, req.Destination, req.Caller, req.ObjectID, req.InterfaceID)
}

// AddRef implements rpc.Transport.
func (t *Transport) AddRef(ctx context.Context, req *rpc.RefCountRequest) (uint64, error) {
	n, err := t.peer.AddRef(
		ctx,
		req.ProtocolVersion,
		req.DestinationChannelZone, req.DestinationChannelZone != 0,
		req.Destination,
		req.ObjectID,
		req.CallerChannelZone, req.CallerChannelZone != 0,
		req.Caller,
		req.KnownDirectionZone,
		req.BuildOptions,
	)
	return versionMismatchAsSentinel(n, err)
}

// Release implements rpc.Transport.
func (t *Transport) Release(ctx context.Context, req *rpc.RefCountRequest) (uint64, error) {
	n, err := t.peer.Release(ctx, req.ProtocolVersion, req.Destination, req.ObjectID, req.Caller)
	return versionMismatchAsSentinel(n, err)
}

// versionMismatchAsSentinel turns the peer's INVALID_VERSION error into the
// all-ones count that rpc.Transport's AddRef/Release report for a rejected
// protocol version.
func versionMismatchAsSentinel(n uint64, err error) (uint64, error) {
	if rpc.CodeOf(err) == rpc.CodeInvalidVersion {
		return ^uint64(0), nil
	}
	return n, err
}

// Close implements rpc.Transport. A loopback transport owns no physical
// resource.
func (t *Transport) Close() error { return nil }

// Connect wires a and b together as a single bidirectional channel: a gets a
// service_proxy routed through b, and vice versa. isParentChannel marks the
// b-side proxy (the direction a child zone holds onto) as a parent channel.
func Connect(a, b *rpc.Service, isParentChannel bool) (aToB, bToA *rpc.ServiceProxy, err error) {
	aToB, err = a.RegisterProxy(b.ZoneID().AsDestination(), a.ZoneID().AsCaller(), New(b), false)
	if err != nil {
		return nil, nil, err
	}
	bToA, err = b.RegisterProxy(a.ZoneID().AsDestination(), b.ZoneID().AsCaller(), New(a), isParentChannel)
	if err != nil {
		return nil, nil, err
	}
	return aToB, bToA, nil
}
