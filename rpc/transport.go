package rpc

import "context"

// Transport is what a ServiceProxy uses to deliver requests to whatever sits
// on the other end of its physical channel. The concrete transport (in-process,
// enclave, TCP/WebSocket) is deliberately out of the core's scope; the core specifies only this interface.
//
// Every method is a suspension point: an implementation may block
// the calling goroutine or hand off to a scheduler, so long as ordering of
// calls issued by a single logical caller is preserved on the wire.
type Transport interface {
	// Send delivers a method call request and waits for its reply.
	Send(ctx context.Context, req *Request) (*Reply, error)

	// TryCast asks the peer whether the given object supports interfaceID.
	TryCast(ctx context.Context, req *RefCountRequest) error

	// AddRef asks the peer to add a reference, per req.BuildOptions. It returns
	// maxRefCount if the peer rejected the request's protocol version.
	AddRef(ctx context.Context, req *RefCountRequest) (uint64, error)

	// Release asks the peer to release a reference. It returns maxRefCount if
	// the peer rejected the request's protocol version.
	Release(ctx context.Context, req *RefCountRequest) (uint64, error)

	// Close tears down the physical channel. It is called when a ServiceProxy
	// that owns this transport is destroyed.
	Close() error
}
