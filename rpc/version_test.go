package rpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// pickyTransport rejects any AddRef/Send whose attempted protocol version is
// above minAccepted, mimicking an older peer.
type pickyTransport struct {
	minAccepted    ProtocolVersion
	sendAttempts   []ProtocolVersion
	addRefAttempts []ProtocolVersion
}

func (t *pickyTransport) Send(ctx context.Context, req *Request) (*Reply, error) {
	t.sendAttempts = append(t.sendAttempts, req.ProtocolVersion)
	if req.ProtocolVersion > t.minAccepted {
		return &Reply{Code: CodeInvalidVersion}, nil
	}
	return &Reply{Code: CodeOK, OutPayload: encodeString("ok")}, nil
}

func (t *pickyTransport) TryCast(ctx context.Context, req *RefCountRequest) error {
	return nil
}

func (t *pickyTransport) AddRef(ctx context.Context, req *RefCountRequest) (uint64, error) {
	t.addRefAttempts = append(t.addRefAttempts, req.ProtocolVersion)
	if req.ProtocolVersion > t.minAccepted {
		return maxRefCount, nil
	}
	return 1, nil
}

func (t *pickyTransport) Release(ctx context.Context, req *RefCountRequest) (uint64, error) {
	if req.ProtocolVersion > t.minAccepted {
		return maxRefCount, nil
	}
	return 0, nil
}

func (t *pickyTransport) Close() error { return nil }

// TestVersionDowngradeRetry verifies that a ServiceProxy starts out attempting
// CurrentVersion, retries downward one step at a time on CodeInvalidVersion,
// and once a version succeeds the cache never attempts a higher one again on
// a later call.
func TestVersionDowngradeRetry(t *testing.T) {
	transport := &pickyTransport{minAccepted: LowestSupportedVersion}
	svc := newTestService(1, nil)
	sp, err := svc.RegisterProxy(DestinationZone(2), CallerZone(1), transport, false)
	require.NoError(t, err)

	n, err := sp.AddRef(context.Background(), addRefRequest{ObjectID: 1})
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)

	require.Equal(t, HighestSupportedVersion-LowestSupportedVersion+1, ProtocolVersion(len(transport.addRefAttempts)))
	for i, v := range transport.addRefAttempts {
		require.Equal(t, HighestSupportedVersion-ProtocolVersion(i), v)
	}
	require.Equal(t, LowestSupportedVersion, sp.remoteVersion.current())

	out, err := sp.Send(context.Background(), 1, echoInterfaceID, echoMethodID, nil)
	require.NoError(t, err)
	require.Equal(t, "ok", decodeString(out))
	require.Equal(t, []ProtocolVersion{LowestSupportedVersion}, transport.sendAttempts)
}

// TestVersionIncompatibleServiceFails covers the case where no version in
// [LowestSupportedVersion, HighestSupportedVersion] is acceptable to the peer.
func TestVersionIncompatibleServiceFails(t *testing.T) {
	transport := &pickyTransport{minAccepted: LowestSupportedVersion - 1}
	svc := newTestService(1, nil)
	sp, err := svc.RegisterProxy(DestinationZone(2), CallerZone(1), transport, false)
	require.NoError(t, err)

	_, err = sp.AddRef(context.Background(), addRefRequest{ObjectID: 1})
	require.Error(t, err)
	require.Equal(t, CodeIncompatibleService, CodeOf(err))
}
