package loopback_test

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sammck-go/rpcfabric/pkg/transport/loopback"
	"github.com/sammck-go/rpcfabric/rpc"
)

const (
	echoInterfaceID rpc.InterfaceOrdinal = 1
	echoMethodID    rpc.MethodID         = 1
)

type echoObj struct{ name string }

func (e *echoObj) Echo(s string) string { return fmt.Sprintf("%s:%s", e.name, s) }

type echoInterfaceStub struct{ impl *echoObj }

func (s *echoInterfaceStub) Call(methodID rpc.MethodID, inBytes []byte) ([]byte, error) {
	if methodID != echoMethodID {
		return nil, rpc.NewError(rpc.CodeInvalidInterfaceID, "unknown method %d", methodID)
	}
	var in string
	if err := gob.NewDecoder(bytes.NewReader(inBytes)).Decode(&in); err != nil {
		return nil, err
	}
	out := s.impl.Echo(in)
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func echoStubFactory(impl interface{}) (rpc.InterfaceStub, error) {
	e, ok := impl.(*echoObj)
	if !ok {
		return nil, rpc.NewError(rpc.CodeInvalidCast, "not an *echoObj")
	}
	return &echoInterfaceStub{impl: e}, nil
}

func encodeString(s string) []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(&s)
	return buf.Bytes()
}

func decodeString(t *testing.T, b []byte) string {
	t.Helper()
	var s string
	require.NoError(t, gob.NewDecoder(bytes.NewReader(b)).Decode(&s))
	return s
}

func newZone(t *testing.T, zoneID rpc.Zone) *rpc.Service {
	t.Helper()
	cfg := rpc.NewServiceConfig(zoneID)
	cfg.StubFactories[echoInterfaceID] = echoStubFactory
	svc, err := rpc.NewService(cfg)
	require.NoError(t, err)
	return svc
}

// TestCrossZoneSend covers a pass-through across three zones: A reaches an
// object homed in C by routing through B, exercising Service.Send on an
// intermediate zone's non-local branch.
func TestCrossZoneSend(t *testing.T) {
	a := newZone(t, 1)
	b := newZone(t, 2)
	c := newZone(t, 3)

	_, _, err := loopback.Connect(a, b, false)
	require.NoError(t, err)
	_, _, err = loopback.Connect(b, c, false)
	require.NoError(t, err)

	// A's only route to C goes through B.
	_, err = a.RegisterProxy(c.ZoneID().AsDestination(), a.ZoneID().AsCaller(), loopback.New(b), false)
	require.NoError(t, err)

	impl := &echoObj{name: "zoneC"}
	stub, err := c.WrapObject(impl)
	require.NoError(t, err)

	out, err := a.Send(context.Background(), rpc.CurrentVersion, rpc.EncodingDefault, 0, a.ZoneID().AsCaller(), c.ZoneID().AsDestination(), stub.ObjectID(), echoInterfaceID, echoMethodID, encodeString("hi"))
	require.NoError(t, err)
	require.Equal(t, "zoneC:hi", decodeString(t, out))
}

// TestParentChildRefCounting covers a parent/child add: the child holds a
// standing external ref on its parent channel, and releasing a remote
// reference the child added returns the parent's stub count to its
// pre-child value.
func TestParentChildRefCounting(t *testing.T) {
	parent := newZone(t, 1)

	childCfg := &rpc.ChildServiceConfig{ServiceConfig: *rpc.NewServiceConfig(2), ParentZoneID: 1}
	childCfg.StubFactories[echoInterfaceID] = echoStubFactory
	child, err := rpc.NewChildService(childCfg, loopback.New(parent))
	require.NoError(t, err)

	_, err = parent.RegisterProxy(child.ZoneID().AsDestination(), parent.ZoneID().AsCaller(), loopback.New(child), false)
	require.NoError(t, err)

	impl := &echoObj{name: "parentObj"}
	stub, err := parent.WrapObject(impl)
	require.NoError(t, err)
	require.Equal(t, 1, parent.StubCount())

	ctx := context.Background()
	n, err := child.AddRef(ctx, rpc.CurrentVersion, 0, false, parent.ZoneID().AsDestination(), stub.ObjectID(), 0, false, child.ZoneID().AsCaller(), 0, rpc.AddRefNormal)
	require.NoError(t, err)
	require.Equal(t, uint64(2), n)

	out, err := child.Send(ctx, rpc.CurrentVersion, rpc.EncodingDefault, 0, child.ZoneID().AsCaller(), parent.ZoneID().AsDestination(), stub.ObjectID(), echoInterfaceID, echoMethodID, encodeString("ping"))
	require.NoError(t, err)
	require.Equal(t, "parentObj:ping", decodeString(t, out))

	n, err = child.Release(ctx, rpc.CurrentVersion, parent.ZoneID().AsDestination(), stub.ObjectID(), child.ZoneID().AsCaller())
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
	require.Equal(t, 1, parent.StubCount())

	require.Equal(t, uint64(0), stub.Release())
	require.Equal(t, 0, parent.StubCount())
}
