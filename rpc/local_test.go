package rpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalEcho(t *testing.T) {
	svc := newTestService(1, map[InterfaceOrdinal]InterfaceStubFactory{
		echoInterfaceID: echoStubFactory,
	})

	impl := &echoObj{name: "zone1"}
	stub, err := svc.WrapObject(impl)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stub.RefCount())

	out, err := svc.Send(context.Background(), CurrentVersion, EncodingDefault, 0, 1, 1, stub.ObjectID(), echoInterfaceID, echoMethodID, encodeString("hello"))
	require.NoError(t, err)
	require.Equal(t, "zone1:hello", decodeString(out))
	require.Equal(t, 1, impl.calls)

	n := stub.Release()
	require.Equal(t, uint64(0), n)
	require.Equal(t, 0, svc.StubCount())
}

func TestLocalEchoWrapObjectReusesStub(t *testing.T) {
	svc := newTestService(1, map[InterfaceOrdinal]InterfaceStubFactory{echoInterfaceID: echoStubFactory})
	impl := &echoObj{name: "zone1"}

	s1, err := svc.WrapObject(impl)
	require.NoError(t, err)
	s2, err := svc.WrapObject(impl)
	require.NoError(t, err)

	require.Same(t, s1, s2)
	require.Equal(t, uint64(2), s1.RefCount())
	require.Equal(t, 1, svc.StubCount())

	require.Equal(t, uint64(1), s1.Release())
	require.Equal(t, uint64(0), s1.Release())
	require.Equal(t, 0, svc.StubCount())
}

func TestSendUnknownObjectFails(t *testing.T) {
	svc := newTestService(1, nil)
	_, err := svc.Send(context.Background(), CurrentVersion, EncodingDefault, 0, 1, 1, 999, echoInterfaceID, echoMethodID, encodeString("x"))
	require.Error(t, err)
	require.Equal(t, CodeObjectNotFound, CodeOf(err))
}

func TestSendOutOfBandVersionFails(t *testing.T) {
	svc := newTestService(1, nil)
	_, err := svc.Send(context.Background(), HighestSupportedVersion+1, EncodingDefault, 0, 1, 1, 1, echoInterfaceID, echoMethodID, nil)
	require.Error(t, err)
	require.Equal(t, CodeInvalidVersion, CodeOf(err))
}

func TestCallPanicBecomesException(t *testing.T) {
	svc := newTestService(1, map[InterfaceOrdinal]InterfaceStubFactory{
		2: panicStubFactory,
	})
	stub, err := svc.WrapObject(&panicObj{})
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), CurrentVersion, EncodingDefault, 0, 1, 1, stub.ObjectID(), 2, echoMethodID, nil)
	require.Error(t, err)
	require.Equal(t, CodeException, CodeOf(err))
}

func TestTryCastUnregisteredInterfaceFails(t *testing.T) {
	svc := newTestService(1, map[InterfaceOrdinal]InterfaceStubFactory{echoInterfaceID: echoStubFactory})
	stub, err := svc.WrapObject(&echoObj{name: "z"})
	require.NoError(t, err)

	err = svc.TryCast(context.Background(), CurrentVersion, 1, 1, stub.ObjectID(), 999)
	require.Error(t, err)
	require.Equal(t, CodeInvalidCast, CodeOf(err))

	err = svc.TryCast(context.Background(), CurrentVersion, 1, 1, stub.ObjectID(), echoInterfaceID)
	require.NoError(t, err)
}

func TestReleaseBeyondZeroIsNoop(t *testing.T) {
	svc := newTestService(1, map[InterfaceOrdinal]InterfaceStubFactory{echoInterfaceID: echoStubFactory})
	stub, err := svc.WrapObject(&echoObj{name: "z"})
	require.NoError(t, err)

	require.Equal(t, uint64(0), stub.Release())
	require.Equal(t, uint64(0), stub.Release())
}
