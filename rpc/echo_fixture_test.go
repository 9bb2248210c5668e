package rpc

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// echoObj is the simplest possible local implementation used throughout the
// scenario tests: it echoes a string back with its name prefixed, so a test
// can tell which zone's implementation actually ran.
type echoObj struct {
	name  string
	calls int
}

func (e *echoObj) Echo(s string) string {
	e.calls++
	return fmt.Sprintf("%s:%s", e.name, s)
}

const (
	echoInterfaceID InterfaceOrdinal = 1
	echoMethodID    MethodID         = 1
)

type echoInterfaceStub struct{ impl *echoObj }

func (s *echoInterfaceStub) Call(methodID MethodID, inBytes []byte) ([]byte, error) {
	if methodID != echoMethodID {
		return nil, NewError(CodeInvalidInterfaceID, "unknown method %d", methodID)
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

func echoStubFactory(impl interface{}) (InterfaceStub, error) {
	e, ok := impl.(*echoObj)
	if !ok {
		return nil, NewError(CodeInvalidCast, "not an *echoObj")
	}
	return &echoInterfaceStub{impl: e}, nil
}

// panicObj always panics, to exercise Call's panic->CodeException conversion.
type panicObj struct{}

func (panicObj) Echo(string) string { panic("boom") }

type panicInterfaceStub struct{ impl *panicObj }

func (s *panicInterfaceStub) Call(MethodID, []byte) ([]byte, error) {
	_ = s.impl.Echo("x")
	return nil, nil
}

func panicStubFactory(impl interface{}) (InterfaceStub, error) {
	p, ok := impl.(*panicObj)
	if !ok {
		return nil, NewError(CodeInvalidCast, "not a *panicObj")
	}
	return &panicInterfaceStub{impl: p}, nil
}

func newTestService(zoneID Zone, factories map[InterfaceOrdinal]InterfaceStubFactory) *Service {
	cfg := NewServiceConfig(zoneID)
	for ord, f := range factories {
		cfg.StubFactories[ord] = f
	}
	svc, err := NewService(cfg)
	if err != nil {
		panic(err)
	}
	return svc
}

func encodeString(s string) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&s); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func decodeString(b []byte) string {
	var s string
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&s); err != nil {
		panic(err)
	}
	return s
}
