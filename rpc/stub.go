package rpc

import (
	"reflect"
	"sync"
)

// InterfaceStub dispatches (method_id, in-bytes) -> out-bytes for one
// (object, interface) pair.
type InterfaceStub interface {
	Call(methodID MethodID, inBytes []byte) ([]byte, error)
}

// InterfaceStubFactory wraps an implementation pointer into an InterfaceStub
// for one interface ordinal. A Service's factory table holds one of these per
// IDL interface, registered at construction.
type InterfaceStubFactory func(impl interface{}) (InterfaceStub, error)

// ObjectStub is the home-zone record for one implementation pointer: it holds
// a strong reference to the implementation, tracks a reference count, and
// dispatches incoming calls to the interface stub selected by ordinal.
type ObjectStub struct {
	Logger

	service  *Service
	objectID ObjectID

	mu         sync.Mutex
	impl       interface{}
	refCount   uint64
	interfaces map[InterfaceOrdinal]InterfaceStub

	// addr/hasAddr mirror the key used in the service's wrapped-object-to-stub
	// index, so Release can remove that entry in O(1) without a reverse scan.
	addr    uintptr
	hasAddr bool
}

func newObjectStub(service *Service, objectID ObjectID, impl interface{}) *ObjectStub {
	s := &ObjectStub{
		service:    service,
		objectID:   objectID,
		impl:       impl,
		interfaces: make(map[InterfaceOrdinal]InterfaceStub),
	}
	s.Logger = service.Logger.Fork("stub(%d)", objectID)
	return s
}

// ObjectID returns the stub's home-zone object id.
func (s *ObjectStub) ObjectID() ObjectID { return s.objectID }

// Implementation returns the wrapped local implementation, or nil once the
// stub's ref count has reached zero.
func (s *ObjectStub) Implementation() interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.impl
}

// implAddress returns a stable identity for impl suitable for the service's
// wrapped-object-to-stub index, so that repeated binds of the same local
// object reuse one ObjectStub instead of minting a new one each time.
func implAddress(impl interface{}) (uintptr, bool) {
	v := reflect.ValueOf(impl)
	switch v.Kind() {
	case reflect.Ptr, reflect.Chan, reflect.Map, reflect.UnsafePointer, reflect.Func:
		if v.IsNil() {
			return 0, false
		}
		return v.Pointer(), true
	default:
		return 0, false
	}
}

// TryCast asks the owning service's stub factory table whether the wrapped
// implementation supports interfaceID, materialising the new interface stub
// on success so subsequent Call()s on that ordinal succeed.
func (s *ObjectStub) TryCast(interfaceID InterfaceOrdinal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tryCastLocked(interfaceID)
}

func (s *ObjectStub) tryCastLocked(interfaceID InterfaceOrdinal) error {
	if _, ok := s.interfaces[interfaceID]; ok {
		return nil
	}
	if s.impl == nil {
		return NewError(CodeInvalidCast, "stub %d already released", s.objectID)
	}
	factory, ok := s.service.stubFactory(interfaceID)
	if !ok {
		return NewError(CodeInvalidCast, "interface %d not registered", interfaceID)
	}
	stub, err := factory(s.impl)
	if err != nil {
		return NewError(CodeInvalidCast, "interface %d: implementation does not support cast: %v", interfaceID, err)
	}
	s.interfaces[interfaceID] = stub
	return nil
}

// Call dispatches (interface_id, method_id, in-bytes) to the implementation
// and returns out-bytes, converting any implementation panic into
// CodeException.
func (s *ObjectStub) Call(
	version ProtocolVersion,
	_ Encoding,
	_ CallerChannelZone,
	_ CallerZone,
	interfaceID InterfaceOrdinal,
	methodID MethodID,
	inBytes []byte,
) (outBytes []byte, err error) {
	if !versionInBand(version) {
		return nil, NewError(CodeInvalidVersion, "version %d outside [%d,%d]", version, LowestSupportedVersion, HighestSupportedVersion)
	}

	s.mu.Lock()
	stub, ok := s.interfaces[interfaceID]
	if !ok {
		if castErr := s.tryCastLocked(interfaceID); castErr != nil {
			s.mu.Unlock()
			return nil, NewError(CodeInvalidInterfaceID, "interface %d: %v", interfaceID, castErr)
		}
		stub = s.interfaces[interfaceID]
	}
	s.mu.Unlock()

	s.service.Telemetry.OnStubSend(s.service.zoneID, s.objectID, interfaceID, methodID)

	defer func() {
		if r := recover(); r != nil {
			s.WLogf("implementation panic in object %d interface %d method %d: %v", s.objectID, interfaceID, methodID, r)
			err = NewError(CodeException, "%v", r)
			outBytes = nil
		}
	}()

	out, callErr := stub.Call(methodID, inBytes)
	if callErr != nil {
		return nil, NewError(CodeException, "%v", callErr)
	}
	return out, nil
}

// AddRef increments the stub's reference count and returns the new count
//.
func (s *ObjectStub) AddRef() uint64 {
	s.mu.Lock()
	s.refCount++
	n := s.refCount
	s.mu.Unlock()
	s.service.Telemetry.OnStubAddRef(s.service.zoneID, s.objectID, n)
	return n
}

// Release decrements the stub's reference count and returns the new count.
// When the count reaches zero, the stub removes itself from the service's
// maps and drops the implementation pointer; this happens outside the
// service's stub_control lock, since dropping the implementation can make
// outbound calls.
func (s *ObjectStub) Release() uint64 {
	s.mu.Lock()
	if s.refCount == 0 {
		s.mu.Unlock()
		return 0
	}
	s.refCount--
	n := s.refCount
	s.mu.Unlock()

	s.service.Telemetry.OnStubRelease(s.service.zoneID, s.objectID, n)

	if n == 0 {
		s.service.removeStub(s)
		s.service.Telemetry.OnStubDeletion(s.service.zoneID, s.objectID)
		s.mu.Lock()
		s.impl = nil
		s.mu.Unlock()
	}
	return n
}

// RefCount returns the current reference count. Exposed for tests verifying
// ref-count round trips.
func (s *ObjectStub) RefCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refCount
}
