package rpc

import "fmt"

// Code is one member of the exhaustive error taxonomy every fallible core
// operation returns. The zero value, CodeOK, is never wrapped in an
// *Error; a nil error return means CodeOK.
type Code int

const (
	CodeOK Code = iota

	// Protocol negotiation failures.
	CodeInvalidVersion
	CodeIncompatibleService
	CodeIncompatibleSerialisation

	// Routing / lookup failures.
	CodeZoneNotFound
	CodeObjectNotFound
	CodeInvalidInterfaceID
	CodeInvalidCast

	// Payload failures.
	CodeProxyDeserialisationError
	CodeStubDeserialisationError
	CodeInvalidData

	// Ref-count invariant violation.
	CodeReferenceCountError

	// Catastrophic failures.
	CodeOutOfMemory
	CodeException

	// Configuration failures.
	CodeZoneNotInitialised
	CodeZoneNotSupported
)

var codeNames = [...]string{
	"OK",
	"INVALID_VERSION",
	"INCOMPATIBLE_SERVICE",
	"INCOMPATIBLE_SERIALISATION",
	"ZONE_NOT_FOUND",
	"OBJECT_NOT_FOUND",
	"INVALID_INTERFACE_ID",
	"INVALID_CAST",
	"PROXY_DESERIALISATION_ERROR",
	"STUB_DESERIALISATION_ERROR",
	"INVALID_DATA",
	"REFERENCE_COUNT_ERROR",
	"OUT_OF_MEMORY",
	"EXCEPTION",
	"ZONE_NOT_INITIALISED",
	"ZONE_NOT_SUPPORTED",
}

func (c Code) String() string {
	if int(c) < 0 || int(c) >= len(codeNames) {
		return "UNKNOWN"
	}
	return codeNames[c]
}

// Error is the error type returned by every fallible core operation. It carries
// a Code from the taxonomy plus a human-readable message for logs.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// NewError constructs an *Error with a formatted message.
func NewError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the Code from an error returned by this package, or
// CodeException if err is a non-nil error of a different type.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return CodeException
}

// maxRefCount is the sentinel returned by service-proxy add_ref/release in place
// of a real post-operation count when the remote end rejected the protocol version
//. It is distinguishable from any legal count.
const maxRefCount uint64 = ^uint64(0)
