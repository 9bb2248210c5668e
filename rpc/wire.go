package rpc

import (
	"bytes"
	"encoding/gob"
)

// Request is the wire request every call carries. The concrete
// transport and serialisation library are out of scope;
// this struct is the core's contract with them.
type Request struct {
	ProtocolVersion ProtocolVersion
	Encoding        Encoding
	Tag             uint64

	CallerChannelZone CallerChannelZone
	CallerZone        CallerZone
	DestinationZone   DestinationZone

	ObjectID    ObjectID
	InterfaceID InterfaceOrdinal
	MethodID    MethodID

	InPayload []byte
}

// Reply is the wire reply to a Request.
type Reply struct {
	Code       Code
	OutPayload []byte
}

// RefCountRequest is the wire request for add_ref/release/try_cast.
type RefCountRequest struct {
	ProtocolVersion        ProtocolVersion
	DestinationChannelZone DestinationChannelZone
	CallerChannelZone      CallerChannelZone
	KnownDirectionZone     Zone

	Destination DestinationZone
	Caller      CallerZone
	ObjectID    ObjectID
	InterfaceID InterfaceOrdinal

	BuildOptions AddRefOptions
}

// MarshalEnvelope encodes a Request using encoding/gob. The core never
// interprets InPayload/OutPayload itself; this is only the
// envelope framing used by the in-process loopback transport.
func MarshalEnvelope(req *Request) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(req); err != nil {
		return nil, NewError(CodeInvalidData, "encode request: %v", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalEnvelope decodes a Request previously produced by MarshalEnvelope.
func UnmarshalEnvelope(data []byte) (*Request, error) {
	var req Request
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&req); err != nil {
		return nil, NewError(CodeInvalidData, "decode request: %v", err)
	}
	return &req, nil
}
