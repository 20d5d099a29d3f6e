// Package codec implements the binary protocol component (spec §4.7):
// encode/decode of request and response frames for the length-delimited
// TCP front-end.
//
// The framing and zero-copy field extraction follow the teacher's
// protocol.go `reader` type (bufio-backed, ReadSlice-based field slicing
// that never copies into a new buffer) and its `checkKey`/parseKeyFields
// validation style, adapted from a text memcached grammar to fixed-width
// binary fields.
package codec

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/carbondb/carbon/internal/carbonerr"
)

// Command identifies a request frame's first byte (spec §4.7).
type Command byte

const (
	CmdPing   Command = 0x00
	CmdPut    Command = 0x01
	CmdGet    Command = 0x02
	CmdDelete Command = 0x03
)

// ResponseKind identifies a response frame's first byte (spec §4.7).
type ResponseKind byte

const (
	RespPong     ResponseKind = 0x00
	RespOk       ResponseKind = 0x01
	RespValue    ResponseKind = 0x02
	RespNotFound ResponseKind = 0x03
	RespError    ResponseKind = 0x04
)

// MaxFrameBytes bounds the length-prefixed frame size (spec §4.7).
const MaxFrameBytes = 8 * 1024 * 1024

// Request is a decoded request frame. CacheName, Key and Value are
// zero-copy slices into the frame buffer passed to Decode: they are only
// valid until that buffer is reused or overwritten, matching spec §4.7's
// "decoding MUST NOT copy value bytes" requirement.
type Request struct {
	Command   Command
	CacheName []byte
	Key       []byte
	Value     []byte
}

// Response is a decoded or to-be-encoded response frame.
type Response struct {
	Kind    ResponseKind
	Value   []byte
	Message string
}

// DecodeRequest parses one request frame's body (the bytes after the
// 4-byte length prefix has already been stripped by the framing layer,
// §4.7). Returns ProtocolError on any malformed input.
func DecodeRequest(frame []byte) (Request, error) {
	if len(frame) == 0 {
		return Request{}, protoErr("empty frame")
	}
	cmd := Command(frame[0])
	body := frame[1:]
	switch cmd {
	case CmdPing:
		return Request{Command: cmd}, nil
	case CmdPut:
		return decodePut(body)
	case CmdGet, CmdDelete:
		name, key, err := decodeNameAndKey(body)
		if err != nil {
			return Request{}, err
		}
		return Request{Command: cmd, CacheName: name, Key: key}, nil
	default:
		return Request{}, protoErr("unknown command byte")
	}
}

func decodePut(body []byte) (Request, error) {
	name, rest, err := takeLenPrefixed(body)
	if err != nil {
		return Request{}, err
	}
	if !utf8.Valid(name) {
		return Request{}, protoErr("cache name is not valid utf-8")
	}
	keyLen, rest, err := takeU32(rest)
	if err != nil {
		return Request{}, err
	}
	valueLen, rest, err := takeU32(rest)
	if err != nil {
		return Request{}, err
	}
	if uint64(keyLen)+uint64(valueLen) > uint64(len(rest)) {
		return Request{}, protoErr("truncated put payload")
	}
	key := rest[:keyLen]
	value := rest[keyLen : keyLen+valueLen]
	return Request{Command: CmdPut, CacheName: name, Key: key, Value: value}, nil
}

func decodeNameAndKey(body []byte) (name, key []byte, err error) {
	name, rest, err := takeLenPrefixed(body)
	if err != nil {
		return nil, nil, err
	}
	if !utf8.Valid(name) {
		return nil, nil, protoErr("cache name is not valid utf-8")
	}
	keyLen, rest, err := takeU32(rest)
	if err != nil {
		return nil, nil, err
	}
	if uint64(keyLen) > uint64(len(rest)) {
		return nil, nil, protoErr("truncated key field")
	}
	return name, rest[:keyLen], nil
}

func takeU32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, protoErr("truncated u32 field")
	}
	return binary.BigEndian.Uint32(b), b[4:], nil
}

func takeLenPrefixed(b []byte) (field, rest []byte, err error) {
	n, rest, err := takeU32(b)
	if err != nil {
		return nil, nil, err
	}
	if uint64(n) > uint64(len(rest)) {
		return nil, nil, protoErr("truncated length-prefixed field")
	}
	return rest[:n], rest[n:], nil
}

// EncodeRequest serializes r into a new frame body (without the length
// prefix; the framing layer adds that). Used by the TCP client side and
// by codec round-trip tests.
func EncodeRequest(r Request) []byte {
	switch r.Command {
	case CmdPing:
		return []byte{byte(CmdPing)}
	case CmdPut:
		out := make([]byte, 0, 1+4+len(r.CacheName)+4+4+len(r.Key)+len(r.Value))
		out = append(out, byte(CmdPut))
		out = appendU32(out, uint32(len(r.CacheName)))
		out = append(out, r.CacheName...)
		out = appendU32(out, uint32(len(r.Key)))
		out = appendU32(out, uint32(len(r.Value)))
		out = append(out, r.Key...)
		out = append(out, r.Value...)
		return out
	case CmdGet, CmdDelete:
		out := make([]byte, 0, 1+4+len(r.CacheName)+4+len(r.Key))
		out = append(out, byte(r.Command))
		out = appendU32(out, uint32(len(r.CacheName)))
		out = append(out, r.CacheName...)
		out = appendU32(out, uint32(len(r.Key)))
		out = append(out, r.Key...)
		return out
	default:
		panic("codec: EncodeRequest: unknown command")
	}
}

// DecodeResponse parses one response frame's body.
func DecodeResponse(frame []byte) (Response, error) {
	if len(frame) == 0 {
		return Response{}, protoErr("empty frame")
	}
	kind := ResponseKind(frame[0])
	body := frame[1:]
	switch kind {
	case RespPong, RespOk, RespNotFound:
		return Response{Kind: kind}, nil
	case RespValue:
		value, rest, err := takeLenPrefixed(body)
		if err != nil {
			return Response{}, err
		}
		if len(rest) != 0 {
			return Response{}, protoErr("trailing bytes after value")
		}
		return Response{Kind: kind, Value: value}, nil
	case RespError:
		msg, rest, err := takeLenPrefixed(body)
		if err != nil {
			return Response{}, err
		}
		if len(rest) != 0 {
			return Response{}, protoErr("trailing bytes after error message")
		}
		if !utf8.Valid(msg) {
			return Response{}, protoErr("error message is not valid utf-8")
		}
		return Response{Kind: kind, Message: string(msg)}, nil
	default:
		return Response{}, protoErr("unknown response kind byte")
	}
}

// EncodeResponse serializes r into a new frame body.
func EncodeResponse(r Response) []byte {
	switch r.Kind {
	case RespPong, RespOk, RespNotFound:
		return []byte{byte(r.Kind)}
	case RespValue:
		out := make([]byte, 0, 1+4+len(r.Value))
		out = append(out, byte(RespValue))
		out = appendU32(out, uint32(len(r.Value)))
		out = append(out, r.Value...)
		return out
	case RespError:
		msg := []byte(r.Message)
		out := make([]byte, 0, 1+4+len(msg))
		out = append(out, byte(RespError))
		out = appendU32(out, uint32(len(msg)))
		out = append(out, msg...)
		return out
	default:
		panic("codec: EncodeResponse: unknown kind")
	}
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func protoErr(msg string) error {
	return carbonerr.New(carbonerr.ProtocolError, msg)
}
