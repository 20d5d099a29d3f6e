package codec_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/carbondb/carbon/internal/codec"
)

// Codec round-trip is one of the invariants spec §8 calls out by name:
// decode(encode(r)) == r for every Request/Response shape.
func TestCodecRoundTripProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	props := gopter.NewProperties(params)

	nameGen := gen.RegexMatch(`[a-z0-9_-]{1,32}`)
	byteSliceGen := gen.SliceOf(gen.UInt8()).Map(func(bs []uint8) []byte {
		out := make([]byte, len(bs))
		for i, b := range bs {
			out[i] = byte(b)
		}
		return out
	})

	props.Property("put request round-trips", prop.ForAll(
		func(name string, key, value []byte) bool {
			req := codec.Request{Command: codec.CmdPut, CacheName: []byte(name), Key: key, Value: value}
			decoded, err := codec.DecodeRequest(codec.EncodeRequest(req))
			if err != nil {
				return false
			}
			return string(decoded.CacheName) == name &&
				bytesEqual(decoded.Key, key) &&
				bytesEqual(decoded.Value, value)
		},
		nameGen, byteSliceGen, byteSliceGen,
	))

	props.Property("get request round-trips", prop.ForAll(
		func(name string, key []byte) bool {
			req := codec.Request{Command: codec.CmdGet, CacheName: []byte(name), Key: key}
			decoded, err := codec.DecodeRequest(codec.EncodeRequest(req))
			if err != nil {
				return false
			}
			return string(decoded.CacheName) == name && bytesEqual(decoded.Key, key)
		},
		nameGen, byteSliceGen,
	))

	props.Property("value response round-trips", prop.ForAll(
		func(value []byte) bool {
			resp := codec.Response{Kind: codec.RespValue, Value: value}
			decoded, err := codec.DecodeResponse(codec.EncodeResponse(resp))
			if err != nil {
				return false
			}
			return bytesEqual(decoded.Value, value)
		},
		byteSliceGen,
	))

	props.TestingRun(t)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
