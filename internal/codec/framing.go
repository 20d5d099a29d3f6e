package codec

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/carbondb/carbon/internal/carbonerr"
)

// ReadFrame reads one 4-byte-length-prefixed frame from r (spec §4.7).
// Returns io.EOF only when the stream ends cleanly before any bytes of a
// new frame arrive (matching the teacher's readCommand's EOF-vs-
// ErrUnexpectedEOF distinction in protocol.go); a partial length prefix or
// partial body is ErrUnexpectedEOF wrapped as ProtocolError. Any other read
// error (timeout, reset) is returned as IoError.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, carbonerr.Wrap(carbonerr.ProtocolError, errors.Wrap(err, "truncated frame length prefix"))
		}
		return nil, carbonerr.Wrap(carbonerr.IoError, err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameBytes {
		return nil, protoErr("frame exceeds maximum size")
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, carbonerr.Wrap(carbonerr.ProtocolError, errors.Wrap(io.ErrUnexpectedEOF, "truncated frame body"))
		}
		return nil, carbonerr.Wrap(carbonerr.IoError, err)
	}
	return body, nil
}

// WriteFrame writes payload as one 4-byte-length-prefixed frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameBytes {
		return errors.New("codec: frame exceeds maximum size")
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "codec: write frame length")
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "codec: write frame body")
	}
	return nil
}
