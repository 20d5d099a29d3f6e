package tcpserver

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/carbondb/carbon/internal/carbonerr"
	"github.com/carbondb/carbon/internal/codec"
	"github.com/carbondb/carbon/internal/registry"
)

// conn serves one TCP connection: read a frame, dispatch, write a
// response, strictly pipelined per spec §5 ("responses in request
// order"). Grounded on the teacher's conn (conn.go), whose loop/serve
// split and recover-then-close defer this mirrors; the text-protocol
// get/set/delete handlers become dispatchRequest's switch.
type conn struct {
	reg      *registry.Registry
	log      zerolog.Logger
	rwc      net.Conn
	deadline time.Duration
}

func newConn(reg *registry.Registry, log zerolog.Logger, rwc net.Conn, deadline time.Duration) *conn {
	return &conn{reg: reg, log: log, rwc: rwc, deadline: deadline}
}

func (c *conn) serve(ctx context.Context) {
	c.log.Debug().Msg("connection opened")
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := codec.ReadFrame(c.rwc)
		if err != nil {
			if err == io.EOF {
				c.log.Debug().Msg("connection closed by peer")
				return
			}
			// A framing-level ProtocolError still gets an Error response
			// before the connection continues, per spec §7: "connection
			// may continue" after a codec failure.
			if carbonerr.Is(err, carbonerr.ProtocolError) {
				c.writeError(err)
				continue
			}
			c.log.Warn().Err(err).Msg("connection read error")
			return
		}

		req, err := codec.DecodeRequest(frame)
		if err != nil {
			c.writeError(err)
			continue
		}

		c.rwc.SetDeadline(time.Now().Add(c.deadline))
		resp := c.dispatch(req)
		if err := codec.WriteFrame(c.rwc, codec.EncodeResponse(resp)); err != nil {
			c.log.Warn().Err(err).Msg("connection write error")
			return
		}
	}
}

// dispatch routes a decoded request into the Registry/Cache, translating
// every carbonerr.Kind into the wire response spec §7 mandates ("TCP maps
// every kind to Error{msg}"), except a missing key on Get/Delete, which
// gets its own NotFound frame; an unknown cache name is an Error.
func (c *conn) dispatch(req codec.Request) codec.Response {
	switch req.Command {
	case codec.CmdPing:
		return codec.Response{Kind: codec.RespPong}
	case codec.CmdPut:
		return c.handlePut(req)
	case codec.CmdGet:
		return c.handleGet(req)
	case codec.CmdDelete:
		return c.handleDelete(req)
	default:
		return errorResponse(carbonerr.New(carbonerr.ProtocolError, "unhandled command"))
	}
}

func (c *conn) handlePut(req codec.Request) codec.Response {
	cache, err := c.reg.Get(string(req.CacheName))
	if err != nil {
		return errorResponse(err)
	}
	if _, err := cache.Put(string(req.Key), req.Value, nil); err != nil {
		return errorResponse(err)
	}
	return codec.Response{Kind: codec.RespOk}
}

func (c *conn) handleGet(req codec.Request) codec.Response {
	cache, err := c.reg.Get(string(req.CacheName))
	if err != nil {
		return errorResponse(err)
	}
	reader, err := cache.Get(string(req.Key))
	if err != nil {
		if carbonerr.Is(err, carbonerr.NotFound) {
			return codec.Response{Kind: codec.RespNotFound}
		}
		return errorResponse(err)
	}
	defer reader.Close()
	value := make([]byte, 0, 64)
	buf := make([]byte, 4096)
	for {
		n, rerr := reader.Read(buf)
		if n > 0 {
			value = append(value, buf[:n]...)
		}
		if rerr != nil {
			break
		}
	}
	return codec.Response{Kind: codec.RespValue, Value: value}
}

func (c *conn) handleDelete(req codec.Request) codec.Response {
	cache, err := c.reg.Get(string(req.CacheName))
	if err != nil {
		return errorResponse(err)
	}
	if err := cache.Delete(string(req.Key)); err != nil {
		if carbonerr.Is(err, carbonerr.NotFound) {
			return codec.Response{Kind: codec.RespNotFound}
		}
		return errorResponse(err)
	}
	return codec.Response{Kind: codec.RespOk}
}

func (c *conn) writeError(err error) {
	if werr := codec.WriteFrame(c.rwc, codec.EncodeResponse(errorResponse(err))); werr != nil {
		c.log.Warn().Err(werr).Msg("failed to write error response")
	}
}

func errorResponse(err error) codec.Response {
	return codec.Response{Kind: codec.RespError, Message: err.Error()}
}
