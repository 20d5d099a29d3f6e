package tcpserver_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/carbondb/carbon/internal/clock"
	"github.com/carbondb/carbon/internal/codec"
	"github.com/carbondb/carbon/internal/policy"
	"github.com/carbondb/carbon/internal/registry"
	"github.com/carbondb/carbon/internal/tcpserver"
)

func startServer(t *testing.T) (net.Conn, *registry.Registry, func()) {
	reg := registry.New(clock.System{}, zerolog.Nop())
	_, err := reg.Create(registry.Spec{Name: "c1", Policy: policy.LRU, MemBytesBudget: 1 << 20})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := tcpserver.New(tcpserver.Config{Addr: ln.Addr().String()}, reg, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	cleanup := func() {
		conn.Close()
		cancel()
	}
	return conn, reg, cleanup
}

func roundTrip(t *testing.T, conn net.Conn, req codec.Request) codec.Response {
	require.NoError(t, codec.WriteFrame(conn, codec.EncodeRequest(req)))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	frame, err := codec.ReadFrame(conn)
	require.NoError(t, err)
	resp, err := codec.DecodeResponse(frame)
	require.NoError(t, err)
	return resp
}

func TestPingPong(t *testing.T) {
	conn, _, cleanup := startServer(t)
	defer cleanup()

	resp := roundTrip(t, conn, codec.Request{Command: codec.CmdPing})
	require.Equal(t, codec.RespPong, resp.Kind)
}

func TestPutGetDeleteOverTCP(t *testing.T) {
	conn, _, cleanup := startServer(t)
	defer cleanup()

	putResp := roundTrip(t, conn, codec.Request{Command: codec.CmdPut, CacheName: []byte("c1"), Key: []byte("hello"), Value: []byte("world")})
	require.Equal(t, codec.RespOk, putResp.Kind)

	getResp := roundTrip(t, conn, codec.Request{Command: codec.CmdGet, CacheName: []byte("c1"), Key: []byte("hello")})
	require.Equal(t, codec.RespValue, getResp.Kind)
	require.Equal(t, []byte("world"), getResp.Value)

	missResp := roundTrip(t, conn, codec.Request{Command: codec.CmdGet, CacheName: []byte("c1"), Key: []byte("absent")})
	require.Equal(t, codec.RespNotFound, missResp.Kind)

	delResp := roundTrip(t, conn, codec.Request{Command: codec.CmdDelete, CacheName: []byte("c1"), Key: []byte("hello")})
	require.Equal(t, codec.RespOk, delResp.Kind)

	getAfterDelete := roundTrip(t, conn, codec.Request{Command: codec.CmdGet, CacheName: []byte("c1"), Key: []byte("hello")})
	require.Equal(t, codec.RespNotFound, getAfterDelete.Kind)
}

func TestUnknownCacheIsErrorNotCrash(t *testing.T) {
	conn, _, cleanup := startServer(t)
	defer cleanup()

	resp := roundTrip(t, conn, codec.Request{Command: codec.CmdGet, CacheName: []byte("nope"), Key: []byte("k")})
	require.Equal(t, codec.RespError, resp.Kind)
	require.NotEmpty(t, resp.Message)

	// Connection must still be usable after an error response.
	pong := roundTrip(t, conn, codec.Request{Command: codec.CmdPing})
	require.Equal(t, codec.RespPong, pong.Kind)
}

func TestSequentialRequestsOnOneConnectionAnsweredInOrder(t *testing.T) {
	conn, _, cleanup := startServer(t)
	defer cleanup()

	for i := 0; i < 5; i++ {
		resp := roundTrip(t, conn, codec.Request{Command: codec.CmdPut, CacheName: []byte("c1"), Key: []byte{byte(i)}, Value: []byte{byte(i)}})
		require.Equal(t, codec.RespOk, resp.Kind)
	}
	for i := 0; i < 5; i++ {
		resp := roundTrip(t, conn, codec.Request{Command: codec.CmdGet, CacheName: []byte("c1"), Key: []byte{byte(i)}})
		require.Equal(t, codec.RespValue, resp.Kind)
		require.Equal(t, []byte{byte(i)}, resp.Value)
	}
}
