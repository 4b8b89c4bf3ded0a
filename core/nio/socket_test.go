package nio

import (
	"net"
	"testing"

	"github.com/Trinoooo/nodebus/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

var loopback = [4]byte{127, 0, 0, 1}

func TestAcceptAndEcho(t *testing.T) {
	s := newSelector(t)
	server, err := Listen(loopback, 0)
	require.Nil(t, err)
	defer server.Close()
	require.NotZero(t, server.Addr().Port)

	_, err = server.Accept()
	assert.ErrorIs(t, err, unix.EAGAIN)

	key, err := server.RegisterTo(s, OpAccept, "listener")
	require.Nil(t, err)

	client, err := Dial(loopback, server.Addr().Port)
	require.Nil(t, err)
	defer client.Close()
	assert.Equal(t, server.Addr().Port, client.RemoteAddr().(*net.TCPAddr).Port)

	ok, err := s.Select(1000)
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, []*Key{key}, s.SelectedKeys())
	assert.True(t, key.IsAcceptable())
	assert.True(t, server.IsOpen())

	conn, err := server.Accept()
	require.Nil(t, err)
	defer conn.Close()
	assert.Equal(t, client.LocalAddr().String(), conn.RemoteAddr().String())

	connKey, err := conn.RegisterTo(s, OpRead, nil)
	require.Nil(t, err)
	_, err = client.Write([]byte("ping"))
	require.Nil(t, err)

	ok, err = s.Select(1000)
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, []*Key{connKey}, s.SelectedKeys())
	_, isSocket := connKey.Channel().(*SocketChannel)
	assert.True(t, isSocket)

	buf := make([]byte, 8)
	n, err := conn.Read(buf)
	require.Nil(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	// 客户端关闭后服务端读到 EOF
	require.Nil(t, client.Close())
	_, err = conn.RegisterTo(s, OpRead, nil)
	require.Nil(t, err)
	ok, err = s.Select(1000)
	require.Nil(t, err)
	require.True(t, ok)
	assert.False(t, conn.IsOpen())
	_, err = conn.Read(buf)
	assert.True(t, errs.IsEOF(err))
}

func TestServerSocketClose(t *testing.T) {
	s := newSelector(t)
	server, err := Listen(loopback, 0)
	require.Nil(t, err)

	key, err := server.RegisterTo(s, OpAccept, nil)
	require.Nil(t, err)
	require.Nil(t, server.Close())
	require.Nil(t, server.Close())
	assert.True(t, key.IsCancelled())

	_, err = server.Accept()
	assert.EqualValues(t, errs.ClosedChannelErrCode, errs.GetCode(err))

	_, err = Dial(loopback, server.Addr().Port)
	assert.EqualValues(t, errs.IOErrCode, errs.GetCode(err))

	ok, err := s.Select(0)
	assert.Nil(t, err)
	assert.False(t, ok)
}
