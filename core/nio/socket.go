package nio

import (
	"net"
	"sync/atomic"

	"github.com/Trinoooo/nodebus/consts"
	"github.com/Trinoooo/nodebus/core/nio/logs"
	"github.com/Trinoooo/nodebus/errs"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const maxSoMaxConn = 500

// SocketChannel 一条已建立的 tcp 连接
type SocketChannel struct {
	IOChannel
	localAddr  *net.TCPAddr
	remoteAddr *net.TCPAddr
}

func newSocketChannel(fd int, local, remote unix.Sockaddr) (*SocketChannel, error) {
	sc := &SocketChannel{
		localAddr:  toTCPAddr(local),
		remoteAddr: toTCPAddr(remote),
	}
	if err := sc.setup(sc, fd, true); err != nil {
		return nil, err
	}
	return sc, nil
}

func (sc *SocketChannel) LocalAddr() net.Addr {
	return sc.localAddr
}

func (sc *SocketChannel) RemoteAddr() net.Addr {
	return sc.remoteAddr
}

// Dial 阻塞地建立连接，连接建立后切换为非阻塞
func Dial(addr [4]byte, port int) (*SocketChannel, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, errs.NewIOErr().WithErr(err)
	}
	unix.CloseOnExec(fd)

	raddr := &unix.SockaddrInet4{Port: port, Addr: addr}
	for {
		err = unix.Connect(fd, raddr)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		_ = unix.Close(fd)
		return nil, errs.NewIOErr().WithErr(err)
	}

	laddr, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, errs.NewIOErr().WithErr(err)
	}
	sc, err := newSocketChannel(fd, laddr, raddr)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return sc, nil
}

// ServerSocketChannel 监听 socket，就绪事件通过 OpAccept 注册
type ServerSocketChannel struct {
	AbstractChannel
	fd   atomic.Int64
	addr *net.TCPAddr
}

// Listen port 为 0 时由内核分配端口，通过 Addr 获取
func Listen(addr [4]byte, port int) (*ServerSocketChannel, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, errs.NewIOErr().WithErr(err)
	}
	unix.CloseOnExec(fd)

	fail := func(err error) (*ServerSocketChannel, error) {
		_ = unix.Close(fd)
		e := errs.NewIOErr().WithErr(err)
		logs.Error(e.Error(), zap.String(consts.LogFieldParams, "port"), zap.Int(consts.LogFieldValue, port))
		return nil, e
	}

	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail(err)
	}
	if err = unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: addr}); err != nil {
		return fail(err)
	}
	if err = unix.Listen(fd, maxSoMaxConn); err != nil {
		return fail(err)
	}
	if err = unix.SetNonblock(fd, true); err != nil {
		return fail(err)
	}
	laddr, err := unix.Getsockname(fd)
	if err != nil {
		return fail(err)
	}

	ssc := &ServerSocketChannel{addr: toTCPAddr(laddr)}
	ssc.fd.Store(int64(fd))
	ssc.init(ssc)
	return ssc, nil
}

func (ssc *ServerSocketChannel) Fd() int {
	return int(ssc.fd.Load())
}

func (ssc *ServerSocketChannel) IsOpen() bool {
	return ssc.Fd() >= 0
}

func (ssc *ServerSocketChannel) Addr() *net.TCPAddr {
	return ssc.addr
}

// Accept 没有待处理连接时返回包裹 EAGAIN 的 I/O 错误
func (ssc *ServerSocketChannel) Accept() (*SocketChannel, error) {
	for {
		fd := ssc.Fd()
		if fd < 0 {
			return nil, errs.NewClosedChannelErr()
		}
		nfd, sa, err := unix.Accept(fd)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.ECONNABORTED) {
				continue
			}
			return nil, errs.NewIOErr().WithErr(err)
		}
		unix.CloseOnExec(nfd)

		laddr, err := unix.Getsockname(nfd)
		if err != nil {
			_ = unix.Close(nfd)
			return nil, errs.NewIOErr().WithErr(err)
		}
		sc, err := newSocketChannel(nfd, laddr, sa)
		if err != nil {
			_ = unix.Close(nfd)
			return nil, err
		}
		logs.Debug("connection accepted", zap.Int(consts.LogFieldFd, nfd), zap.Stringer("remote", sc.remoteAddr))
		return sc, nil
	}
}

func (ssc *ServerSocketChannel) Close() error {
	ssc.regMu.Lock()
	defer ssc.regMu.Unlock()

	fd := ssc.Fd()
	if fd < 0 {
		return nil
	}
	err := ssc.cancelKeys()
	ssc.fd.Store(-1)
	if e := unix.Close(fd); e != nil {
		err = wrapClose(err, e)
	}
	return err
}

func (ssc *ServerSocketChannel) Destroy() {
	if err := ssc.Close(); err != nil {
		logs.Warn("destroy server socket failed", zap.Stringer(consts.LogFieldChannel, ssc.ID()), zap.Error(err))
	}
}

func toTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{
			IP:   net.IPv4(addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3]),
			Port: addr.Port,
		}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{
			IP:   net.IP(addr.Addr[:]),
			Port: addr.Port,
		}
	}
	return nil
}
