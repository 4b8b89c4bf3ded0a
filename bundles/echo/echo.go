// Package echo 一个 tcp 回显 bundle，演示监听 socket 和连接在 selector 上的分发
package echo

import (
	"net"
	"strconv"

	"github.com/Trinoooo/nodebus/consts"
	"github.com/Trinoooo/nodebus/core/bundle"
	"github.com/Trinoooo/nodebus/core/nio"
	"github.com/Trinoooo/nodebus/errs"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	ActivatorName = "echo"
	// PropPort manifest 中的监听端口，缺省由内核分配
	PropPort = "Echo-Port"
)

type Echo struct {
	server *nio.ServerSocketChannel
}

func Register(registry *bundle.Registry) error {
	return registry.Register(ActivatorName, func() bundle.Activator {
		return &Echo{}
	})
}

func (e *Echo) Start(ctx *bundle.Context) error {
	port := 0
	if prop := ctx.Bundle().Property(PropPort); prop != "" {
		p, err := strconv.Atoi(prop)
		if err != nil || p < 0 || p > 65535 {
			return errs.NewInvalidParamErr().WithErr(errors.Errorf("%s: %q", PropPort, prop))
		}
		port = p
	}

	server, err := nio.Listen([4]byte{127, 0, 0, 1}, port)
	if err != nil {
		return err
	}
	e.server = server
	if _, err := ctx.Register(server, nio.OpAccept, e.acceptHandler(ctx)); err != nil {
		_ = server.Close()
		return err
	}
	ctx.Logger().Info("echo server listening", zap.Stringer("addr", server.Addr()))
	return nil
}

func (e *Echo) Stop(ctx *bundle.Context) error {
	// server 和所有连接由 context 关闭
	return nil
}

func (e *Echo) Addr() net.Addr {
	if e.server == nil {
		return nil
	}
	return e.server.Addr()
}

func (e *Echo) acceptHandler(ctx *bundle.Context) bundle.Handler {
	var handler bundle.HandlerFunc
	handler = func(key *nio.Key) error {
		for {
			conn, err := e.server.Accept()
			if errors.Is(err, unix.EAGAIN) {
				break
			}
			if err != nil {
				return err
			}
			if _, err := ctx.Register(conn, nio.OpRead, e.echoHandler(ctx, conn)); err != nil {
				_ = conn.Close()
				return err
			}
		}
		// 就绪通知是一次性的
		_, err := ctx.Register(e.server, nio.OpAccept, handler)
		return err
	}
	return handler
}

func (e *Echo) echoHandler(ctx *bundle.Context, conn *nio.SocketChannel) bundle.Handler {
	var handler bundle.HandlerFunc
	buf := make([]byte, 4*consts.KB)
	handler = func(key *nio.Key) error {
		for {
			n, err := conn.Read(buf)
			if errors.Is(err, unix.EAGAIN) {
				break
			}
			if errs.IsEOF(err) {
				ctx.Logger().Debug("echo connection closed", zap.Stringer("remote", conn.RemoteAddr()))
				_ = conn.Close()
				ctx.Disown(conn)
				return nil
			}
			if err != nil {
				return err
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return err
			}
		}
		_, err := ctx.Register(conn, nio.OpRead, handler)
		return err
	}
	return handler
}
