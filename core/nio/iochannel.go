package nio

import (
	"sync/atomic"
	"time"

	"github.com/Trinoooo/nodebus/consts"
	"github.com/Trinoooo/nodebus/core/nio/logs"
	"github.com/Trinoooo/nodebus/core/nio/poller"
	"github.com/Trinoooo/nodebus/errs"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// StreamChannel 可以直接读写的 Channel
type StreamChannel interface {
	Channel
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	// Available 不阻塞的情况下可读的字节数
	Available() (int, error)
	// WaitForReadyRead timeout < 0 一直阻塞；对端关闭且没有剩余数据时返回 EOF 错误
	WaitForReadyRead(timeout time.Duration) (bool, error)
}

// IOChannel 基于文件描述符的 StreamChannel（管道、终端、socket）。
// 除了注册到 Selector，它自己还持有一个只包含这个 fd 的水平触发 poller，
// 用于阻塞式地等待可读。
type IOChannel struct {
	AbstractChannel

	fd             atomic.Int64 // -1 表示已关闭
	closeOnDestroy bool
	private        poller.Poller
	// 普通文件不能加入 epoll，总是认为可读
	pollable bool
}

func NewIOChannel(fd int, closeOnDestroy bool) (*IOChannel, error) {
	c := &IOChannel{}
	if err := c.setup(c, fd, closeOnDestroy); err != nil {
		return nil, err
	}
	return c, nil
}

// setup self 是最外层的具体 Channel，Key 里保存的是它
func (c *IOChannel) setup(self Channel, fd int, closeOnDestroy bool) error {
	if fd < 0 {
		e := errs.NewInvalidParamErr()
		logs.Error(e.Error(), zap.String(consts.LogFieldParams, "fd"), zap.Int(consts.LogFieldValue, fd))
		return e
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return errs.NewIOErr().WithErr(err)
	}

	p, err := poller.New()
	if err != nil {
		return errs.NewIOErr().WithErr(err)
	}
	c.pollable = true
	if err := p.Add(fd, poller.EventRead, false); err != nil {
		if !errors.Is(err, unix.EPERM) {
			_ = p.Close()
			return errs.NewIOErr().WithErr(err)
		}
		c.pollable = false
	}

	c.private = p
	c.closeOnDestroy = closeOnDestroy
	c.fd.Store(int64(fd))
	c.init(self)
	return nil
}

func (c *IOChannel) Fd() int {
	return int(c.fd.Load())
}

func (c *IOChannel) IsOpen() bool {
	return c.Fd() >= 0
}

func (c *IOChannel) Read(buf []byte) (int, error) {
	for {
		fd := c.Fd()
		if fd < 0 {
			return 0, errs.NewEOFErr()
		}
		n, err := unix.Read(fd, buf)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			return 0, errs.NewIOErr().WithErr(err)
		case n == 0 && len(buf) > 0:
			return 0, errs.NewEOFErr()
		}
		return n, nil
	}
}

// Write 一直写到 buf 全部写完，内核缓冲区满时等待可写
func (c *IOChannel) Write(buf []byte) (int, error) {
	written := 0
	for written < len(buf) {
		fd := c.Fd()
		if fd < 0 {
			return written, errs.NewClosedChannelErr()
		}
		n, err := unix.Write(fd, buf[written:])
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			if err := c.waitWritable(fd); err != nil {
				return written, err
			}
			continue
		case err != nil:
			return written, errs.NewIOErr().WithErr(err)
		}
		written += n
	}
	return written, nil
}

// waitWritable 私有 poller 只关心可读，写等待单独 poll 一次
func (c *IOChannel) waitWritable(fd int) error {
	for {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		_, err := unix.Poll(fds, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return errs.NewIOErr().WithErr(err)
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return errs.NewIOErr().WithErr(errors.Errorf("fd %d not writable, revents: %#x", fd, fds[0].Revents))
		}
		return nil
	}
}

func (c *IOChannel) Available() (int, error) {
	if !c.IsOpen() {
		return 0, errs.NewEOFErr()
	}
	if _, err := c.WaitForReadyRead(0); err != nil && !errs.IsEOF(err) {
		return 0, err
	}
	n, err := unix.IoctlGetInt(c.Fd(), fionread)
	if err != nil {
		return 0, errs.NewIOErr().WithErr(err)
	}
	return n, nil
}

func (c *IOChannel) WaitForReadyRead(timeout time.Duration) (bool, error) {
	if !c.IsOpen() {
		return false, errs.NewEOFErr()
	}
	if !c.pollable {
		return true, nil
	}

	var slot [1]poller.Pevent
	for {
		n, err := c.private.Wait(slot[:], timeout)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			if !c.IsOpen() {
				return false, errs.NewEOFErr()
			}
			return false, errs.NewIOErr().WithErr(err)
		}
		if n != 1 {
			return false, nil
		}
		break
	}

	evt := slot[0].Events
	switch {
	case evt&poller.EventError != 0:
		return false, errs.NewIOErr().WithErr(errors.Errorf("error condition on fd %d", c.Fd()))
	case evt&poller.EventRead != 0:
		// 挂断但仍有数据，先把数据读完
		return true, nil
	case evt&poller.EventHangup != 0:
		return false, errs.NewEOFErr()
	}
	return false, nil
}

// UpdateStatus 可读或挂断时探测剩余字节数，探测失败或为 0 说明对端已经关闭
func (c *IOChannel) UpdateStatus(ready Ops) {
	if ready&(OpRead|OpHangup) == 0 {
		return
	}
	fd := c.Fd()
	if fd < 0 {
		return
	}
	n, err := unix.IoctlGetInt(fd, fionread)
	if err != nil || n == 0 {
		logs.Debug("channel reached end of stream", zap.Stringer(consts.LogFieldChannel, c.ID()), zap.Int(consts.LogFieldFd, fd), zap.Stringer(consts.LogFieldOps, ready))
		if e := c.Close(); e != nil {
			logs.Warn("close channel failed", zap.Stringer(consts.LogFieldChannel, c.ID()), zap.Error(e))
		}
	}
}

// Close 幂等：先取消所有 Key，再关闭私有 poller 和 fd
func (c *IOChannel) Close() error {
	c.regMu.Lock()
	defer c.regMu.Unlock()

	fd := int(c.fd.Load())
	if fd < 0 {
		return nil
	}

	err := c.cancelKeys()
	c.fd.Store(-1)
	if e := c.private.Close(); e != nil {
		err = wrapClose(err, e)
	}
	if c.closeOnDestroy {
		if e := unix.Close(fd); e != nil {
			err = wrapClose(err, e)
		}
	}
	logs.Debug("channel closed", zap.Stringer(consts.LogFieldChannel, c.ID()), zap.Int(consts.LogFieldFd, fd))
	return err
}

// Destroy 最后一个 shared.Ptr 释放时调用
func (c *IOChannel) Destroy() {
	if err := c.Close(); err != nil {
		logs.Warn("destroy channel failed", zap.Stringer(consts.LogFieldChannel, c.ID()), zap.Error(err))
	}
}

func wrapClose(err, closeErr error) error {
	if err == nil {
		return errs.NewIOErr().WithErr(closeErr)
	}
	return errors.Wrap(err, closeErr.Error())
}

// Pipe 创建一对管道 Channel，两端都在 Close 时关闭 fd
func Pipe() (*IOChannel, *IOChannel, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, nil, errs.NewIOErr().WithErr(err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])

	r, err := NewIOChannel(fds[0], true)
	if err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return nil, nil, err
	}
	w, err := NewIOChannel(fds[1], true)
	if err != nil {
		_ = r.Close()
		_ = unix.Close(fds[1])
		return nil, nil, err
	}
	return r, w, nil
}
