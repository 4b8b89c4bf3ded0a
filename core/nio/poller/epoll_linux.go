package poller

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

type EpollPoller struct {
	epfd atomic.Int64
	// buf Wait 复用的内核事件数组；并发 Wait 时拿不到的一方临时分配
	buf atomic.Pointer[[]unix.EpollEvent]
}

func New() (Poller, error) {
	return NewEpollPoller()
}

func NewEpollPoller() (*EpollPoller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	ep := &EpollPoller{}
	ep.epfd.Store(int64(fd))
	return ep, nil
}

func (ep *EpollPoller) fd() (int, error) {
	fd := int(ep.epfd.Load())
	if fd < 0 {
		return -1, unix.EBADF
	}
	return fd, nil
}

func (ep *EpollPoller) Add(fd int, interest Event, edge bool) error {
	return ep.control(unix.EPOLL_CTL_ADD, fd, interest, edge)
}

func (ep *EpollPoller) Modify(fd int, interest Event, edge bool) error {
	return ep.control(unix.EPOLL_CTL_MOD, fd, interest, edge)
}

func (ep *EpollPoller) Delete(fd int) error {
	epfd, err := ep.fd()
	if err != nil {
		return err
	}
	// 2.6.9 之前的内核要求 DEL 也传非空 event
	return unix.EpollCtl(epfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{})
}

func (ep *EpollPoller) control(op int, fd int, interest Event, edge bool) error {
	epfd, err := ep.fd()
	if err != nil {
		return err
	}
	event := &unix.EpollEvent{
		Events: toEpoll(interest, edge),
		Fd:     int32(fd),
	}
	return unix.EpollCtl(epfd, op, fd, event)
}

func (ep *EpollPoller) Wait(events []Pevent, timeout time.Duration) (int, error) {
	epfd, err := ep.fd()
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf := ep.buf.Swap(nil)
	if buf == nil || len(*buf) < len(events) {
		eevents := make([]unix.EpollEvent, len(events))
		buf = &eevents
	}
	defer ep.buf.Store(buf)

	eevents := (*buf)[:len(events)]
	n, err := unix.EpollWait(epfd, eevents, toMsec(timeout))
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		events[i].Fd = int(eevents[i].Fd)
		events[i].Events = fromEpoll(eevents[i].Events)
	}
	return n, nil
}

func (ep *EpollPoller) Close() error {
	fd := int(ep.epfd.Swap(-1))
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}

func toEpoll(interest Event, edge bool) uint32 {
	var events uint32 = unix.EPOLLRDHUP
	if interest&EventRead != 0 {
		events |= unix.EPOLLIN | unix.EPOLLPRI
	}
	if interest&EventWrite != 0 {
		events |= unix.EPOLLOUT
	}
	if edge {
		events |= unix.EPOLLET
	}
	return events
}

func fromEpoll(events uint32) Event {
	var e Event
	if events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		e |= EventRead
	}
	if events&unix.EPOLLOUT != 0 {
		e |= EventWrite
	}
	if events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		e |= EventHangup
	}
	if events&unix.EPOLLERR != 0 {
		e |= EventError
	}
	return e
}

// toMsec 向上取整到毫秒，避免 1ms 以下的等待退化成忙轮询
func toMsec(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	if timeout == 0 {
		return 0
	}
	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}
