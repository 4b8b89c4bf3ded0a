//go:build darwin || freebsd

package poller

import (
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

type KqueuePoller struct {
	kq  atomic.Int64
	buf atomic.Pointer[[]unix.Kevent_t]
}

func New() (Poller, error) {
	return NewKqueuePoller()
}

func NewKqueuePoller() (*KqueuePoller, error) {
	kqFd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kqFd)

	kp := &KqueuePoller{}
	kp.kq.Store(int64(kqFd))
	return kp, nil
}

func (kp *KqueuePoller) fd() (int, error) {
	fd := int(kp.kq.Load())
	if fd < 0 {
		return -1, unix.EBADF
	}
	return fd, nil
}

func (kp *KqueuePoller) Add(fd int, interest Event, edge bool) error {
	kq, err := kp.fd()
	if err != nil {
		return err
	}

	flags := unix.EV_ADD | unix.EV_ENABLE
	if edge {
		flags |= unix.EV_CLEAR
	}
	changes := make([]unix.Kevent_t, 0, 2)
	if interest&EventRead != 0 {
		var kev unix.Kevent_t
		unix.SetKevent(&kev, fd, unix.EVFILT_READ, flags)
		changes = append(changes, kev)
	}
	if interest&EventWrite != 0 {
		var kev unix.Kevent_t
		unix.SetKevent(&kev, fd, unix.EVFILT_WRITE, flags)
		changes = append(changes, kev)
	}
	if len(changes) == 0 {
		return nil
	}
	_, err = unix.Kevent(kq, changes, nil, nil)
	return err
}

func (kp *KqueuePoller) Modify(fd int, interest Event, edge bool) error {
	if err := kp.Delete(fd); err != nil {
		return err
	}
	return kp.Add(fd, interest, edge)
}

// Delete 分别删除读写两个 filter，未注册过的 filter 返回的 ENOENT 忽略
func (kp *KqueuePoller) Delete(fd int) error {
	kq, err := kp.fd()
	if err != nil {
		return err
	}
	for _, filter := range []int{unix.EVFILT_READ, unix.EVFILT_WRITE} {
		var kev unix.Kevent_t
		unix.SetKevent(&kev, fd, filter, unix.EV_DELETE)
		if _, err := unix.Kevent(kq, []unix.Kevent_t{kev}, nil, nil); err != nil && !errors.Is(err, unix.ENOENT) {
			return err
		}
	}
	return nil
}

func (kp *KqueuePoller) Wait(events []Pevent, timeout time.Duration) (int, error) {
	kq, err := kp.fd()
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	var ts *unix.Timespec
	if timeout >= 0 {
		spec := unix.NsecToTimespec(int64(timeout))
		ts = &spec
	}
	buf := kp.buf.Swap(nil)
	if buf == nil || len(*buf) < len(events) {
		kevents := make([]unix.Kevent_t, len(events))
		buf = &kevents
	}
	defer kp.buf.Store(buf)

	kevents := (*buf)[:len(events)]
	n, err := unix.Kevent(kq, nil, kevents, ts)
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		events[i].Fd = int(kevents[i].Ident)
		events[i].Events = fromKevent(kevents[i])
	}
	return n, nil
}

func (kp *KqueuePoller) Close() error {
	fd := int(kp.kq.Swap(-1))
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}

func fromKevent(kev unix.Kevent_t) Event {
	var e Event
	switch kev.Filter {
	case unix.EVFILT_READ:
		e |= EventRead
	case unix.EVFILT_WRITE:
		e |= EventWrite
	}
	if kev.Flags&unix.EV_EOF != 0 {
		e |= EventHangup
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		e |= EventError
	}
	return e
}
