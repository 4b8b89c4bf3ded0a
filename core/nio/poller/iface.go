// Package poller 封装内核事件队列（linux 上是 epoll，bsd/darwin 上是 kqueue）。
//
// 上层只看到统一的 Event 位掩码，不接触各平台的事件结构。
package poller

import (
	"strings"
	"time"
)

type Event uint32

const (
	EventRead Event = 1 << iota
	EventWrite
	EventHangup
	EventError
)

func (e Event) String() string {
	if e == 0 {
		return "NONE"
	}
	var parts []string
	for _, item := range []struct {
		bit  Event
		name string
	}{
		{EventRead, "READ"},
		{EventWrite, "WRITE"},
		{EventHangup, "HANGUP"},
		{EventError, "ERROR"},
	} {
		if e&item.bit != 0 {
			parts = append(parts, item.name)
		}
	}
	return strings.Join(parts, "|")
}

type Pevent struct {
	Fd     int
	Events Event
}

type Poller interface {
	// Add 注册 fd，edge 为 true 时使用边沿触发
	Add(fd int, interest Event, edge bool) error
	Modify(fd int, interest Event, edge bool) error
	Delete(fd int) error
	// Wait timeout < 0 一直阻塞，= 0 立即返回
	Wait(events []Pevent, timeout time.Duration) (int, error)
	Close() error
}
