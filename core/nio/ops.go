package nio

import "github.com/Trinoooo/nodebus/core/nio/poller"

// Ops 兴趣/就绪事件位掩码
type Ops uint32

const (
	OpRead   = Ops(poller.EventRead)
	OpWrite  = Ops(poller.EventWrite)
	OpHangup = Ops(poller.EventHangup)
	OpError  = Ops(poller.EventError)
	// OpAccept 监听 socket 上有连接等待 accept，内核层面就是可读
	OpAccept = OpRead
)

// 只有读写可以作为兴趣注册，挂断和错误总会被报告
const interestMask = OpRead | OpWrite

func (o Ops) String() string {
	return poller.Event(o).String()
}

func (o Ops) event() poller.Event {
	return poller.Event(o)
}
