package nio

import (
	"sync/atomic"

	"github.com/luci/go-render/render"
)

// Key Channel 和 Selector 之间的一次注册。
// Selector 报告就绪之后 Key 就离开了两边的表（一次性），想继续收到通知需要重新注册。
type Key struct {
	ch         Channel
	sel        *Selector
	fd         int
	interest   Ops
	attachment any

	ready     atomic.Uint32
	cancelled atomic.Bool
}

func newKey(ch Channel, sel *Selector, interest Ops, attachment any) *Key {
	return &Key{
		ch:         ch,
		sel:        sel,
		fd:         ch.Fd(),
		interest:   interest,
		attachment: attachment,
	}
}

// Cancel 幂等，从 selector 和 channel 两边的表中移除
func (k *Key) Cancel() error {
	if !k.cancelled.CompareAndSwap(false, true) {
		return nil
	}
	err := k.sel.remove(k)
	k.ch.unlink(k)
	return err
}

func (k *Key) IsCancelled() bool {
	return k.cancelled.Load()
}

func (k *Key) Channel() Channel {
	return k.ch
}

func (k *Key) Selector() *Selector {
	return k.sel
}

func (k *Key) Fd() int {
	return k.fd
}

func (k *Key) InterestOps() Ops {
	return k.interest
}

func (k *Key) ReadyOps() Ops {
	return Ops(k.ready.Load())
}

func (k *Key) Attachment() any {
	return k.attachment
}

func (k *Key) IsReadable() bool {
	return k.ReadyOps()&OpRead != 0
}

func (k *Key) IsWritable() bool {
	return k.ReadyOps()&OpWrite != 0
}

func (k *Key) IsAcceptable() bool {
	return k.ReadyOps()&OpAccept != 0
}

func (k *Key) IsHangup() bool {
	return k.ReadyOps()&OpHangup != 0
}

func (k *Key) String() string {
	return render.Render(struct {
		Channel   string
		Fd        int
		Interest  string
		Ready     string
		Cancelled bool
	}{
		Channel:   k.ch.ID().String(),
		Fd:        k.fd,
		Interest:  k.interest.String(),
		Ready:     k.ReadyOps().String(),
		Cancelled: k.IsCancelled(),
	})
}
