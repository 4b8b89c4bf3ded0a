package utils

import "sync/atomic"

// UnboundChan 无界通知通道，In 从不阻塞。
// buffer 只由内部 goroutine 读写，外部通过 pending 观察积压数量
type UnboundChan struct {
	in, out chan struct{}
	buffer  []struct{}
	pending atomic.Int64
}

func NewUnboundChan() *UnboundChan {
	uc := &UnboundChan{
		in:     make(chan struct{}),
		out:    make(chan struct{}),
		buffer: make([]struct{}, 0, 10),
	}

	go func() {
		in := uc.in
		for in != nil {
			if len(uc.buffer) == 0 {
				if _, ok := <-in; !ok {
					in = nil
					break
				}
				select {
				case uc.out <- struct{}{}:
				default:
					uc.push()
				}
				continue
			}

			select {
			case _, ok := <-in:
				if !ok {
					in = nil
					continue
				}
				uc.push()
			case uc.out <- struct{}{}:
				uc.pop()
			}
		}

		for len(uc.buffer) > 0 {
			uc.out <- struct{}{}
			uc.pop()
		}

		close(uc.out)
	}()

	return uc
}

func (uc *UnboundChan) push() {
	uc.buffer = append(uc.buffer, struct{}{})
	uc.pending.Add(1)
}

func (uc *UnboundChan) pop() {
	uc.buffer = uc.buffer[1:]
	uc.pending.Add(-1)
}

func (uc *UnboundChan) In() {
	uc.in <- struct{}{}
}

func (uc *UnboundChan) Out() bool {
	_, ok := <-uc.out
	return ok
}

// C 用于 select，通道关闭表示 Close 之后的通知都已经取完
func (uc *UnboundChan) C() <-chan struct{} {
	return uc.out
}

// Len 尚未被取走的积压通知数，不含正在交付给接收方的那一个
func (uc *UnboundChan) Len() int64 {
	return uc.pending.Load()
}

func (uc *UnboundChan) Close() {
	close(uc.in)
}
