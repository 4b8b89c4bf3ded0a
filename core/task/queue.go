package task

import (
	"context"
	"sync"
	"unsafe"

	"github.com/Trinoooo/nodebus/errs"
	"github.com/Trinoooo/nodebus/utils"
	"github.com/bytedance/gopkg/collection/lscq"
)

type item struct {
	value any
}

// Queue 无界 FIFO，多生产者多消费者。
// 值存在无锁队列里，notifier 里的每个通知对应一个值。
// Push 之间只争用读锁，Close 持写锁，保证关闭之后不会再往 notifier 里发送。
type Queue struct {
	notifier *utils.UnboundChan
	queue    *lscq.PointerQueue

	mu     sync.RWMutex
	closed bool
}

func NewQueue() *Queue {
	return &Queue{
		notifier: utils.NewUnboundChan(),
		queue:    lscq.NewPointer(),
	}
}

func (q *Queue) Push(value any) error {
	var err error
	utils.WrapRLock(&q.mu, func() {
		if q.closed {
			err = errs.NewTaskCancelledErr()
			return
		}
		q.queue.Enqueue(unsafe.Pointer(&item{value: value}))
		q.notifier.In()
	})
	return err
}

// Pop 阻塞直到有值；队列关闭且取空后返回 false
func (q *Queue) Pop(ctx context.Context) (any, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case _, ok := <-q.notifier.C():
		if !ok {
			return nil, false, nil
		}
	}
	data, ok := q.queue.Dequeue()
	if !ok {
		return nil, false, nil
	}
	return (*item)(data).value, true, nil
}

// Close 之后不能再 Push，已经入队的值仍然可以取出
func (q *Queue) Close() {
	utils.WrapLock(&q.mu, func() {
		if q.closed {
			return
		}
		q.closed = true
		q.notifier.Close()
	})
}
