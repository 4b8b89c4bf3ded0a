package task

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Trinoooo/nodebus/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 100; i++ {
		require.Nil(t, q.Push(i))
	}
	for i := 0; i < 100; i++ {
		v, ok, err := q.Pop(context.Background())
		require.Nil(t, err)
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestQueueClose(t *testing.T) {
	q := NewQueue()
	require.Nil(t, q.Push("last"))
	q.Close()
	q.Close()

	err := q.Push("rejected")
	assert.EqualValues(t, errs.TaskCancelledErrCode, errs.GetCode(err))

	v, ok, err := q.Pop(context.Background())
	assert.Nil(t, err)
	assert.True(t, ok)
	assert.Equal(t, "last", v)

	_, ok, err = q.Pop(context.Background())
	assert.Nil(t, err)
	assert.False(t, ok)
}

func TestQueuePopContext(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok, err := q.Pop(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueConcurrent(t *testing.T) {
	const (
		producers = 8
		perWorker = 1000
	)
	q := NewQueue()

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_ = q.Push(j)
			}
		}()
	}

	got := make(chan int, producers)
	for i := 0; i < producers; i++ {
		go func() {
			n := 0
			for {
				_, ok, _ := q.Pop(context.Background())
				if !ok {
					got <- n
					return
				}
				n++
			}
		}()
	}

	wg.Wait()
	q.Close()
	total := 0
	for i := 0; i < producers; i++ {
		total += <-got
	}
	assert.Equal(t, producers*perWorker, total)
}

// 关闭与并发 Push 交错时，Push 要么成功入队要么返回 cancelled，不会 panic
func TestQueuePushDuringClose(t *testing.T) {
	const pushers = 8
	for round := 0; round < 200; round++ {
		q := NewQueue()
		var (
			wg       sync.WaitGroup
			accepted atomic.Int64
		)
		for i := 0; i < pushers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					err := q.Push(1)
					if err != nil {
						assert.EqualValues(t, errs.TaskCancelledErrCode, errs.GetCode(err))
						return
					}
					accepted.Add(1)
				}
			}()
		}
		time.Sleep(time.Millisecond)
		assert.NotPanics(t, q.Close)
		wg.Wait()

		var popped int64
		for {
			_, ok, err := q.Pop(context.Background())
			require.Nil(t, err)
			if !ok {
				break
			}
			popped++
		}
		assert.Equal(t, accepted.Load(), popped)
	}
}
