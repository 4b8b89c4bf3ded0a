// Package task 把 StreamChannel 上的字节流解析成 json 值，交给消费者。
package task

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Trinoooo/nodebus/consts"
	"github.com/Trinoooo/nodebus/core/nio"
	"github.com/Trinoooo/nodebus/errs"
	"github.com/Trinoooo/nodebus/logs"
	"github.com/Trinoooo/nodebus/metrics"
	"github.com/google/uuid"
	"github.com/luci/go-render/render"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var taskLogger = logs.Component(consts.ComponentTask)

type Option func(t *ParserTask)

// WithSlice 每次等待可读的时间片，Cancel 在时间片边界生效
func WithSlice(slice time.Duration) Option {
	return func(t *ParserTask) {
		if slice > 0 {
			t.slice = slice
		}
	}
}

func WithMetrics(helper *metrics.Helper) Option {
	return func(t *ParserTask) {
		t.metrics = helper
	}
}

type ParserTask struct {
	id      uuid.UUID
	ch      nio.StreamChannel
	out     *Queue
	slice   time.Duration
	metrics *metrics.Helper

	cancelled atomic.Bool
	startOnce sync.Once
	done      chan struct{}
	err       error
}

func NewParserTask(ch nio.StreamChannel, out *Queue, opts ...Option) *ParserTask {
	t := &ParserTask{
		id:    uuid.New(),
		ch:    ch,
		out:   out,
		slice: 10 * time.Millisecond,
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *ParserTask) ID() uuid.UUID {
	return t.id
}

// Runner gopool.Pool 或者 bundle.Context
type Runner interface {
	Go(f func())
}

// Start 在 pool 上运行，同一个 task 只会启动一次
func (t *ParserTask) Start(pool Runner) {
	t.startOnce.Do(func() {
		pool.Go(t.run)
	})
}

func (t *ParserTask) Cancel() {
	t.cancelled.Store(true)
}

func (t *ParserTask) Done() <-chan struct{} {
	return t.done
}

// Err Done 关闭之后有效；流正常结束返回 nil
func (t *ParserTask) Err() error {
	<-t.done
	return t.err
}

func (t *ParserTask) run() {
	defer close(t.done)

	decoder := json.NewDecoder(&channelReader{t: t})
	decoder.UseNumber()
	for {
		var value any
		err := decoder.Decode(&value)
		if errors.Is(err, io.EOF) {
			taskLogger.Info("parser reached end of stream", zap.Stringer(consts.LogFieldChannel, t.ch.ID()))
			return
		}
		if err != nil {
			var be *errs.BusErr
			if !errors.As(err, &be) {
				be = errs.NewJsonUnmarshalErr().WithErr(err)
			}
			t.err = be
			if !errs.IsEOF(be) && errs.GetCode(be) != errs.TaskCancelledErrCode {
				taskLogger.Error(be.Error(), zap.Stringer(consts.LogFieldChannel, t.ch.ID()))
			}
			return
		}

		taskLogger.Debug("parser decoded value", zap.String(consts.LogFieldValue, render.Render(value)))
		if t.metrics != nil {
			t.metrics.ParsedValueCounter.Inc()
		}
		if err := t.out.Push(value); err != nil {
			t.err = err
			return
		}
	}
}

// channelReader 在 channel 的私有 poller 上按时间片阻塞，
// 把 channel 的 EOF 错误翻译成 io.EOF 交给 json.Decoder
type channelReader struct {
	t *ParserTask
}

func (r *channelReader) Read(p []byte) (int, error) {
	for {
		if r.t.cancelled.Load() {
			return 0, errs.NewTaskCancelledErr()
		}
		ready, err := r.t.ch.WaitForReadyRead(r.t.slice)
		if errs.IsEOF(err) {
			return 0, io.EOF
		}
		if err != nil {
			return 0, err
		}
		if !ready {
			continue
		}

		n, err := r.t.ch.Read(p)
		if errs.IsEOF(err) {
			return n, io.EOF
		}
		if errors.Is(err, unix.EAGAIN) {
			continue
		}
		return n, err
	}
}
