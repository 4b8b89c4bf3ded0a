// Package stdinjson 从标准输入读取 json 值流并逐个记录
package stdinjson

import (
	"context"
	"sync"

	"github.com/Trinoooo/nodebus/consts"
	"github.com/Trinoooo/nodebus/core/bundle"
	"github.com/Trinoooo/nodebus/core/nio"
	"github.com/Trinoooo/nodebus/core/task"
	"github.com/Trinoooo/nodebus/errs"
	"github.com/luci/go-render/render"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const ActivatorName = "stdinjson"

type StdinJson struct {
	// OnValue 每解出一个值调用一次，默认记录日志
	OnValue func(value any)

	ch       *nio.IOChannel
	queue    *task.Queue
	parser   *task.ParserTask
	once     sync.Once
	cancel   context.CancelFunc
	consumed sync.WaitGroup
}

func Register(registry *bundle.Registry) error {
	return registry.Register(ActivatorName, func() bundle.Activator {
		return &StdinJson{}
	})
}

func (s *StdinJson) Start(ctx *bundle.Context) error {
	env := ctx.Env()
	if env.Stdin < 0 {
		return errs.NewInvalidParamErr().WithErr(errors.New("stdin not available"))
	}
	ch, err := nio.NewIOChannel(env.Stdin, false)
	if err != nil {
		return err
	}

	s.ch = ch
	s.once = sync.Once{}
	s.queue = task.NewQueue()
	s.parser = task.NewParserTask(ch, s.queue, task.WithMetrics(env.Metrics))
	if s.OnValue == nil {
		s.OnValue = func(value any) {
			ctx.Logger().Info("json value received", zap.String(consts.LogFieldValue, render.Render(value)))
		}
	}

	var consumeCtx context.Context
	consumeCtx, s.cancel = context.WithCancel(context.Background())
	s.consumed.Add(1)
	ctx.Go(func() {
		defer s.consumed.Done()
		s.consume(consumeCtx)
	})

	// 第一次可读时才启动解析；无法加入 selector 的输入（普通文件）直接启动
	_, err = ctx.Register(ch, nio.OpRead, bundle.HandlerFunc(func(key *nio.Key) error {
		s.startParser(ctx)
		return nil
	}))
	if err != nil {
		ctx.Own(ch)
		ctx.Logger().Debug("stdin not pollable, parse directly", zap.Error(err))
		s.startParser(ctx)
	}
	return nil
}

func (s *StdinJson) startParser(ctx *bundle.Context) {
	s.once.Do(func() {
		ctx.Go(func() {
			s.parser.Start(ctx)
			<-s.parser.Done()
			s.queue.Close()
			if err := s.parser.Err(); err != nil && errs.GetCode(err) != errs.TaskCancelledErrCode {
				ctx.Logger().Warn("stdin parser stopped", zap.Error(err))
			}
		})
	})
}

func (s *StdinJson) consume(ctx context.Context) {
	for {
		value, ok, err := s.queue.Pop(ctx)
		if err != nil || !ok {
			return
		}
		s.OnValue(value)
	}
}

// Stop 取消解析，等消费者取完已经解出的值
func (s *StdinJson) Stop(ctx *bundle.Context) error {
	s.parser.Cancel()
	// 解析从未启动时由这里关闭队列
	s.once.Do(func() {
		s.queue.Close()
	})
	s.consumed.Wait()
	s.cancel()
	return nil
}
