package nio

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Trinoooo/nodebus/consts"
	"github.com/Trinoooo/nodebus/core/nio/logs"
	"github.com/Trinoooo/nodebus/core/nio/poller"
	"github.com/Trinoooo/nodebus/errs"
	"github.com/Trinoooo/nodebus/metrics"
	"github.com/Trinoooo/nodebus/utils"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type SelectorOption func(s *Selector)

func WithSliceInterval(interval time.Duration) SelectorOption {
	return func(s *Selector) {
		if interval > 0 {
			s.sliceInterval = interval
		}
	}
}

func WithMaxEvents(n int) SelectorOption {
	return func(s *Selector) {
		if n > 0 {
			s.maxEvents = n
		}
	}
}

func WithMetrics(helper *metrics.Helper) SelectorOption {
	return func(s *Selector) {
		s.metrics = helper
	}
}

// Selector 多路复用器。
// 内核等待期间不持有 mu，其它 goroutine 可以同时注册或取消；
// 同一个 Selector 只允许一个 goroutine 调用 Select。
type Selector struct {
	id            uuid.UUID
	poller        poller.Poller
	sliceInterval time.Duration
	maxEvents     int
	metrics       *metrics.Helper

	mu       sync.Mutex
	keys     map[int]*Key // fd -> key
	selected []*Key

	events  []poller.Pevent
	enabled atomic.Bool
	closed  atomic.Bool
}

func NewSelector(opts ...SelectorOption) (*Selector, error) {
	p, err := poller.New()
	if err != nil {
		return nil, errs.NewIOErr().WithErr(err)
	}

	s := &Selector{
		id:            uuid.New(),
		poller:        p,
		sliceInterval: consts.DefaultSliceInterval,
		maxEvents:     consts.DefaultMaxEvents,
		keys:          make(map[int]*Key),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = make([]poller.Pevent, s.maxEvents)
	s.enabled.Store(true)
	return s, nil
}

func (s *Selector) ID() uuid.UUID {
	return s.id
}

func (s *Selector) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// Disable 协作式取消，正在进行的 Select 在下一个时间片边界返回 false
func (s *Selector) Disable() {
	s.enabled.Store(false)
}

func (s *Selector) Enable() {
	if !s.closed.Load() {
		s.enabled.Store(true)
	}
}

func (s *Selector) IsEnabled() bool {
	return s.enabled.Load()
}

func (s *Selector) put(k *Key) error {
	var err error
	utils.WrapLock(&s.mu, func() {
		if s.closed.Load() {
			err = errs.NewClosedSelectorErr()
			return
		}
		if exist, ok := s.keys[k.fd]; ok && exist != k {
			err = errs.NewInvalidParamErr().WithErr(errors.Errorf("fd %d already registered by channel %s", k.fd, exist.ch.ID()))
			return
		}
		if e := s.poller.Add(k.fd, k.interest.event(), true); e != nil {
			err = errs.NewIOErr().WithErr(e)
			return
		}
		s.keys[k.fd] = k
	})
	if err != nil {
		logs.Error(err.Error(), zap.Stringer(consts.LogFieldSelector, s.id), zap.Int(consts.LogFieldFd, k.fd))
		return err
	}

	if s.metrics != nil {
		s.metrics.RegisterCounter.Inc()
		s.metrics.RegisteredKeysGauge.Inc()
	}
	return nil
}

// remove key 已经被一次性报告过的话内核里也没有了，不再 DEL，
// 避免误删同一个 fd 上新注册的 key
func (s *Selector) remove(k *Key) error {
	var (
		removed bool
		err     error
	)
	utils.WrapLock(&s.mu, func() {
		cur, ok := s.keys[k.fd]
		if !ok || cur != k {
			return
		}
		delete(s.keys, k.fd)
		removed = true
		if e := s.poller.Delete(k.fd); e != nil && !isGone(e) {
			err = errs.NewIOErr().WithErr(e)
		}
	})

	if removed && s.metrics != nil {
		s.metrics.CancelCounter.Inc()
		s.metrics.RegisteredKeysGauge.Dec()
	}
	return err
}

// Select 等待就绪事件。
// slices == 0 只做一次非阻塞轮询；slices > 0 最多等待 slices 个时间片；
// slices < 0 一直等到有事件或者 Selector 被 Disable。
// 返回 true 表示 SelectedKeys 非空。
func (s *Selector) Select(slices int) (bool, error) {
	if s.closed.Load() {
		return false, errs.NewClosedSelectorErr()
	}
	if s.metrics != nil {
		s.metrics.SelectCounter.Inc()
	}

	utils.WrapLock(&s.mu, func() {
		s.selected = s.selected[:0]
	})

	if slices == 0 {
		n, err := s.poll(0)
		return n > 0, err
	}

	for s.IsEnabled() {
		n, err := s.poll(s.sliceInterval)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}
		if slices > 0 {
			slices--
			if slices == 0 {
				return false, nil
			}
		}
	}
	return false, nil
}

// poll 等待一个时间片，返回本次发布的 key 数量，EINTR 视为空片
func (s *Selector) poll(timeout time.Duration) (int, error) {
	n, err := s.poller.Wait(s.events, timeout)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		if s.closed.Load() {
			return 0, errs.NewClosedSelectorErr()
		}
		e := errs.NewIOErr().WithErr(err)
		logs.Error(e.Error(), zap.Stringer(consts.LogFieldSelector, s.id))
		return 0, e
	}
	if n == 0 {
		return 0, nil
	}

	var (
		batch []*Key
		ready []Ops
		seen  = make(map[int]int, n)
	)
	utils.WrapLock(&s.mu, func() {
		for _, evt := range s.events[:n] {
			// kqueue 对同一个 fd 的读写分两条事件上报
			if idx, ok := seen[evt.Fd]; ok {
				ready[idx] |= Ops(evt.Events)
				continue
			}
			k, ok := s.keys[evt.Fd]
			if !ok {
				continue
			}
			if e := s.poller.Delete(evt.Fd); e != nil && !isGone(e) {
				logs.Warn("selector delete fd failed", zap.Int(consts.LogFieldFd, evt.Fd), zap.Error(e))
			}
			delete(s.keys, evt.Fd)
			seen[evt.Fd] = len(batch)
			batch = append(batch, k)
			ready = append(ready, Ops(evt.Events))
		}
	})

	for i, k := range batch {
		ops := ready[i] & (k.interest | OpHangup | OpError)
		k.ch.unlink(k)
		k.ch.UpdateStatus(ops)
		k.ready.Store(uint32(ops))
	}

	var published int
	utils.WrapLock(&s.mu, func() {
		for _, k := range batch {
			// 处理期间被取消的 key 不再交还
			if k.IsCancelled() {
				continue
			}
			s.selected = append(s.selected, k)
		}
		published = len(s.selected)
	})

	if s.metrics != nil {
		s.metrics.ReadyKeyCounter.Add(float64(published))
		s.metrics.RegisteredKeysGauge.Sub(float64(len(batch)))
	}
	return published, nil
}

// SelectedKeys 最近一次 Select 的就绪 key，下一次 Select 之前有效
func (s *Selector) SelectedKeys() []*Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]*Key, len(s.selected))
	copy(keys, s.selected)
	return keys
}

// Close 取消所有 key 并关闭内核队列，幂等
func (s *Selector) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.Disable()

	var keys []*Key
	utils.WrapLock(&s.mu, func() {
		keys = make([]*Key, 0, len(s.keys))
		for _, k := range s.keys {
			keys = append(keys, k)
		}
	})

	var err error
	for _, k := range keys {
		if e := k.Cancel(); e != nil && err == nil {
			err = e
		}
	}
	if e := s.poller.Close(); e != nil {
		if err != nil {
			err = errors.Wrap(err, e.Error())
		} else {
			err = errs.NewIOErr().WithErr(e)
		}
	}
	logs.Info("selector closed", zap.Stringer(consts.LogFieldSelector, s.id), zap.Int(consts.LogFieldValue, len(keys)))
	return err
}

// isGone fd 已经不在内核队列里，或者已经被关闭
func isGone(err error) bool {
	return errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF)
}
