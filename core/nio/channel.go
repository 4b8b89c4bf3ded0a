// Package nio 是非阻塞 I/O 的就绪通知核心。
//
// Channel 向一个或多个 Selector 注册感兴趣的事件，Selector 在事件就绪时
// 把对应的 Key 交还给调用方。每个 Channel 在同一个 Selector 上最多只有
// 一个 Key；Channel 关闭时它在所有 Selector 上的 Key 都会被取消。
//
// 加锁顺序：Channel 注册锁 → Selector 锁 → Channel key 表锁。
// Channel 的回调（UpdateStatus）总是在 Selector 锁之外执行。
package nio

import (
	"sync"

	"github.com/Trinoooo/nodebus/consts"
	"github.com/Trinoooo/nodebus/core/nio/logs"
	"github.com/Trinoooo/nodebus/errs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Channel interface {
	ID() uuid.UUID
	Fd() int
	IsOpen() bool
	Close() error
	// RegisterTo 在 s 上注册 ops，已经注册过的话先取消旧的 Key
	RegisterTo(s *Selector, ops Ops, attachment any) (*Key, error)
	KeyFor(s *Selector) (*Key, bool)
	// UpdateStatus Selector 在交还就绪 Key 之前调用，
	// 发现对端已经彻底关闭的 Channel 可以在这里关闭自己
	UpdateStatus(ready Ops)

	unlink(k *Key)
}

// AbstractChannel 实现 Key 的记账，具体的 Channel 内嵌它并调用 init
type AbstractChannel struct {
	self Channel
	id   uuid.UUID

	// regMu 串行化同一个 Channel 上的 RegisterTo 和 Close
	regMu sync.Mutex

	mu   sync.Mutex
	keys map[uuid.UUID]*Key // selector id -> key
}

func (c *AbstractChannel) init(self Channel) {
	c.self = self
	c.id = uuid.New()
	c.keys = make(map[uuid.UUID]*Key)
}

func (c *AbstractChannel) ID() uuid.UUID {
	return c.id
}

func (c *AbstractChannel) RegisterTo(s *Selector, ops Ops, attachment any) (*Key, error) {
	if s == nil || ops == 0 || ops&^interestMask != 0 {
		e := errs.NewInvalidParamErr()
		logs.Error(e.Error(), zap.String(consts.LogFieldParams, "ops"), zap.Stringer(consts.LogFieldValue, ops))
		return nil, e
	}

	c.regMu.Lock()
	defer c.regMu.Unlock()

	if !c.self.IsOpen() {
		return nil, errs.NewClosedChannelErr()
	}

	if old, ok := c.KeyFor(s); ok {
		if err := old.Cancel(); err != nil {
			return nil, err
		}
	}

	k := newKey(c.self, s, ops, attachment)
	// 先记到 channel 表里再交给 selector，保证 selector 报告就绪时能找到它
	c.mu.Lock()
	c.keys[s.ID()] = k
	c.mu.Unlock()

	if err := s.put(k); err != nil {
		c.unlink(k)
		return nil, err
	}

	logs.Debug("channel registered",
		zap.Stringer(consts.LogFieldChannel, c.id),
		zap.Stringer(consts.LogFieldSelector, s.ID()),
		zap.Int(consts.LogFieldFd, k.fd),
		zap.Stringer(consts.LogFieldOps, ops))
	return k, nil
}

func (c *AbstractChannel) KeyFor(s *Selector) (*Key, bool) {
	if s == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k, ok := c.keys[s.ID()]
	return k, ok
}

// Keys 当前所有有效 Key 的快照
func (c *AbstractChannel) Keys() []*Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]*Key, 0, len(c.keys))
	for _, k := range c.keys {
		keys = append(keys, k)
	}
	return keys
}

func (c *AbstractChannel) UpdateStatus(Ops) {}

// unlink 只在表里仍然是 k 的时候删除，避免误删重新注册后的新 Key
func (c *AbstractChannel) unlink(k *Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.keys[k.sel.ID()]; ok && cur == k {
		delete(c.keys, k.sel.ID())
	}
}

// cancelKeys 调用方持有 regMu
func (c *AbstractChannel) cancelKeys() error {
	var firstErr error
	for _, k := range c.Keys() {
		if err := k.Cancel(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
