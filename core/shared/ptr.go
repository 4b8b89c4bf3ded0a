// Package shared 提供带引用计数的共享所有权句柄。
//
// 一个 payload 可以被任意多个 Ptr 持有，最后一个持有者 Release 时
// payload 被销毁且只销毁一次。句柄之间的类型收窄通过 Cast 完成，
// 收窄失败返回 invalid-class 错误，不会产生错误类型的句柄。
package shared

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/Trinoooo/nodebus/core/shared/logs"
	"github.com/Trinoooo/nodebus/errs"
	"go.uber.org/zap"
)

// Destroyer 由需要释放资源的 payload 实现，引用计数归零时调用一次
type Destroyer interface {
	Destroy()
}

type cell struct {
	refs    atomic.Int64
	payload any
	// null payload 是 nil 指针（或 nil map/func/chan/interface），计数照常，解引用失败
	null bool
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return rv.IsNil()
	}
	return false
}

func (c *cell) acquire() {
	c.refs.Add(1)
}

// release 只有观察到递减前为 1 的 goroutine 执行销毁
func (c *cell) release() {
	if c.refs.Add(-1) != 0 {
		return
	}
	logs.Debug("shared resource destroyed", zap.String("type", fmt.Sprintf("%T", c.payload)))
	if d, ok := c.payload.(Destroyer); ok {
		d.Destroy()
	}
}

// Ptr 共享句柄。零值为空句柄。
// 同一个 Ptr 只能 Release 一次；需要再持有一份请使用 Clone。
type Ptr[T any] struct {
	c        *cell
	data     T
	released atomic.Bool
}

func New[T any](payload T) *Ptr[T] {
	c := &cell{payload: payload, null: isNil(payload)}
	c.acquire()
	logs.Debug("shared resource created", zap.String("type", fmt.Sprintf("%T", payload)))
	return &Ptr[T]{c: c, data: payload}
}

// held 句柄仍然持有一份引用
func (p *Ptr[T]) held() bool {
	return p != nil && p.c != nil && !p.released.Load()
}

// live 持有引用且 payload 可以解引用
func (p *Ptr[T]) live() bool {
	return p.held() && !p.c.null
}

func (p *Ptr[T]) IsNil() bool {
	return !p.live()
}

// Get 解引用，空句柄或已释放句柄返回 null-reference 错误
func (p *Ptr[T]) Get() (T, error) {
	if !p.live() {
		var zero T
		return zero, errs.NewNullReferenceErr()
	}
	return p.data, nil
}

// MustGet 解引用失败属于不可恢复的契约错误，直接 panic
func (p *Ptr[T]) MustGet() T {
	v, err := p.Get()
	if err != nil {
		panic(err)
	}
	return v
}

func (p *Ptr[T]) Clone() (*Ptr[T], error) {
	if !p.live() {
		return nil, errs.NewNullReferenceErr()
	}
	p.c.acquire()
	return &Ptr[T]{c: p.c, data: p.data}, nil
}

func (p *Ptr[T]) Release() {
	if p == nil || p.c == nil {
		return
	}
	if !p.released.CompareAndSwap(false, true) {
		return
	}
	p.c.release()
}

// Reset 让 p 指向 other 的 payload：先持有新目标，再释放旧目标。
// other 为空句柄时 p 变为空句柄。
func (p *Ptr[T]) Reset(other *Ptr[T]) error {
	if p == nil {
		return errs.NewNullReferenceErr()
	}
	if p.held() && other.held() && p.c == other.c {
		return nil
	}

	var (
		next *cell
		data T
	)
	if other.held() {
		next = other.c
		data = other.data
		next.acquire()
	}

	prev, wasLive := p.c, p.held()
	p.c, p.data = next, data
	p.released.Store(false)
	if wasLive {
		prev.release()
	}
	return nil
}

func (p *Ptr[T]) Refs() int64 {
	if p == nil || p.c == nil {
		return 0
	}
	return p.c.refs.Load()
}

// Same 两个句柄是否指向同一个 payload
func Same[X, Y any](a *Ptr[X], b *Ptr[Y]) bool {
	if !a.live() || !b.live() {
		return false
	}
	return a.c == b.c
}

// Cast 将句柄收窄为 X，成功时返回共享同一引用计数的新句柄
func Cast[X, T any](p *Ptr[T]) (*Ptr[X], error) {
	if !p.live() {
		return nil, errs.NewNullReferenceErr()
	}
	x, ok := p.c.payload.(X)
	if !ok {
		want := reflect.TypeOf((*X)(nil)).Elem()
		return nil, errs.NewInvalidClassErr().WithErr(fmt.Errorf("%T is not %s", p.c.payload, want))
	}
	p.c.acquire()
	return &Ptr[X]{c: p.c, data: x}, nil
}

func InstanceOf[X, T any](p *Ptr[T]) bool {
	if !p.live() {
		return false
	}
	_, ok := p.c.payload.(X)
	return ok
}
