// Package bundle 管理 bundle 的生命周期：manifest 解析、activator 查找、启动和停止。
package bundle

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Trinoooo/nodebus/consts"
	"github.com/Trinoooo/nodebus/errs"
	"github.com/Trinoooo/nodebus/logs"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type State int32

const (
	UNINSTALLED State = iota
	RESOLVED
	STARTING
	ACTIVE
	STOPPING
)

func (s State) String() string {
	switch s {
	case UNINSTALLED:
		return "UNINSTALLED"
	case RESOLVED:
		return "RESOLVED"
	case STARTING:
		return "STARTING"
	case ACTIVE:
		return "ACTIVE"
	case STOPPING:
		return "STOPPING"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

type Activator interface {
	Start(ctx *Context) error
	Stop(ctx *Context) error
}

// Bundle Start/Stop 串行执行
type Bundle struct {
	mu        sync.Mutex
	state     atomic.Int32
	manifest  *Manifest
	activator Activator
	ctx       *Context
	logger    *zap.Logger
}

// Load 解析 manifest 并找到 activator，成功后处于 RESOLVED
func Load(path string, registry *Registry, env *Env) (*Bundle, error) {
	manifest, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	return New(manifest, registry, env)
}

func New(manifest *Manifest, registry *Registry, env *Env) (*Bundle, error) {
	activator, err := registry.Lookup(manifest.Activator())
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		manifest:  manifest,
		activator: activator,
		logger: logs.Component(consts.ComponentBundle,
			zap.String(consts.LogFieldBundle, manifest.SymbolicName())),
	}
	b.ctx = newContext(b, env)
	b.setState(RESOLVED)
	return b, nil
}

func (b *Bundle) Manifest() *Manifest {
	return b.manifest
}

func (b *Bundle) SymbolicName() string {
	return b.manifest.SymbolicName()
}

func (b *Bundle) Property(name string) string {
	return b.manifest.Property(name)
}

func (b *Bundle) State() State {
	return State(b.state.Load())
}

func (b *Bundle) Activator() Activator {
	return b.activator
}

func (b *Bundle) Context() *Context {
	return b.ctx
}

func (b *Bundle) setState(next State) {
	prev := State(b.state.Swap(int32(next)))
	if prev == next {
		return
	}
	b.logger.Debug("bundle state changed", zap.Stringer("from", prev), zap.Stringer(consts.LogFieldState, next))
	if m := b.ctx.env.Metrics; m != nil {
		if prev != UNINSTALLED || next != RESOLVED {
			m.BundleStateGauge.WithLabelValues(prev.String()).Dec()
		}
		m.BundleStateGauge.WithLabelValues(next.String()).Inc()
	}
}

func (b *Bundle) Start() (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if state := b.State(); state != RESOLVED {
		return errs.NewBundleStateErr().WithErr(errors.Errorf("start bundle %s in state %s", b.SymbolicName(), state))
	}

	b.setState(STARTING)
	defer func() {
		if r := recover(); r != nil {
			err = errs.NewBundleErr().WithErr(errors.Errorf("activator panic: %v", r))
		}
		if err != nil {
			b.ctx.release()
			b.setState(RESOLVED)
			b.logger.Error(err.Error())
			return
		}
		b.setState(ACTIVE)
		b.logger.Info("bundle started", zap.String("name", b.manifest.Name()), zap.String("version", b.manifest.Version()))
	}()

	if e := b.activator.Start(b.ctx); e != nil {
		return errs.NewBundleErr().WithErr(e)
	}
	return nil
}

// Stop 即使 activator 返回错误，bundle 也回到 RESOLVED，持有的资源全部释放
func (b *Bundle) Stop() (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if state := b.State(); state != ACTIVE {
		return errs.NewBundleStateErr().WithErr(errors.Errorf("stop bundle %s in state %s", b.SymbolicName(), state))
	}

	b.setState(STOPPING)
	defer func() {
		if r := recover(); r != nil {
			err = errs.NewBundleErr().WithErr(errors.Errorf("activator panic: %v", r))
		}
		if e := b.ctx.release(); e != nil && err == nil {
			err = e
		}
		b.setState(RESOLVED)
		if err != nil {
			b.logger.Error(err.Error())
			return
		}
		b.logger.Info("bundle stopped")
	}()

	if e := b.activator.Stop(b.ctx); e != nil {
		return errs.NewBundleErr().WithErr(e)
	}
	return nil
}

func (b *Bundle) Uninstall() error {
	if b.State() == ACTIVE {
		if err := b.Stop(); err != nil {
			b.logger.Warn("stop before uninstall failed", zap.Error(err))
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if state := b.State(); state != RESOLVED {
		return errs.NewBundleStateErr().WithErr(errors.Errorf("uninstall bundle %s in state %s", b.SymbolicName(), state))
	}
	b.setState(UNINSTALLED)
	return nil
}

// Destroy 最后一个持有者释放时调用
func (b *Bundle) Destroy() {
	if err := b.Uninstall(); err != nil {
		b.logger.Warn("destroy bundle failed", zap.Error(err))
	}
}
