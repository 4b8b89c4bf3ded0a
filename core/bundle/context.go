package bundle

import (
	"io"
	"sync"

	"github.com/Trinoooo/nodebus/core/nio"
	"github.com/Trinoooo/nodebus/metrics"
	"github.com/bytedance/gopkg/util/gopool"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Env 容器提供给所有 bundle 的公共设施
type Env struct {
	Selector *nio.Selector
	Pool     gopool.Pool
	Metrics  *metrics.Helper
	Stdin    int // 标准输入 fd，-1 表示不可用
}

// Handler 处理注册 channel 的就绪事件，返回错误时所属 bundle 会被停止
type Handler interface {
	Handle(key *nio.Key) error
}

type HandlerFunc func(key *nio.Key) error

func (f HandlerFunc) Handle(key *nio.Key) error {
	return f(key)
}

// Registration 作为 key 的 attachment，分发时据此找到 bundle 和 handler
type Registration struct {
	Bundle  *Bundle
	Handler Handler
}

// Context bundle 的运行上下文，bundle 停止时它持有的资源按注册的逆序关闭
type Context struct {
	bundle *Bundle
	env    *Env

	mu    sync.Mutex
	owned []io.Closer
}

func newContext(b *Bundle, env *Env) *Context {
	if env == nil {
		env = &Env{Stdin: -1}
	}
	return &Context{bundle: b, env: env}
}

func (c *Context) Bundle() *Bundle {
	return c.bundle
}

func (c *Context) Env() *Env {
	return c.env
}

func (c *Context) Logger() *zap.Logger {
	return c.bundle.logger
}

// Go 在容器的 worker pool 上执行
func (c *Context) Go(fn func()) {
	if c.env.Pool == nil {
		go fn()
		return
	}
	c.env.Pool.Go(fn)
}

// Register 把 channel 注册到容器的 selector 上，并在 bundle 停止时关闭它
func (c *Context) Register(ch nio.Channel, ops nio.Ops, handler Handler) (*nio.Key, error) {
	if c.env.Selector == nil {
		return nil, errors.New("no selector in bundle environment")
	}
	key, err := ch.RegisterTo(c.env.Selector, ops, &Registration{Bundle: c.bundle, Handler: handler})
	if err != nil {
		return nil, err
	}
	c.Own(ch)
	return key, nil
}

func (c *Context) Own(closer io.Closer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, owned := range c.owned {
		if owned == closer {
			return
		}
	}
	c.owned = append(c.owned, closer)
}

// Disown 资源已经由 bundle 自己关闭
func (c *Context) Disown(closer io.Closer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, owned := range c.owned {
		if owned == closer {
			c.owned = append(c.owned[:i], c.owned[i+1:]...)
			return
		}
	}
}

func (c *Context) release() error {
	c.mu.Lock()
	owned := c.owned
	c.owned = nil
	c.mu.Unlock()

	var err error
	for i := len(owned) - 1; i >= 0; i-- {
		if e := owned[i].Close(); e != nil {
			if err == nil {
				err = e
			} else {
				err = errors.Wrap(err, e.Error())
			}
		}
	}
	return err
}
