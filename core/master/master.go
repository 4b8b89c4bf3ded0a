// Package master 是容器主体：读取配置，创建 selector，加载 bundle 并分发就绪事件。
package master

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Trinoooo/nodebus/config"
	"github.com/Trinoooo/nodebus/consts"
	"github.com/Trinoooo/nodebus/core/bundle"
	"github.com/Trinoooo/nodebus/core/nio"
	"github.com/Trinoooo/nodebus/core/shared"
	"github.com/Trinoooo/nodebus/errs"
	"github.com/Trinoooo/nodebus/logs"
	"github.com/Trinoooo/nodebus/metrics"
	"github.com/Trinoooo/nodebus/utils"
	"github.com/bytedance/gopkg/util/gopool"
	"github.com/luci/go-render/render"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Option func(m *Master)

// WithExit 致命错误时的退出方式，默认 os.Exit
func WithExit(exit func(code int)) Option {
	return func(m *Master) {
		m.exit = exit
	}
}

// WithStdin 交给 bundle 使用的标准输入 fd
func WithStdin(fd int) Option {
	return func(m *Master) {
		m.stdin = fd
	}
}

// multiplexer 分发循环对 selector 的依赖
type multiplexer interface {
	Select(slices int) (bool, error)
	SelectedKeys() []*nio.Key
}

type Master struct {
	settings *config.Settings
	registry *bundle.Registry
	logger   *zap.Logger
	selector *nio.Selector
	mux      multiplexer
	pool     gopool.Pool
	metrics  *metrics.Helper
	slices   int
	stdin    int
	exit     func(code int)

	mu      sync.Mutex
	bundles map[string]*shared.Ptr[*bundle.Bundle]

	running  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

func New(settings *config.Settings, registry *bundle.Registry, opts ...Option) (*Master, error) {
	m := &Master{
		settings: settings,
		registry: registry,
		logger:   logs.Component(consts.ComponentMaster),
		slices:   settings.GetInt(consts.SettingSelectSlices),
		stdin:    -1,
		exit:     os.Exit,
		bundles:  make(map[string]*shared.Ptr[*bundle.Bundle]),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.metrics = metrics.NewHelper()
	m.metrics.Push(settings.GetString(consts.SettingMetricsPush), settings.GetDuration(consts.SettingMetricsPeriod))

	selector, err := nio.NewSelector(
		nio.WithSliceInterval(settings.GetDuration(consts.SettingSliceInterval)),
		nio.WithMaxEvents(settings.GetInt(consts.SettingMaxEvents)),
		nio.WithMetrics(m.metrics),
	)
	if err != nil {
		m.metrics.Close()
		return nil, err
	}
	m.selector = selector
	m.mux = selector

	workers := settings.GetInt(consts.SettingWorkers)
	if workers <= 0 {
		workers = consts.DefaultWorkers
	}
	m.pool = gopool.NewPool("nodebus", int32(workers), gopool.NewConfig())
	m.pool.SetPanicHandler(func(ctx context.Context, r interface{}) {
		m.logger.Error(fmt.Sprintf("worker panic: %v", r), zap.Stack("stack"))
	})
	return m, nil
}

func (m *Master) Selector() *nio.Selector {
	return m.selector
}

// Bundle 返回一个新的持有者，调用方负责 Release
func (m *Master) Bundle(symbolicName string) (*shared.Ptr[*bundle.Bundle], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.bundles[symbolicName]
	if !ok {
		return nil, errs.NewBundleErr().WithErr(errors.Errorf("bundle %s not found", symbolicName))
	}
	return p.Clone()
}

func (m *Master) Bundles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.bundles))
	for name := range m.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start 加载 bundle 根目录下的所有 manifest，启动全部 bundle 后开始分发
func (m *Master) Start() error {
	m.logger.Debug("settings", zap.String(consts.LogFieldParams, render.Render(map[string]any{
		consts.SettingBundleRoot:    m.settings.GetString(consts.SettingBundleRoot),
		consts.SettingSelectSlices:  m.slices,
		consts.SettingSliceInterval: m.settings.GetDuration(consts.SettingSliceInterval).String(),
		consts.SettingWorkers:       m.settings.GetInt(consts.SettingWorkers),
	})))

	if err := m.scan(m.settings.GetString(consts.SettingBundleRoot)); err != nil {
		return err
	}
	m.writePidFile()

	for _, name := range m.Bundles() {
		p, err := m.Bundle(name)
		if err != nil {
			continue
		}
		b := p.MustGet()
		if err := b.Start(); err != nil {
			m.logger.Warn("bundle start failed", zap.String(consts.LogFieldBundle, name),
				zap.Int64(consts.LogFieldErrCode, errs.GetCode(err)), zap.Error(err))
		}
		p.Release()
	}

	m.running.Store(true)
	m.pool.Go(m.loop)
	return nil
}

func (m *Master) scan(root string) error {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		e := errs.NewDirNotExistErr()
		if err != nil {
			e = e.WithErr(err)
		}
		m.logger.Error(e.Error(), zap.String(consts.LogFieldPath, root))
		return e
	}

	m.logger.Info("search for bundles", zap.String(consts.LogFieldPath, root))
	env := &bundle.Env{
		Selector: m.selector,
		Pool:     m.pool,
		Metrics:  m.metrics,
		Stdin:    m.stdin,
	}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			m.logger.Warn("walk bundle root failed", zap.String(consts.LogFieldPath, path), zap.Error(err))
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if d.IsDir() || (ext != ".yaml" && ext != ".yml") {
			return nil
		}

		b, err := bundle.Load(path, m.registry, env)
		if err != nil {
			m.logger.Warn("invalid bundle manifest", zap.String(consts.LogFieldPath, path), zap.Error(err))
			return nil
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if _, exist := m.bundles[b.SymbolicName()]; exist {
			m.logger.Warn("duplicate bundle ignored", zap.String(consts.LogFieldBundle, b.SymbolicName()), zap.String(consts.LogFieldPath, path))
			return nil
		}
		m.bundles[b.SymbolicName()] = shared.New(b)
		m.logger.Info("found bundle", zap.String(consts.LogFieldBundle, b.SymbolicName()), zap.String("name", b.Manifest().Name()))
		return nil
	})
	if err != nil {
		return errs.NewBundleErr().WithErr(err)
	}

	if len(m.Bundles()) == 0 {
		return errs.NewBundleErr().WithErr(errors.Errorf("no valid bundle found in the directory %s", root))
	}
	return nil
}

func (m *Master) loop() {
	defer close(m.done)
	for m.running.Load() {
		ok, err := m.mux.Select(m.slices)
		if err != nil {
			if errs.GetCode(err) == errs.ClosedSelectorErrCode {
				return
			}
			// 内核队列出错后状态不可信，停止容器并退出
			m.logger.Error("select failed, exit: "+err.Error(),
				zap.Int64(consts.LogFieldErrCode, errs.GetCode(err)),
				zap.String(consts.LogFieldErrKind, errKind(err)))
			m.running.Store(false)
			go func() {
				<-m.done
				if e := m.Stop(); e != nil {
					m.logger.Warn("stop master failed", zap.Error(e))
				}
				m.exit(1)
			}()
			return
		}
		if !ok {
			continue
		}
		for _, key := range m.mux.SelectedKeys() {
			m.dispatch(key)
		}
	}
}

func (m *Master) dispatch(key *nio.Key) {
	reg, ok := key.Attachment().(*bundle.Registration)
	if !ok || reg.Handler == nil {
		m.logger.Warn("ready key without handler", zap.String(consts.LogFieldValue, key.String()))
		return
	}

	defer utils.HandlePanic(m.logger, func(r any) {
		m.fail(reg.Bundle, panicErr(r))
	})
	if err := reg.Handler.Handle(key); err != nil {
		m.fail(reg.Bundle, err)
	}
}

func panicErr(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return errs.NewUnknownErr().WithErr(errors.Errorf("%v", r))
}

// fail 致命错误结束进程，其它错误停止出错的 bundle
func (m *Master) fail(b *bundle.Bundle, err error) {
	fields := []zap.Field{
		zap.Int64(consts.LogFieldErrCode, errs.GetCode(err)),
		zap.String(consts.LogFieldErrKind, errKind(err)),
	}
	if b != nil {
		fields = append(fields, zap.String(consts.LogFieldBundle, b.SymbolicName()))
	}

	if errs.IsFatal(err) {
		m.logger.Error("fatal error, exit: "+err.Error(), fields...)
		m.exit(1)
		return
	}
	if errs.IsEOF(err) {
		m.logger.Info("bundle reached end of stream", fields...)
	} else {
		m.logger.Error(err.Error(), fields...)
	}

	if b != nil && b.State() == bundle.ACTIVE {
		if e := b.Stop(); e != nil {
			m.logger.Warn("stop failed bundle", zap.String(consts.LogFieldBundle, b.SymbolicName()), zap.Error(e))
		}
	}
}

func errKind(err error) string {
	var be *errs.BusErr
	if errors.As(err, &be) {
		return be.Kind()
	}
	return "unknown"
}

// Stop 停止分发，停止并卸载所有 bundle，关闭 selector
func (m *Master) Stop() error {
	var err error
	m.stopOnce.Do(func() {
		if m.running.CompareAndSwap(true, false) {
			m.selector.Disable()
			<-m.done
		}

		m.mu.Lock()
		bundles := m.bundles
		m.bundles = make(map[string]*shared.Ptr[*bundle.Bundle])
		m.mu.Unlock()
		for _, p := range bundles {
			p.Release()
		}

		err = m.selector.Close()
		m.metrics.Close()
		m.removePidFile()
		m.logger.Info("master stopped")
	})
	return err
}

func (m *Master) writePidFile() {
	path := m.settings.GetString(consts.SettingPidFile)
	if path == "" {
		return
	}
	f, err := utils.CheckAndCreateFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		m.logger.Warn("write pid file failed", zap.String(consts.LogFieldPath, path), zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		m.logger.Warn("write pid file failed", zap.String(consts.LogFieldPath, path), zap.Error(errs.NewWriteFileErr().WithErr(err)))
	}
}

func (m *Master) removePidFile() {
	path := m.settings.GetString(consts.SettingPidFile)
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("remove pid file failed", zap.String(consts.LogFieldPath, path), zap.Error(err))
	}
}
