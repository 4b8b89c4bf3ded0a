package master

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Trinoooo/nodebus/bundles/echo"
	"github.com/Trinoooo/nodebus/bundles/helloworld"
	"github.com/Trinoooo/nodebus/config"
	"github.com/Trinoooo/nodebus/consts"
	"github.com/Trinoooo/nodebus/core/bundle"
	"github.com/Trinoooo/nodebus/core/nio"
	"github.com/Trinoooo/nodebus/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newSettings(t *testing.T, root string) *config.Settings {
	dir := t.TempDir()
	s := config.Default(filepath.Join(dir, "config.yaml"))
	require.Nil(t, s.Load())
	s.Set(consts.SettingBundleRoot, root)
	s.Set(consts.SettingPidFile, filepath.Join(dir, "run", "nodebus.pid"))
	s.Set(consts.SettingSelectSlices, 10)
	return s
}

func writeManifest(t *testing.T, root, symbolic, activator string, extra ...string) {
	content := fmt.Sprintf("Bundle-SymbolicName: %s\nBundle-Activator: %s\n", symbolic, activator)
	for _, line := range extra {
		content += line + "\n"
	}
	require.Nil(t, os.WriteFile(filepath.Join(root, symbolic+".yaml"), []byte(content), 0644))
}

func newRegistry(t *testing.T) *bundle.Registry {
	registry := bundle.NewRegistry()
	require.Nil(t, helloworld.Register(registry))
	require.Nil(t, echo.Register(registry))
	return registry
}

func TestMissingRoot(t *testing.T) {
	m, err := New(newSettings(t, filepath.Join(t.TempDir(), "none")), newRegistry(t))
	require.Nil(t, err)
	defer m.Stop()

	err = m.Start()
	assert.EqualValues(t, errs.DirNotExistErrCode, errs.GetCode(err))
}

func TestNoValidBundle(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "org.nodebus.unknown", "unknown")
	require.Nil(t, os.WriteFile(filepath.Join(root, "readme.txt"), []byte("not a manifest"), 0644))

	m, err := New(newSettings(t, root), newRegistry(t))
	require.Nil(t, err)
	defer m.Stop()

	err = m.Start()
	assert.EqualValues(t, errs.BundleErrCode, errs.GetCode(err))
}

func TestStartAndEcho(t *testing.T) {
	root := t.TempDir()
	require.Nil(t, os.MkdirAll(filepath.Join(root, "net"), 0755))
	writeManifest(t, root, "org.nodebus.helloworld", helloworld.ActivatorName, "Bundle-Name: Hello world")
	writeManifest(t, filepath.Join(root, "net"), "org.nodebus.echo", echo.ActivatorName)
	writeManifest(t, root, "org.nodebus.broken", "missing")

	settings := newSettings(t, root)
	m, err := New(settings, newRegistry(t))
	require.Nil(t, err)
	require.Nil(t, m.Start())
	assert.Equal(t, []string{"org.nodebus.echo", "org.nodebus.helloworld"}, m.Bundles())

	pid, err := os.ReadFile(settings.GetString(consts.SettingPidFile))
	require.Nil(t, err)
	assert.Equal(t, fmt.Sprint(os.Getpid()), string(pid))

	p, err := m.Bundle("org.nodebus.echo")
	require.Nil(t, err)
	b := p.MustGet()
	assert.Equal(t, bundle.ACTIVE, b.State())
	addr := b.Activator().(*echo.Echo).Addr()
	p.Release()

	conn, err := net.Dial("tcp", addr.String())
	require.Nil(t, err)
	defer conn.Close()
	require.Nil(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	for _, msg := range []string{"ping", "pong"} {
		_, err = conn.Write([]byte(msg))
		require.Nil(t, err)
		buf := make([]byte, len(msg))
		_, err = io.ReadFull(conn, buf)
		require.Nil(t, err)
		assert.Equal(t, msg, string(buf))
	}

	require.Nil(t, m.Stop())
	require.Nil(t, m.Stop())
	assert.Equal(t, bundle.UNINSTALLED, b.State())
	_, err = os.Stat(settings.GetString(consts.SettingPidFile))
	assert.True(t, os.IsNotExist(err))

	_, err = m.Bundle("org.nodebus.echo")
	assert.EqualValues(t, errs.BundleErrCode, errs.GetCode(err))
	assert.False(t, errs.IsFatal(err))
}

// pipeActivator 注册管道读端，handler 返回 handle 给出的结果
type pipeActivator struct {
	handle func(key *nio.Key) error
	w      *nio.IOChannel
}

func (p *pipeActivator) Start(ctx *bundle.Context) error {
	r, w, err := nio.Pipe()
	if err != nil {
		return err
	}
	p.w = w
	ctx.Own(w)
	_, err = ctx.Register(r, nio.OpRead, bundle.HandlerFunc(p.handle))
	return err
}

func (p *pipeActivator) Stop(ctx *bundle.Context) error {
	return nil
}

func startPipeBundle(t *testing.T, handle func(key *nio.Key) error, opts ...Option) (*Master, *pipeActivator) {
	root := t.TempDir()
	writeManifest(t, root, "org.nodebus.pipe", "pipe")
	activator := &pipeActivator{handle: handle}
	registry := bundle.NewRegistry()
	require.Nil(t, registry.Register("pipe", func() bundle.Activator { return activator }))

	m, err := New(newSettings(t, root), registry, opts...)
	require.Nil(t, err)
	require.Nil(t, m.Start())
	t.Cleanup(func() { _ = m.Stop() })
	return m, activator
}

func TestHandlerErrorStopsBundle(t *testing.T) {
	m, activator := startPipeBundle(t, func(key *nio.Key) error {
		return errs.NewIOErr()
	})

	_, err := activator.w.Write([]byte("x"))
	require.Nil(t, err)

	p, err := m.Bundle("org.nodebus.pipe")
	require.Nil(t, err)
	defer p.Release()
	assert.Eventually(t, func() bool {
		return p.MustGet().State() == bundle.RESOLVED
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, activator.w.IsOpen())
}

func TestFatalErrorExits(t *testing.T) {
	var code atomic.Int32
	code.Store(-1)
	_, activator := startPipeBundle(t, func(key *nio.Key) error {
		panic(errs.NewNullReferenceErr())
	}, WithExit(func(c int) { code.Store(int32(c)) }))

	_, err := activator.w.Write([]byte("x"))
	require.Nil(t, err)
	assert.Eventually(t, func() bool {
		return code.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

// brokenMux 模拟内核队列失效：broken 关闭后每次 Select 都失败
type brokenMux struct {
	broken chan struct{}
	calls  atomic.Int32
}

func (b *brokenMux) Select(int) (bool, error) {
	<-b.broken
	b.calls.Add(1)
	return false, errs.NewIOErr().WithErr(unix.EBADF)
}

func (b *brokenMux) SelectedKeys() []*nio.Key {
	return nil
}

func TestSelectFailureStopsAndExits(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "org.nodebus.helloworld", helloworld.ActivatorName)
	settings := newSettings(t, root)

	exited := make(chan int, 1)
	m, err := New(settings, newRegistry(t), WithExit(func(code int) { exited <- code }))
	require.Nil(t, err)
	mux := &brokenMux{broken: make(chan struct{})}
	m.mux = mux

	require.Nil(t, m.Start())
	p, err := m.Bundle("org.nodebus.helloworld")
	require.Nil(t, err)
	b := p.MustGet()
	assert.Equal(t, bundle.ACTIVE, b.State())
	p.Release()
	close(mux.broken)

	select {
	case code := <-exited:
		assert.Equal(t, 1, code)
	case <-time.After(2 * time.Second):
		t.Fatal("master did not exit after select failure")
	}
	// 出错之后不再重试
	assert.EqualValues(t, 1, mux.calls.Load())
	assert.Empty(t, m.Bundles())
	assert.Equal(t, bundle.UNINSTALLED, b.State())
	_, err = os.Stat(settings.GetString(consts.SettingPidFile))
	assert.True(t, os.IsNotExist(err))
	assert.Nil(t, m.Stop())
}
