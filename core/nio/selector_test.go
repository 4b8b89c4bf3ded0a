package nio

import (
	"testing"
	"time"

	"github.com/Trinoooo/nodebus/errs"
	"github.com/Trinoooo/nodebus/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSelector(t *testing.T, opts ...SelectorOption) *Selector {
	s, err := NewSelector(opts...)
	require.Nil(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newPipe(t *testing.T) (*IOChannel, *IOChannel) {
	r, w, err := Pipe()
	require.Nil(t, err)
	t.Cleanup(func() {
		_ = r.Close()
		_ = w.Close()
	})
	return r, w
}

// 写端写入 5 字节后，读端就绪且可读字节数为 5
func TestScenarioWriteThenSelect(t *testing.T) {
	s := newSelector(t)
	r, w := newPipe(t)

	n, err := w.Write([]byte("hello"))
	require.Nil(t, err)
	require.Equal(t, 5, n)

	key, err := r.RegisterTo(s, OpRead, nil)
	require.Nil(t, err)

	ok, err := s.Select(100)
	assert.Nil(t, err)
	assert.True(t, ok)

	keys := s.SelectedKeys()
	require.Len(t, keys, 1)
	assert.Same(t, key, keys[0])
	assert.True(t, keys[0].IsReadable())

	avail, err := keys[0].Channel().(StreamChannel).Available()
	assert.Nil(t, err)
	assert.Equal(t, 5, avail)
}

// 写端直接关闭，读端被报告就绪，状态更新后读端关闭，读到的是 EOF 而不是 I/O 错误
func TestScenarioHangup(t *testing.T) {
	s := newSelector(t)
	r, w := newPipe(t)

	_, err := r.RegisterTo(s, OpRead, nil)
	require.Nil(t, err)
	require.Nil(t, w.Close())

	ok, err := s.Select(100)
	assert.Nil(t, err)
	require.True(t, ok)
	keys := s.SelectedKeys()
	require.Len(t, keys, 1)
	assert.True(t, keys[0].IsHangup())

	assert.False(t, r.IsOpen())
	_, err = r.Read(make([]byte, 8))
	assert.EqualValues(t, errs.EOFErrCode, errs.GetCode(err))
	assert.True(t, errs.IsEOF(err))
}

// 同一个 channel 注册到两个 selector，关闭 channel 后两个 key 都被取消
func TestScenarioCloseCancelsAllSelectors(t *testing.T) {
	s1, s2 := newSelector(t), newSelector(t)
	r, w := newPipe(t)

	k1, err := r.RegisterTo(s1, OpRead, nil)
	require.Nil(t, err)
	k2, err := r.RegisterTo(s2, OpRead, nil)
	require.Nil(t, err)
	assert.Equal(t, 1, s1.Len())
	assert.Equal(t, 1, s2.Len())

	_, err = w.Write([]byte("x"))
	require.Nil(t, err)
	require.Nil(t, r.Close())

	assert.True(t, k1.IsCancelled())
	assert.True(t, k2.IsCancelled())
	assert.Equal(t, 0, s1.Len())
	assert.Equal(t, 0, s2.Len())
	assert.Empty(t, r.Keys())

	for _, s := range []*Selector{s1, s2} {
		ok, err := s.Select(5)
		assert.Nil(t, err)
		assert.False(t, ok)
		assert.Empty(t, s.SelectedKeys())
	}
}

func TestReRegisterReplacesKey(t *testing.T) {
	s := newSelector(t)
	r, _ := newPipe(t)

	first, err := r.RegisterTo(s, OpRead, "first")
	require.Nil(t, err)
	second, err := r.RegisterTo(s, OpRead, "second")
	require.Nil(t, err)

	assert.True(t, first.IsCancelled())
	assert.False(t, second.IsCancelled())
	assert.Equal(t, 1, s.Len())

	k, ok := r.KeyFor(s)
	assert.True(t, ok)
	assert.Same(t, second, k)
	assert.Equal(t, "second", k.Attachment())
}

func TestCancel(t *testing.T) {
	s := newSelector(t)
	r, w := newPipe(t)

	key, err := r.RegisterTo(s, OpRead, nil)
	require.Nil(t, err)
	require.Nil(t, key.Cancel())
	require.Nil(t, key.Cancel())

	_, ok := r.KeyFor(s)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())

	_, err = w.Write([]byte("x"))
	require.Nil(t, err)
	ok, err = s.Select(5)
	assert.Nil(t, err)
	assert.False(t, ok)
}

func TestSelectZeroDoesNotBlock(t *testing.T) {
	s := newSelector(t, WithSliceInterval(time.Second))
	r, _ := newPipe(t)
	_, err := r.RegisterTo(s, OpRead, nil)
	require.Nil(t, err)

	start := time.Now()
	ok, err := s.Select(0)
	assert.Nil(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestSelectBudget(t *testing.T) {
	s := newSelector(t, WithSliceInterval(5*time.Millisecond))
	r, _ := newPipe(t)
	_, err := r.RegisterTo(s, OpRead, nil)
	require.Nil(t, err)

	start := time.Now()
	ok, err := s.Select(4)
	assert.Nil(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestReadyKeyIsOneShot(t *testing.T) {
	s := newSelector(t)
	r, w := newPipe(t)

	key, err := r.RegisterTo(s, OpRead, nil)
	require.Nil(t, err)
	_, err = w.Write([]byte("x"))
	require.Nil(t, err)

	ok, err := s.Select(100)
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, s.Len())
	_, linked := r.KeyFor(s)
	assert.False(t, linked)
	assert.False(t, key.IsCancelled())

	// 没有重新注册就不会再被报告
	_, err = w.Write([]byte("y"))
	require.Nil(t, err)
	ok, err = s.Select(5)
	assert.Nil(t, err)
	assert.False(t, ok)

	// 重新注册后未读的数据会再次被报告
	again, err := r.RegisterTo(s, OpRead, nil)
	require.Nil(t, err)
	ok, err = s.Select(100)
	assert.Nil(t, err)
	assert.True(t, ok)
	assert.Equal(t, []*Key{again}, s.SelectedKeys())
}

func TestRegisterWhileSelecting(t *testing.T) {
	s := newSelector(t)
	r, w := newPipe(t)

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, err := s.Select(-1)
		done <- result{ok, err}
	}()

	time.Sleep(20 * time.Millisecond)
	key, err := r.RegisterTo(s, OpRead, nil)
	require.Nil(t, err)
	_, err = w.Write([]byte("x"))
	require.Nil(t, err)

	select {
	case res := <-done:
		assert.Nil(t, res.err)
		assert.True(t, res.ok)
		assert.Equal(t, []*Key{key}, s.SelectedKeys())
	case <-time.After(2 * time.Second):
		s.Disable()
		t.Fatal("select did not observe concurrent registration")
	}
}

func TestDisableAbortsSelect(t *testing.T) {
	s := newSelector(t)
	done := make(chan bool, 1)
	go func() {
		ok, _ := s.Select(-1)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	s.Disable()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("select ignored disable")
	}

	assert.False(t, s.IsEnabled())
	s.Enable()
	assert.True(t, s.IsEnabled())
}

func TestSelectorClose(t *testing.T) {
	s, err := NewSelector()
	require.Nil(t, err)
	r, _ := newPipe(t)

	key, err := r.RegisterTo(s, OpRead, nil)
	require.Nil(t, err)

	require.Nil(t, s.Close())
	require.Nil(t, s.Close())
	assert.True(t, key.IsCancelled())
	assert.Empty(t, r.Keys())

	_, err = s.Select(1)
	assert.EqualValues(t, errs.ClosedSelectorErrCode, errs.GetCode(err))
	_, err = r.RegisterTo(s, OpRead, nil)
	assert.EqualValues(t, errs.ClosedSelectorErrCode, errs.GetCode(err))
	_, ok := r.KeyFor(s)
	assert.False(t, ok)
}

func TestRegisterInvalid(t *testing.T) {
	s := newSelector(t)
	r, _ := newPipe(t)

	_, err := r.RegisterTo(s, 0, nil)
	assert.EqualValues(t, errs.InvalidParamErrCode, errs.GetCode(err))
	_, err = r.RegisterTo(s, OpHangup, nil)
	assert.EqualValues(t, errs.InvalidParamErrCode, errs.GetCode(err))
	_, err = r.RegisterTo(nil, OpRead, nil)
	assert.EqualValues(t, errs.InvalidParamErrCode, errs.GetCode(err))

	require.Nil(t, r.Close())
	_, err = r.RegisterTo(s, OpRead, nil)
	assert.EqualValues(t, errs.ClosedChannelErrCode, errs.GetCode(err))
}

func TestWriteInterest(t *testing.T) {
	s := newSelector(t)
	_, w := newPipe(t)

	key, err := w.RegisterTo(s, OpWrite, nil)
	require.Nil(t, err)
	ok, err := s.Select(100)
	assert.Nil(t, err)
	assert.True(t, ok)
	assert.True(t, key.IsWritable())
	assert.False(t, key.IsReadable())
	assert.True(t, w.IsOpen())
}

func TestSelectorMetrics(t *testing.T) {
	helper := metrics.NewHelper()
	defer helper.Close()
	s := newSelector(t, WithMetrics(helper), WithMaxEvents(8))
	r, w := newPipe(t)

	_, err := r.RegisterTo(s, OpRead, nil)
	require.Nil(t, err)
	_, err = w.Write([]byte("x"))
	require.Nil(t, err)
	ok, err := s.Select(100)
	require.Nil(t, err)
	require.True(t, ok)

	mfs, err := helper.Registry().Gather()
	require.Nil(t, err)
	values := map[string]float64{}
	for _, mf := range mfs {
		m := mf.GetMetric()[0]
		if m.GetCounter() != nil {
			values[mf.GetName()] = m.GetCounter().GetValue()
		} else if m.GetGauge() != nil {
			values[mf.GetName()] = m.GetGauge().GetValue()
		}
	}
	assert.EqualValues(t, 1, values["nodebus_channel_register_counter"])
	assert.EqualValues(t, 1, values["nodebus_selector_ready_key_counter"])
	assert.EqualValues(t, 0, values["nodebus_selector_registered_keys"])
}
