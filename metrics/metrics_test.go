package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, h *Helper, name string) float64 {
	mfs, err := h.Registry().Gather()
	require.Nil(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestHelper(t *testing.T) {
	// 私有 registry，两个实例不会冲突
	h1, h2 := NewHelper(), NewHelper()
	defer h1.Close()
	defer h2.Close()

	h1.SelectCounter.Inc()
	h1.SelectCounter.Inc()
	h2.SelectCounter.Inc()

	assert.EqualValues(t, 2, counterValue(t, h1, "nodebus_selector_select_counter"))
	assert.EqualValues(t, 1, counterValue(t, h2, "nodebus_selector_select_counter"))
}

func TestPushDisabled(t *testing.T) {
	h := NewHelper()
	h.Push("", time.Millisecond)
	h.Close()
	h.Close()
}
