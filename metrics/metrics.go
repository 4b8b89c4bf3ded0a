package metrics

import (
	"sync"
	"time"

	"github.com/Trinoooo/nodebus/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

const namespace = "nodebus"

// Helper 每个容器一份，指标注册在私有 registry 上，避免多个实例（比如测试）之间重复注册
type Helper struct {
	registry *prometheus.Registry

	SelectCounter       prometheus.Counter   // select 调用次数
	ReadyKeyCounter     prometheus.Counter   // 就绪 key 数
	RegisterCounter     prometheus.Counter   // channel 注册次数
	CancelCounter       prometheus.Counter   // key 取消次数
	RegisteredKeysGauge prometheus.Gauge     // 当前注册在 selector 上的 key 数
	ParsedValueCounter  prometheus.Counter   // parser task 解出的 json 值
	BundleStateGauge    *prometheus.GaugeVec // 各状态 bundle 数

	stopOnce sync.Once
	stop     chan struct{}
}

func NewHelper() *Helper {
	h := &Helper{
		registry: prometheus.NewRegistry(),
		SelectCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selector_select_counter",
		}),
		ReadyKeyCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selector_ready_key_counter",
		}),
		RegisterCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_register_counter",
		}),
		CancelCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_cancel_counter",
		}),
		RegisteredKeysGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "selector_registered_keys",
		}),
		ParsedValueCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_parsed_value_counter",
		}),
		BundleStateGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bundle_state",
		}, []string{"state"}),
		stop: make(chan struct{}),
	}

	h.registry.MustRegister(
		h.SelectCounter,
		h.ReadyKeyCounter,
		h.RegisterCounter,
		h.CancelCounter,
		h.RegisteredKeysGauge,
		h.ParsedValueCounter,
		h.BundleStateGauge,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return h
}

func (h *Helper) Registry() *prometheus.Registry {
	return h.registry
}

// Push 周期性推送到 push gateway，url 为空时不推送
func (h *Helper) Push(url string, period time.Duration) {
	if url == "" {
		return
	}
	pusher := push.New(url, namespace).Gatherer(h.registry)
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				if err := pusher.Add(); err != nil {
					logs.Logger.Warn("prometheus pusher push failed", zap.String("url", url), zap.Error(err))
				}
			}
		}
	}()
}

func (h *Helper) Close() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}
