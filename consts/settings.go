package consts

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
)

func init() {
	home, _ := homedir.Dir()
	BaseDir = fmt.Sprintf("%s/nodebus", home)
	DefaultConfigPath = fmt.Sprintf("%s/config", BaseDir)
	DefaultBundleRoot = fmt.Sprintf("%s/bundles", BaseDir)
}

var (
	BaseDir           string
	DefaultConfigPath string
	DefaultBundleRoot string
)

// 配置项名称
const (
	SettingBundleRoot    = "master.bundle-rootpath"
	SettingPidFile       = "master.pidfile"
	SettingSelectSlices  = "selector.slices"
	SettingSliceInterval = "selector.slice-interval"
	SettingMaxEvents     = "selector.max-events"
	SettingWorkers       = "master.workers"
	SettingMetricsPush   = "metrics.push-url"
	SettingMetricsPeriod = "metrics.push-period"
)

const (
	DefaultPidFile       = "/tmp/nodebus/nodebus.pid"
	DefaultSelectSlices  = 100
	DefaultSliceInterval = time.Millisecond
	DefaultMaxEvents     = 64
	DefaultWorkers       = 64
	DefaultMetricsPeriod = 5 * time.Second
)
