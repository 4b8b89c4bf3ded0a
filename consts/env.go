package consts

const (
	Env          = "NODEBUS_ENV"           // 运行环境，test 时使用开发模式日志
	Config       = "NODEBUS_CONFIG"        // 配置文件路径
	BundleRoot   = "NODEBUS_BUNDLE_ROOT"   // bundle manifest 根目录
	MetricsPush  = "NODEBUS_METRICS_PUSH"  // prometheus push gateway 地址，为空不推送
	SelectSlices = "NODEBUS_SELECT_SLICES" // 每次 select 的等待片数
	LogLevel     = "NODEBUS_LOG_LEVEL"     // 覆盖默认日志级别：debug/info/warn/error
)
