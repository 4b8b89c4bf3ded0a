package logs

import (
	"os"

	"github.com/Trinoooo/nodebus/consts"
	"github.com/Trinoooo/nodebus/utils"
	"go.uber.org/zap"
)

var Logger *zap.Logger

func init() {
	var err error
	Logger, err = build(utils.IsTest(), os.Getenv(consts.LogLevel))
	if err != nil {
		panic(err)
	}
}

// build test 环境使用开发模式；level 非空时覆盖默认级别
func build(test bool, level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if test {
		cfg = zap.NewDevelopmentConfig()
	}
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = lvl
	}
	return cfg.Build(zap.AddCaller())
}

// Component 带公共字段的子 logger，各组件在自己的 logs 包里持有一份
func Component(name string, fields ...zap.Field) *zap.Logger {
	return Logger.With(append([]zap.Field{zap.String(consts.LogFieldComponent, name)}, fields...)...)
}
