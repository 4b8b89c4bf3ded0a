package logs

import (
	"github.com/Trinoooo/nodebus/consts"
	"github.com/Trinoooo/nodebus/logs"
	"go.uber.org/zap"
)

var nioLogger *zap.Logger

func init() {
	nioLogger = logs.Component(consts.ComponentNio)
}

func Debug(msg string, fields ...zap.Field) {
	nioLogger.Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	nioLogger.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	nioLogger.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	nioLogger.Error(msg, fields...)
}
