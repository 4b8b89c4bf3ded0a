package logs

import (
	"github.com/Trinoooo/nodebus/consts"
	"github.com/Trinoooo/nodebus/logs"
	"go.uber.org/zap"
)

var sharedLogger *zap.Logger

func init() {
	sharedLogger = logs.Component(consts.ComponentShared)
}

func Debug(msg string, fields ...zap.Field) {
	sharedLogger.Debug(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	sharedLogger.Error(msg, fields...)
}
