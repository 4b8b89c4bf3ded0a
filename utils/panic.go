package utils

import (
	"fmt"

	"go.uber.org/zap"
)

// HandlePanic 用于 defer，recover 之后记录日志并执行 fn
func HandlePanic(logger *zap.Logger, fn func(r any)) {
	if r := recover(); r != nil {
		logger.Error(fmt.Sprintf("recovered from panic: %v", r), zap.Stack("stack"))
		if fn != nil {
			fn(r)
		}
	}
}
