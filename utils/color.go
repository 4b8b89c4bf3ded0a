package utils

import "fmt"

// Color 终端前景色，交互式编辑配置时使用
type Color int

const (
	Red    Color = 31
	Green  Color = 32
	Yellow Color = 33
	Blue   Color = 34
)

// Paint 粗体着色，tag 非空时加上 [tag] 前缀
func Paint(c Color, tag, format string, args ...any) string {
	msg := fmt.Sprintf(format, args...)
	if tag != "" {
		msg = fmt.Sprintf("[%s] %s", tag, msg)
	}
	return fmt.Sprintf("\033[1;%dm%s\033[0m", c, msg)
}

func WrapError(format string, args ...any) string {
	return Paint(Red, "ERROR", format, args...)
}

func WrapWarn(format string, args ...any) string {
	return Paint(Yellow, "WARN", format, args...)
}

func WrapInfo(format string, args ...any) string {
	return Paint(Blue, "INFO", format, args...)
}

func WrapOK(format string, args ...any) string {
	return Paint(Green, "OK", format, args...)
}
