//go:build darwin || freebsd

package nio

// fionread _IOR('f', 127, int)，x/sys/unix 没有导出
const fionread = 0x4004667f
