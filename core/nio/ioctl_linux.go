package nio

import "golang.org/x/sys/unix"

// fionread 查询接收缓冲区中未读的字节数，linux 上即 TIOCINQ
const fionread = unix.TIOCINQ
