package utils

import "sync"

// WrapLock 在 lock 保护下执行 fn，fn panic 也会解锁
func WrapLock(lock sync.Locker, fn func()) {
	lock.Lock()
	defer lock.Unlock()

	fn()
}

// WrapRLock 读锁版本，多个 fn 可以并发执行，与 WrapLock(rw, ...) 互斥
func WrapRLock(rw *sync.RWMutex, fn func()) {
	rw.RLock()
	defer rw.RUnlock()

	fn()
}
