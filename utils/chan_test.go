package utils

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUnboundChan(t *testing.T) {
	uc := NewUnboundChan()
	serialize(t, uc)
	parallel(t, uc)
	tclose(t, uc)
}

func serialize(t *testing.T, uc *UnboundChan) {
	for i := 0; i < 10000; i++ {
		uc.In()
	}
	t.Log("[serialize] finish in")

	for i := 0; i < 10000; i++ {
		uc.Out()
	}
	t.Log("[serialize] finish out")
	go func() {
		time.Sleep(1 * time.Second)
		t.Log("[serialize] arise")
		uc.In()
	}()
	uc.Out()
	t.Log("[serialize] try out")
	t.Log("[serialize] len of uc buffer:", uc.Len())
}

func parallel(t *testing.T, uc *UnboundChan) {
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10000; i++ {
			uc.In()
		}
		t.Log("[parallel] finish in")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10000; i++ {
			uc.Out()
		}
		t.Log("[parallel] finish out")
	}()

	wg.Wait()
	t.Log("[parallel] len of uc buffer:", uc.Len())
	go func() {
		time.Sleep(1 * time.Second)
		t.Log("[parallel] arise")
		uc.In()
	}()
	uc.Out()
	t.Log("[parallel] try out")
}

func tclose(t *testing.T, uc *UnboundChan) {
	uc.In()
	uc.Close()
	t.Log("[tclose] uc close")
	t.Log("[tclose] finish in")
	// uc.In()
	// t.Log("[tclose] try in")

	assert.True(t, uc.Out())
	t.Log("[tclose] can out")
	assert.False(t, uc.Out())
}

func TestUnboundChanSelect(t *testing.T) {
	uc := NewUnboundChan()
	for i := 0; i < 3; i++ {
		uc.In()
	}
	uc.Close()

	got := 0
	for range uc.C() {
		got++
	}
	assert.Equal(t, 3, got)

	select {
	case _, ok := <-uc.C():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("notifier not closed")
	}
}

func TestUnboundChanLen(t *testing.T) {
	uc := NewUnboundChan()
	for i := 0; i < 100; i++ {
		uc.In()
	}
	assert.Eventually(t, func() bool {
		return uc.Len() == 100
	}, time.Second, time.Millisecond)

	// 读 Len 与内部 goroutine 并发进行
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			uc.Out()
		}
	}()
	for i := 0; i < 1000; i++ {
		_ = uc.Len()
	}
	<-done
	assert.Eventually(t, func() bool {
		return uc.Len() == 0
	}, time.Second, time.Millisecond)

	uc.Close()
	assert.False(t, uc.Out())
}
