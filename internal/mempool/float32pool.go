// Package mempool recycles the float32 buffers that hold model input tensors.
// Page images are converted one at a time, so a handful of size classes cover
// every model a session can load.
package mempool

import (
	"math/bits"
	"sync"
	"sync/atomic"
)

const minClassShift = 10 // 1024 elements

var (
	pools  sync.Map // key: size class (int), value: *sync.Pool
	hits   atomic.Int64
	misses atomic.Int64
)

// sizeClass rounds n up to the next power of two, with a floor of 1024.
func sizeClass(n int) int {
	if n <= 1<<minClassShift {
		return 1 << minClassShift
	}
	return 1 << bits.Len(uint(n-1))
}

func poolFor(cls int) *sync.Pool {
	p, _ := pools.LoadOrStore(cls, &sync.Pool{})
	return p.(*sync.Pool) //nolint:forcetypeassert // only *sync.Pool is stored
}

// GetFloat32 returns a buffer of length n. Contents are not zeroed.
// Return it with PutFloat32 when done.
func GetFloat32(n int) []float32 {
	if n < 0 {
		n = 0
	}
	cls := sizeClass(n)
	if v := poolFor(cls).Get(); v != nil {
		if buf, ok := v.(*[]float32); ok && cap(*buf) >= n {
			hits.Add(1)
			return (*buf)[:n]
		}
	}
	misses.Add(1)
	return make([]float32, n, cls)
}

// PutFloat32 returns a buffer obtained from GetFloat32. Nil and foreign-sized
// slices are ignored.
func PutFloat32(buf []float32) {
	c := cap(buf)
	if c == 0 || c != sizeClass(c) {
		return
	}
	full := buf[:c]
	poolFor(c).Put(&full)
}

// Stats reports how many Get calls were served from the pool.
func Stats() (hit, miss int64) {
	return hits.Load(), misses.Load()
}
