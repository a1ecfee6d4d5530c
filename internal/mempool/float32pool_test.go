package mempool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeClass(t *testing.T) {
	tests := []struct {
		name     string
		input    int
		expected int
	}{
		{name: "zero", input: 0, expected: 1024},
		{name: "small", input: 1, expected: 1024},
		{name: "exact floor", input: 1024, expected: 1024},
		{name: "just over floor", input: 1025, expected: 2048},
		{name: "model input 416x416x3", input: 416 * 416 * 3, expected: 524288},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sizeClass(tt.input))
		})
	}
}

func TestGetPutFloat32(t *testing.T) {
	buf := GetFloat32(3000)
	require.Len(t, buf, 3000)
	assert.Equal(t, 4096, cap(buf))
	buf[0] = 42
	PutFloat32(buf)

	again := GetFloat32(2500)
	require.Len(t, again, 2500)
	assert.GreaterOrEqual(t, cap(again), 2500)
	PutFloat32(again)
}

func TestPutFloat32IgnoresForeignBuffers(t *testing.T) {
	assert.NotPanics(t, func() {
		PutFloat32(nil)
		PutFloat32(make([]float32, 10, 1000))
	})
}

func TestConcurrentAccess(t *testing.T) {
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for range 50 {
				b := GetFloat32(1024 * (n%4 + 1))
				b[len(b)-1] = float32(n)
				PutFloat32(b)
			}
		}(i)
	}
	wg.Wait()
	hit, miss := Stats()
	assert.Positive(t, hit+miss)
}
