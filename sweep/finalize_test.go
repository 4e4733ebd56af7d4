package sweep

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/gc/cell"
)

func TestBackgroundFinalizerPreservesEnqueueOrder(t *testing.T) {
	var mu sync.Mutex
	var order []int

	f := NewBackgroundFinalizer(func(c *cell.Cell) {
		mu.Lock()
		order = append(order, c.Payload.(int))
		mu.Unlock()
	})

	const n = 200
	cells := make([]*cell.Cell, n)
	for i := 0; i < n; i++ {
		c := cell.New(cell.Scope, 0, 0, false)
		c.Payload = i
		cells[i] = c
	}
	for _, c := range cells {
		f.Enqueue(c)
	}
	f.Shutdown()

	require.Len(t, order, n)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
	assert.Equal(t, int64(n), f.Processed())
}
