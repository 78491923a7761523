package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sparqlstream/errors"
	"github.com/c360/sparqlstream/metric"
)

func TestCircularBuffer_BasicOperations(t *testing.T) {
	buf, err := NewCircularBuffer[int](3)
	require.NoError(t, err)

	assert.Equal(t, 3, buf.Capacity())
	assert.Equal(t, 0, buf.Size())

	for i := 1; i <= 3; i++ {
		require.NoError(t, buf.Write(i))
	}
	assert.Equal(t, []int{1, 2, 3}, buf.Snapshot())

	v, ok := buf.Read()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, buf.Size())
}

func TestCircularBuffer_OverflowPolicies(t *testing.T) {
	tests := []struct {
		name     string
		policy   OverflowPolicy
		expected []int
		dropped  []int
	}{
		{"drop oldest", DropOldest, []int{3, 4, 5}, []int{1, 2}},
		{"drop newest", DropNewest, []int{1, 2, 3}, []int{4, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dropped []int
			buf, err := NewCircularBuffer(3,
				WithOverflowPolicy[int](tt.policy),
				WithDropCallback(func(item int) { dropped = append(dropped, item) }),
			)
			require.NoError(t, err)

			for i := 1; i <= 5; i++ {
				require.NoError(t, buf.Write(i))
			}

			assert.Equal(t, tt.expected, buf.Snapshot())
			assert.Equal(t, tt.dropped, dropped)
			assert.Equal(t, int64(2), buf.Stats().Drops())
			assert.Equal(t, 3, buf.Size(), "size never exceeds capacity")
		})
	}
}

func TestCircularBuffer_SnapshotAfterWrap(t *testing.T) {
	buf, err := NewCircularBuffer[string](2)
	require.NoError(t, err)

	for _, s := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, buf.Write(s))
	}

	snap := buf.Snapshot()
	assert.Equal(t, []string{"d", "e"}, snap)

	snap[0] = "mutated"
	assert.Equal(t, []string{"d", "e"}, buf.Snapshot(), "snapshot is a copy")
}

func TestCircularBuffer_ClearAndClose(t *testing.T) {
	buf, err := NewCircularBuffer[int](4)
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	buf.Clear()
	assert.Empty(t, buf.Snapshot())

	require.NoError(t, buf.Close())
	err = buf.Write(2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestCircularBuffer_Statistics(t *testing.T) {
	buf, err := NewCircularBuffer[int](2)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, buf.Write(i))
	}
	buf.Read()

	summary := buf.Stats().Summary()
	assert.Equal(t, int64(4), summary.Writes)
	assert.Equal(t, int64(1), summary.Reads)
	assert.Equal(t, int64(2), summary.Drops)
	assert.Equal(t, int64(1), summary.CurrentSize)
	assert.Equal(t, int64(2), summary.MaxSize)
	assert.InDelta(t, 0.5, summary.DropRate, 0.0001)
}

func TestCircularBuffer_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	_, err := NewCircularBuffer(2, WithMetrics[int](registry, "samples"))
	require.NoError(t, err)

	_, err = NewCircularBuffer(2, WithMetrics[int](registry, "samples"))
	require.Error(t, err, "same prefix registers twice")
	assert.True(t, errors.IsTransient(err))
}

func TestCircularBuffer_ConcurrentWrites(t *testing.T) {
	buf, err := NewCircularBuffer[int](100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_ = buf.Write(i)
				_ = buf.Snapshot()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, buf.Size())
	assert.Equal(t, int64(4000), buf.Stats().Writes())
}
