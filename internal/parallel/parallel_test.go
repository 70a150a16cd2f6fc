package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFor(t *testing.T) {
	cfg := DefaultConfig()

	var counter int64
	n := 1000

	For(n, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	if counter != int64(n) {
		t.Errorf("Expected %d, got %d", n, counter)
	}
}

func TestFor_Sequential(t *testing.T) {
	cfg := Config{Enabled: false}

	var counter int64
	For(100, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	if counter != 100 {
		t.Errorf("Expected 100, got %d", counter)
	}
}

func TestFor_SmallChunk(t *testing.T) {
	// Test that small work units fall back to sequential.
	cfg := DefaultConfig()

	var counter int64
	n := cfg.MinChunkSize - 1

	For(n, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	if counter != int64(n) {
		t.Errorf("Expected %d, got %d", n, counter)
	}
}

func TestForEach_DisjointWrites(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 8}
	out := make([]int, 257)

	err := ForEach(context.Background(), len(out), func() *int { return new(int) },
		func(calls *int, i int) error {
			*calls++
			out[i] = i * i
			return nil
		}, cfg)
	require.NoError(t, err)

	for i, v := range out {
		assert.Equal(t, i*i, v, "index %d", i)
	}
}

func TestForEach_StatePerWorker(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 3, MinChunkSize: 10}

	var states int64
	type scratch struct{ last int }

	err := ForEach(context.Background(), 90, func() *scratch {
		atomic.AddInt64(&states, 1)
		return &scratch{last: -1}
	}, func(s *scratch, i int) error {
		// Each worker sees its chunk in increasing order.
		if i <= s.last {
			return errors.New("out of order")
		}
		s.last = i
		return nil
	}, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(3), states)
}

func TestForEach_StopsOnError(t *testing.T) {
	boom := errors.New("boom")

	for _, cfg := range []Config{Sequential(), {Enabled: true, NumWorkers: 2, MinChunkSize: 4}} {
		var calls int64
		err := ForEach(context.Background(), 100, func() struct{} { return struct{}{} },
			func(_ struct{}, i int) error {
				atomic.AddInt64(&calls, 1)
				if i == 10 {
					return boom
				}
				return nil
			}, cfg)
		require.ErrorIs(t, err, boom)
		assert.Less(t, atomic.LoadInt64(&calls), int64(100))
	}
}

func TestForEach_Empty(t *testing.T) {
	called := false
	err := ForEach(context.Background(), 0, func() struct{} {
		called = true
		return struct{}{}
	}, func(_ struct{}, _ int) error { return nil }, DefaultConfig())
	require.NoError(t, err)
	assert.False(t, called)
}

func BenchmarkFor(b *testing.B) {
	cfg := DefaultConfig()
	n := 10000

	b.Run("parallel", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var sum int64
			For(n, func(i int) {
				atomic.AddInt64(&sum, int64(i))
			}, cfg)
		}
	})

	b.Run("sequential", func(b *testing.B) {
		cfgSeq := cfg
		cfgSeq.Enabled = false
		for i := 0; i < b.N; i++ {
			var sum int64
			For(n, func(i int) {
				atomic.AddInt64(&sum, int64(i))
			}, cfgSeq)
		}
	})
}
