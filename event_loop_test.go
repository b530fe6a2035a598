package walletsync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLoop_RunsInPostingOrder(t *testing.T) {
	loop := newEventLoop(0)
	go loop.run()
	defer func() {
		loop.close()
		loop.wait()
	}()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, loop.post(func() { got = append(got, i) }))
	}
	require.NoError(t, loop.do(func() {}))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestEventLoop_DoWaits(t *testing.T) {
	loop := newEventLoop(1)
	go loop.run()
	defer loop.close()

	ran := false
	require.NoError(t, loop.do(func() { ran = true }))
	assert.True(t, ran)
}

func TestEventLoop_SerializesConcurrentPosters(t *testing.T) {
	loop := newEventLoop(4)
	go loop.run()
	defer loop.close()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = loop.do(func() { counter++ })
			}
		}()
	}
	wg.Wait()

	require.NoError(t, loop.do(func() {}))
	var final int
	require.NoError(t, loop.do(func() { final = counter }))
	assert.Equal(t, 1000, final)
}

func TestEventLoop_Closed(t *testing.T) {
	loop := newEventLoop(0)
	go loop.run()
	loop.close()
	loop.wait()

	assert.False(t, loop.post(func() {}))
	assert.ErrorIs(t, loop.do(func() {}), ErrClientClosed)

	// closing twice is fine
	loop.close()
}
