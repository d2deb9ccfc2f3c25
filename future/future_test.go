package future

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromiseResolveOnce(t *testing.T) {
	t.Parallel()

	p := NewPromise[int]()
	assert.True(t, p.Resolve(1))
	assert.False(t, p.Resolve(2))
	assert.False(t, p.Reject(errors.New("late")))

	v, err := p.Future().Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestPromiseRejectWins(t *testing.T) {
	t.Parallel()

	p := NewPromise[bool]()
	wantErr := errors.New("boom")
	assert.True(t, p.Reject(wantErr))
	assert.False(t, p.Resolve(true))

	_, err := p.Future().Get(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

func TestPromiseConcurrentSettlement(t *testing.T) {
	t.Parallel()

	// Hammer a promise from many goroutines; exactly one settle call must
	// win and every reader must observe that single value.
	const n = 64
	p := NewPromise[int]()

	var wg sync.WaitGroup
	wins := make(chan int, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				if p.Resolve(i) {
					wins <- i
				}
			} else {
				if p.Reject(errors.New("rejected")) {
					wins <- -1
				}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []int
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)

	v, err := p.Future().Get(context.Background())
	if winners[0] == -1 {
		assert.Error(t, err)
	} else {
		require.NoError(t, err)
		assert.Equal(t, winners[0], v)
	}
}

func TestFutureWaitForTimeout(t *testing.T) {
	t.Parallel()

	p := NewPromise[bool]()
	start := time.Now()
	_, err := p.Future().WaitFor(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestFutureGetContextCancel(t *testing.T) {
	t.Parallel()

	p := NewPromise[bool]()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := p.Future().Get(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveAfterLosesToEarlierSettle(t *testing.T) {
	t.Parallel()

	p := NewPromise[bool]()
	timer := ResolveAfter(p, 30*time.Millisecond, false)
	defer timer.Stop()
	p.Resolve(true)

	time.Sleep(60 * time.Millisecond)
	v, err := p.Future().Get(context.Background())
	require.NoError(t, err)
	assert.True(t, v, "timer fired after settlement must be a no-op")
}

func TestResolveAfterFires(t *testing.T) {
	t.Parallel()

	p := NewPromise[bool]()
	ResolveAfter(p, 20*time.Millisecond, false)

	v, err := p.Future().WaitFor(time.Second)
	require.NoError(t, err)
	assert.False(t, v)
}

func TestResolvedShortCircuits(t *testing.T) {
	t.Parallel()

	f := Resolved(42)
	start := time.Now()
	v, err := f.WaitFor(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
