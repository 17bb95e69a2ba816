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

func TestFutureResolveThenWait(t *testing.T) {
	f := New[int]()
	f.Resolve(42, nil)

	got, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestFutureMultipleWaiters(t *testing.T) {
	f := New[string]()
	var wg sync.WaitGroup
	results := make([]string, 5)

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := f.Wait(context.Background())
			require.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	f.Resolve("done", nil)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "done", r)
	}
}

func TestFutureSecondResolveIsNoOp(t *testing.T) {
	f := New[int]()
	f.Resolve(1, nil)
	f.Resolve(2, errors.New("ignored"))

	got, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestFutureWaitRespectsContextCancellation(t *testing.T) {
	f := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.Done())
}

func TestFutureDone(t *testing.T) {
	f := New[int]()
	assert.False(t, f.Done())
	f.Resolve(1, nil)
	assert.True(t, f.Done())
}

func TestResolvedHelper(t *testing.T) {
	f := Resolved(7, nil)
	assert.True(t, f.Done())
	got, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}
