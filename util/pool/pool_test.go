package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/carstudio/errs"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	t.Parallel()

	p := New(2)
	var running, peak int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Do(context.Background(), func() error {
				n := atomic.AddInt32(&running, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestPoolPropagatesErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	err := New(1).Do(context.Background(), func() error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestPoolTimesOutWhileWaiting(t *testing.T) {
	t.Parallel()

	p := New(1)
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	defer close(release)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Do(ctx, func() error { return nil })
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindTimeout))
}

func TestRun(t *testing.T) {
	t.Parallel()

	v, err := Run(context.Background(), New(0), func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
