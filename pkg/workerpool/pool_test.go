package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := New(2, 4)
	defer p.Stop()

	var n int32
	for i := 0; i < 10; i++ {
		ok := p.Submit(func(ctx context.Context) {
			atomic.AddInt32(&n, 1)
		})
		assert.True(t, ok)
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&n) == 10 }, time.Second, 5*time.Millisecond)
}

func TestPoolDefaultsSize(t *testing.T) {
	p := New(0, 0)
	defer p.Stop()
	assert.NotNil(t, p)
}

func TestPoolStopRejectsFurtherSubmits(t *testing.T) {
	p := New(1, 1)
	p.Stop()
	assert.False(t, p.Submit(func(ctx context.Context) {}))
}
