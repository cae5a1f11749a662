package scope

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_FirstFailureCancelsSiblings(t *testing.T) {
	boom := errors.New("boom")
	var sawCancel atomic.Bool

	err := Run(context.Background(), func(ctx context.Context, s *Scope) error {
		s.Spawn("waiter", func(ctx context.Context) error {
			<-ctx.Done()
			sawCancel.Store(true)
			return nil
		})
		s.Spawn("failer", func(ctx context.Context) error {
			return boom
		})
		return nil
	})

	require.ErrorIs(t, err, boom)
	assert.True(t, sawCancel.Load())
}

func TestRun_BackgroundCancelledWhenMainReturns(t *testing.T) {
	var bgDone atomic.Bool

	err := Run(context.Background(), func(ctx context.Context, s *Scope) error {
		s.SpawnBg("ticker", func(ctx context.Context) error {
			<-ctx.Done()
			bgDone.Store(true)
			return nil
		})
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	require.NoError(t, err)
	assert.True(t, bgDone.Load(), "Run joins background tasks")
}

func TestRun_BackgroundFailureCancelsMain(t *testing.T) {
	boom := errors.New("bg failed")

	err := Run(context.Background(), func(ctx context.Context, s *Scope) error {
		s.SpawnBg("bad", func(ctx context.Context) error { return boom })
		<-ctx.Done()
		return nil
	})

	require.ErrorIs(t, err, boom)
}

func TestRun_PanicBecomesError(t *testing.T) {
	err := Run(context.Background(), func(ctx context.Context, s *Scope) error {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}
