package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type ctxKey struct{}

func TestGoDetachesCancellation(t *testing.T) {
	r := New(zap.NewNop(), nil)
	r.Start()

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "v"))
	cancel()

	var sawValue, sawCancel atomic.Bool
	r.Go(ctx, "detached", func(ctx context.Context) error {
		sawValue.Store(ctx.Value(ctxKey{}) == "v")
		sawCancel.Store(ctx.Err() != nil)
		return nil
	})
	r.Wait()

	assert.True(t, sawValue.Load())
	assert.False(t, sawCancel.Load())
	assert.Zero(t, r.Failed())
}

func TestFailuresAndPanicsAreCounted(t *testing.T) {
	r := New(zap.NewNop(), nil)
	r.Start()

	r.Go(context.Background(), "fails", func(context.Context) error { return errors.New("boom") })
	r.Go(context.Background(), "panics", func(context.Context) error { panic("kaboom") })
	r.Wait()

	assert.Equal(t, int64(2), r.Failed())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	ran := false
	r.Go(context.Background(), "after-close", func(context.Context) error { ran = true; return nil })
	r.Wait()
	assert.False(t, ran)
}
