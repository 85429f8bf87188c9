package explorer

import (
	"bytes"
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
)

// checkNumGoroutines records the goroutine count, returning a func that
// fails the test if it hasn't returned to (at most) that count within the
// timeout.
func checkNumGoroutines(timeout time.Duration) func(t *testing.T) {
	before := runtime.NumGoroutine()
	return func(t *testing.T) {
		t.Helper()
		deadline := time.Now().Add(timeout)
		for {
			after := runtime.NumGoroutine()
			if after <= before {
				return
			}
			if time.Now().After(deadline) {
				t.Errorf(`goroutine leak: before=%d after=%d`, before, after)
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// newTestExecutor starts an executor, registering cleanup which closes it
// (if it's still running) and waits for termination.
func newTestExecutor(t *testing.T, opts ...Option) *Executor {
	t.Helper()
	x, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		if x.State() == StateRunning {
			_ = x.Close()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := x.AwaitTermination(ctx); err != nil {
			t.Errorf(`executor did not terminate: %v`, err)
		}
	})
	return x
}

func shutdown(t *testing.T, x *Executor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, x.Shutdown(ctx))
	require.Equal(t, StateTerminated, x.State())
}

// syncBuffer is a bytes.Buffer safe for concurrent writes, from walkers and
// the watcher.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newTestLogger returns a JSON logger, without timestamps, writing to buf.
func newTestLogger(buf *syncBuffer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(buf), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(level),
	).Logger()
}

// waitFor polls cond until it returns true, failing the test on timeout.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, timeout, time.Millisecond)
}
