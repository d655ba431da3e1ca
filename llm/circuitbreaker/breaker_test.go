package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/llm"
)

func newTestBreaker(threshold int, reset time.Duration) CircuitBreaker {
	return NewCircuitBreaker(&Config{
		Threshold:        threshold,
		Timeout:          time.Second,
		ResetTimeout:     reset,
		HalfOpenMaxCalls: 1,
	}, zap.NewNop())
}

var errUpstream = errors.New("connection refused")

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(&Config{}, nil).(*breaker)
	def := DefaultConfig()
	assert.Equal(t, def.Threshold, cb.config.Threshold)
	assert.Equal(t, def.Timeout, cb.config.Timeout)
	assert.Equal(t, def.ResetTimeout, cb.config.ResetTimeout)
	assert.Equal(t, def.HalfOpenMaxCalls, cb.config.HalfOpenMaxCalls)
	assert.Equal(t, StateClosed, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.Equal(t, "unknown", State(-1).String())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	cb := newTestBreaker(3, time.Hour)

	for i := 0; i < 3; i++ {
		err := cb.Call(context.Background(), func() error { return errUpstream })
		assert.ErrorIs(t, err, errUpstream)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Call(context.Background(), func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(3, time.Hour)
	ctx := context.Background()

	_ = cb.Call(ctx, func() error { return errUpstream })
	_ = cb.Call(ctx, func() error { return errUpstream })
	require.NoError(t, cb.Call(ctx, func() error { return nil }))
	_ = cb.Call(ctx, func() error { return errUpstream })
	_ = cb.Call(ctx, func() error { return errUpstream })

	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_NonRetryableLLMErrorDoesNotTrip(t *testing.T) {
	cb := newTestBreaker(1, time.Hour)
	overflow := &llm.Error{Code: llm.ErrContextOverflow, Message: "too long", HTTPStatus: http.StatusBadRequest}

	err := cb.Call(context.Background(), func() error { return overflow })
	assert.ErrorIs(t, err, overflow)
	assert.Equal(t, StateClosed, cb.State())

	busy := &llm.Error{Code: llm.ErrModelOverloaded, Retryable: true}
	_ = cb.Call(context.Background(), func() error { return busy })
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	cb := newTestBreaker(1, 20*time.Millisecond)
	ctx := context.Background()

	_ = cb.Call(ctx, func() error { return errUpstream })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.Call(ctx, func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := newTestBreaker(1, 20*time.Millisecond)
	ctx := context.Background()

	_ = cb.Call(ctx, func() error { return errUpstream })
	time.Sleep(30 * time.Millisecond)
	_ = cb.Call(ctx, func() error { return errUpstream })

	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Call(ctx, func() error { return nil }), ErrCircuitOpen)
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	cb := newTestBreaker(1, 20*time.Millisecond)
	ctx := context.Background()

	_ = cb.Call(ctx, func() error { return errUpstream })
	time.Sleep(30 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Call(ctx, func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, cb.Call(ctx, func() error { return nil }), ErrTooManyCallsInHalfOpen)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_CallerCancelIsIgnored(t *testing.T) {
	cb := newTestBreaker(1, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Call(ctx, func() error { return ctx.Err() })
	assert.Error(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_TimeoutCountsAsFailure(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 1, Timeout: 10 * time.Millisecond, ResetTimeout: time.Hour}, zap.NewNop())

	err := cb.Call(context.Background(), func() error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_ResetAndStateChange(t *testing.T) {
	var mu sync.Mutex
	var transitions []State
	cb := NewCircuitBreaker(&Config{
		Threshold:    1,
		ResetTimeout: time.Hour,
		OnStateChange: func(_, to State) {
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
		},
	}, zap.NewNop())

	_ = cb.Call(context.Background(), func() error { return errUpstream })
	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestDo(t *testing.T) {
	cb := newTestBreaker(3, time.Hour)

	v, err := Do(context.Background(), cb, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = Do(context.Background(), cb, func() (int, error) { return 7, errUpstream })
	assert.ErrorIs(t, err, errUpstream)
	assert.Zero(t, v)
}

func TestBreaker_ConcurrentSafety(t *testing.T) {
	cb := newTestBreaker(1000, time.Hour)
	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := cb.Call(context.Background(), func() error {
				if i%2 == 0 {
					return errUpstream
				}
				return nil
			})
			if err == nil {
				ok.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(25), ok.Load())
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_StaleResultAfterReset(t *testing.T) {
	cb := newTestBreaker(1, time.Hour)
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Call(ctx, func() error {
			close(started)
			<-release
			return errUpstream
		})
	}()
	<-started

	cb.Reset()
	close(release)
	assert.ErrorIs(t, <-done, errUpstream)
	assert.Equal(t, StateClosed, cb.State(), "failure from before Reset must not trip")
}

func TestBreaker_ReopensOnClock(t *testing.T) {
	cb := newTestBreaker(1, time.Minute).(*breaker)
	clock := time.Now()
	cb.now = func() time.Time { return clock }

	_ = cb.Call(context.Background(), func() error { return errUpstream })
	assert.ErrorIs(t, cb.Call(context.Background(), func() error { return nil }), ErrCircuitOpen)

	clock = clock.Add(time.Minute)
	require.NoError(t, cb.Call(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}
