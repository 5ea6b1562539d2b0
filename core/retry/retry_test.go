package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Backoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 8 * time.Second},
		{10, 8 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Default.Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func fast() Policy {
	return Policy{Attempts: 4, Base: time.Millisecond, Max: 4 * time.Millisecond}
}

func TestDo_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast(), func(error) bool { return true }, func(int) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_Exhausts(t *testing.T) {
	calls := 0
	want := errors.New("still down")
	err := Do(context.Background(), fast(), func(error) bool { return true }, func(int) error {
		calls++
		return want
	})

	assert.ErrorIs(t, err, want)
	assert.Equal(t, 4, calls)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast(), func(error) bool { return false }, func(int) error {
		calls++
		return errors.New("permanent")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Attempts: 4, Base: time.Hour}, func(error) bool { return true }, func(int) error {
		calls++
		cancel()
		return errors.New("flaky")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
