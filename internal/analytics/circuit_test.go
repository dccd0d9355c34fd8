package analytics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_OpensAfterFailureThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "t", FailureThreshold: 2, Timeout: time.Minute}, nil)
	failing := func() error { return errors.New("boom") }

	_ = b.Execute(failing)
	assert.Equal(t, BreakerClosed, b.State())
	_ = b.Execute(failing)
	assert.Equal(t, BreakerOpen, b.State())

	err := b.Execute(func() error { return nil })
	assert.Error(t, err, "open breaker must reject without calling fn")
}

func TestBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "t", FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Millisecond, HalfOpenMaxCalls: 5}, nil)
	_ = b.Execute(func() error { return errors.New("boom") })
	require := assert.New(t)
	require.Equal(BreakerOpen, b.State())

	time.Sleep(2 * time.Millisecond)

	_ = b.Execute(func() error { return nil })
	require.Equal(BreakerHalfOpen, b.State())
	_ = b.Execute(func() error { return nil })
	require.Equal(BreakerClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "t", FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Millisecond, HalfOpenMaxCalls: 5}, nil)
	_ = b.Execute(func() error { return errors.New("boom") })
	time.Sleep(2 * time.Millisecond)

	_ = b.Execute(func() error { return errors.New("boom again") })
	assert.Equal(t, BreakerOpen, b.State())
}
