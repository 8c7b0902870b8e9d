package main

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncerCollapsesBursts(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(30*time.Millisecond, func() { calls.Add(1) })
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Trigger()
		time.Sleep(5 * time.Millisecond)
	}
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDebouncerFiresAgainAfterQuietPeriod(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(10*time.Millisecond, func() { calls.Add(1) })
	defer d.Stop()

	d.Trigger()
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	d.Trigger()
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(50*time.Millisecond, func() { calls.Add(1) })

	d.Trigger()
	d.Stop()
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestDebouncerStopWaitsForRunningAction(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	d := NewDebouncer(time.Millisecond, func() {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	})

	d.Trigger()
	<-started
	d.Stop()
	assert.True(t, finished.Load())
}
