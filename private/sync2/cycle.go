// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

// Package sync2 provides synchronization helpers for background services.
package sync2

import (
	"context"
	"sync"
	"time"
)

// Cycle implements a controllable recurring event loop.
type Cycle struct {
	interval time.Duration

	ticker  *time.Ticker
	control chan interface{}

	stopsent bool
	runexec  bool

	stopping chan struct{}
	stopped  chan struct{}

	init sync.Once
}

type (
	cyclePause   struct{}
	cycleRestart struct{}
	cycleStop    struct{}
	cycleTrigger struct {
		done chan struct{}
	}
)

// NewCycle creates a new cycle with the specified interval.
func NewCycle(interval time.Duration) *Cycle {
	cycle := &Cycle{}
	cycle.SetInterval(interval)
	return cycle
}

// SetInterval allows changing the interval before starting.
func (cycle *Cycle) SetInterval(interval time.Duration) {
	cycle.interval = interval
}

func (cycle *Cycle) initialize() {
	cycle.init.Do(func() {
		cycle.stopped = make(chan struct{})
		cycle.stopping = make(chan struct{})
		cycle.control = make(chan interface{})
	})
}

// Run runs the specified function with an interval.
//
// When the function returns an error or context is cancelled the cycle
// terminates and returns the error.
func (cycle *Cycle) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	cycle.initialize()
	defer close(cycle.stopped)

	cycle.runexec = true

	currentInterval := cycle.interval
	cycle.ticker = time.NewTicker(currentInterval)
	defer cycle.ticker.Stop()

	if err := fn(ctx); err != nil {
		return err
	}

	for {
		select {
		case message := <-cycle.control:
			switch message := message.(type) {
			case cycleStop:
				return nil

			case cyclePause:
				cycle.ticker.Stop()
				select {
				case <-cycle.ticker.C:
				default:
				}

			case cycleRestart:
				cycle.ticker.Stop()
				cycle.ticker = time.NewTicker(currentInterval)

			case cycleTrigger:
				if err := fn(ctx); err != nil {
					return err
				}
				if message.done != nil {
					close(message.done)
				}
			}

		case <-ctx.Done():
			return ctx.Err()

		case <-cycle.ticker.C:
			if err := fn(ctx); err != nil {
				return err
			}
		}
	}
}

// Close closes the cycle permanently and waits for a running loop to exit.
func (cycle *Cycle) Close() {
	cycle.Stop()

	if cycle.runexec {
		<-cycle.stopped
	}
}

// sendControl sends a control message to the loop, unless it has stopped.
func (cycle *Cycle) sendControl(message interface{}) {
	cycle.initialize()
	select {
	case cycle.control <- message:
	case <-cycle.stopped:
	}
}

// Stop requests the cycle to stop without waiting.
func (cycle *Cycle) Stop() {
	cycle.initialize()
	if !cycle.stopsent {
		cycle.stopsent = true
		go cycle.sendControl(cycleStop{})
	}
}

// Pause pauses the ticker until Restart is called. A pending Trigger still runs.
func (cycle *Cycle) Pause() {
	cycle.sendControl(cyclePause{})
}

// Restart restarts the ticker from zero.
func (cycle *Cycle) Restart() {
	cycle.sendControl(cycleRestart{})
}

// Trigger ensures the loop body runs at least once more.
// If it is currently running it waits for the previous run to complete.
func (cycle *Cycle) Trigger() {
	cycle.sendControl(cycleTrigger{})
}

// TriggerWait triggers the loop body and waits for that run to complete.
func (cycle *Cycle) TriggerWait() {
	done := make(chan struct{})
	cycle.sendControl(cycleTrigger{done})
	select {
	case <-done:
	case <-cycle.stopped:
	}
}
