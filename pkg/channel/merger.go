// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package channel provides a fan-in of session event channels.
package channel

import "sync"

// Merger merges multiple input channels into a single output channel.
// Delivery order is preserved within one input channel; across inputs no
// order is promised.
type Merger[T any] struct {
	out  chan T
	done chan struct{}
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewMerger creates a Merger draining the given input channels.
func NewMerger[T any](inputs ...<-chan T) *Merger[T] {
	m := &Merger[T]{
		out:  make(chan T),
		done: make(chan struct{}),
	}
	for _, ch := range inputs {
		m.Add(ch)
	}
	return m
}

// Add registers another input channel. The merger stops draining it when
// it closes. Calling Add after Close panics.
func (m *Merger[T]) Add(input <-chan T) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		panic("channel: Add after Close")
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		for {
			select {
			case v, ok := <-input:
				if !ok {
					return
				}
				select {
				case m.out <- v:
				case <-m.done:
					return
				}
			case <-m.done:
				return
			}
		}
	}()
}

// Out returns the merged output channel. It closes when Close is called.
func (m *Merger[T]) Out() <-chan T { return m.out }

// Close stops the merger and closes the output channel. Calling Close
// twice panics.
func (m *Merger[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	close(m.done)
	m.wg.Wait()
	close(m.out)
}
