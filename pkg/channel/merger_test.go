// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package channel

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergerFansIn(t *testing.T) {
	a := make(chan int, 3)
	b := make(chan int, 3)
	m := NewMerger(a, b)
	defer m.Close()

	a <- 1
	b <- 2
	a <- 3

	var got []int
	for i := 0; i < 3; i++ {
		select {
		case v := <-m.Out():
			got = append(got, v)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for merged value")
		}
	}
	sort.Ints(got)
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestMergerPreservesPerInputOrder(t *testing.T) {
	a := make(chan int)
	m := NewMerger[int]()
	m.Add(a)
	defer m.Close()

	go func() {
		for i := 0; i < 10; i++ {
			a <- i
		}
	}()

	for i := 0; i < 10; i++ {
		select {
		case v := <-m.Out():
			assert.Equal(t, i, v)
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
}

func TestMergerCloseClosesOut(t *testing.T) {
	a := make(chan int)
	m := NewMerger(a)
	m.Close()

	select {
	case _, ok := <-m.Out():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("output not closed")
	}
}

func TestMergerStopsOnClosedInput(t *testing.T) {
	a := make(chan int, 1)
	m := NewMerger(a)
	a <- 7
	close(a)

	select {
	case v := <-m.Out():
		require.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
	// The drained goroutine exits; Close must not hang.
	done := make(chan struct{})
	go func() {
		m.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close hung")
	}
}

func TestMergerAddAfterClosePanics(t *testing.T) {
	m := NewMerger[int]()
	m.Close()
	assert.Panics(t, func() { m.Add(make(chan int)) })
}
