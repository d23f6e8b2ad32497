// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package statusmap

import "time"

// HourShifter keeps the three history rings of one node aligned with the
// wall-clock hour. The session loop drives it from a timer; the protocol
// evaluator drives it inline when a short history record arrives past the
// top of the hour. Each ring shifts at most once per hour boundary,
// whichever path gets there first; the per-ring marks reset at every
// boundary.
type HourShifter struct {
	next    time.Time
	shifted [NumHistoryRings]bool
}

// NewHourShifter starts tracking from now.
func NewHourShifter(now time.Time) *HourShifter {
	return &HourShifter{next: nextBoundary(now)}
}

func nextBoundary(now time.Time) time.Time {
	return now.Truncate(HistoryLogInterval).Add(HistoryLogInterval)
}

// Due reports whether the hour boundary has passed.
func (s *HourShifter) Due(now time.Time) bool { return now.After(s.next) }

// Tick is the timer path: past the boundary it shifts every ring not
// already shifted inline, then opens the next hour window.
func (s *HourShifter) Tick(now time.Time, n *NodeStatus) {
	if !now.After(s.next) {
		return
	}
	for r := HistoryRing(0); r < NumHistoryRings; r++ {
		if !s.shifted[r] {
			n.ShiftHistory(r)
		}
	}
	s.advance(now)
}

// ShiftInline is the evaluator path: a history record shorter than the ring
// past the top of the hour means the remote has already rolled over, so the
// local ring must shift before the record is applied. Returns true when a
// shift was performed. A second short record in the same hour does not
// shift again.
func (s *HourShifter) ShiftInline(now time.Time, n *NodeStatus, r HistoryRing) bool {
	if !now.After(s.next) || s.shifted[r] {
		return false
	}
	n.ShiftHistory(r)
	s.shifted[r] = true

	all := true
	for i := HistoryRing(0); i < NumHistoryRings; i++ {
		all = all && s.shifted[i]
	}
	if all {
		s.advance(now)
	}
	return true
}

func (s *HourShifter) advance(now time.Time) {
	s.next = nextBoundary(now)
	for i := range s.shifted {
		s.shifted[i] = false
	}
}
