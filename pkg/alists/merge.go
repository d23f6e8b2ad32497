// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package alists

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

// Snapshot-and-merge, directory and job lists only. Before a count change
// replaces the live array, AttachDirs/AttachJobs copy it to the TMP_
// sibling. Once the last element of the new generation has been filled, the
// evaluator calls MergeDirs/MergeJobs: snapshot entries whose key is no
// longer live move into the OLD_ accumulator, entries older than the
// retention window fall out, and the TMP_ file is unlinked. A crash between
// snapshot and merge leaves only a TMP_ file which the next attach removes.

// MergeDirs folds the directory snapshot into the OLD_ADL accumulator.
// Entries whose EntryTime is more than window in the past are dropped.
func (s *Set) MergeDirs(now time.Time, window time.Duration) error {
	live := func(key uint64) bool {
		return s.dirs != nil && s.dirs.ContainsID(uint32(key))
	}
	return s.merge(s.path("TMP_ADL"), s.path("OLD_ADL"), dirRecordSize,
		dirKey, dirTime, live, now, window)
}

// MergeJobs folds the job snapshot into the OLD_AJL accumulator.
func (s *Set) MergeJobs(now time.Time, window time.Duration) error {
	live := func(key uint64) bool {
		return s.jobs != nil && s.jobs.ContainsID(uint32(key))
	}
	return s.merge(s.path("TMP_AJL"), s.path("OLD_AJL"), jobRecordSize,
		jobKey, jobTime, live, now, window)
}

// OldDirs attaches the directory accumulator read-write, creating it when
// absent. Used by consumers resolving identifiers from delayed log packets.
func (s *Set) OldDirs() (*DirList, error) {
	a, err := openArray(s.path("OLD_ADL"), dirRecordSize, s.mode)
	if err != nil {
		return nil, err
	}
	return &DirList{a: a}, nil
}

// OldJobs attaches the job accumulator.
func (s *Set) OldJobs() (*JobList, error) {
	a, err := openArray(s.path("OLD_AJL"), jobRecordSize, s.mode)
	if err != nil {
		return nil, err
	}
	return &JobList{a: a}, nil
}

func dirKey(rec []byte) uint64 { return uint64(binary.LittleEndian.Uint32(rec[dirOffID:])) }
func dirTime(rec []byte) int64 { return int64(binary.LittleEndian.Uint64(rec[dirOffTime:])) }
func jobKey(rec []byte) uint64 { return uint64(binary.LittleEndian.Uint32(rec[jobOffID:])) }
func jobTime(rec []byte) int64 { return int64(binary.LittleEndian.Uint64(rec[jobOffTime:])) }

func (s *Set) merge(tmpPath, oldPath string, recSize int,
	keyOf func([]byte) uint64, timeOf func([]byte) int64, live func(uint64) bool,
	now time.Time, window time.Duration) error {

	snap, err := os.ReadFile(tmpPath)
	if err != nil {
		if os.IsNotExist(err) {
			// No snapshot was taken: the accumulator stays unchanged.
			return nil
		}
		return fmt.Errorf("failed to read snapshot %s: %w", tmpPath, err)
	}
	if len(snap) < arrayHeaderLen {
		s.logger.Info("discarding truncated snapshot", "path", tmpPath)
		return os.Remove(tmpPath)
	}
	snapCount := int(binary.LittleEndian.Uint32(snap[0:4]))
	if arrayHeaderLen+snapCount*recSize > len(snap) {
		s.logger.Info("discarding truncated snapshot", "path", tmpPath)
		return os.Remove(tmpPath)
	}

	acc, err := openArray(oldPath, recSize, s.mode)
	if err != nil {
		return err
	}
	defer acc.close()

	// Age out expired accumulator entries, compacting in place.
	cutoff := now.Add(-window).Unix()
	count := acc.count()
	deletes := 0
	kept := 0
	have := make(map[uint64]bool, count)
	for i := 0; i < count; i++ {
		rec := acc.entry(i)
		if timeOf(rec) < cutoff {
			deletes++
			continue
		}
		if kept != i {
			copy(acc.entry(kept), rec)
		}
		have[keyOf(rec)] = true
		kept++
	}
	acc.setCount(kept)

	// Append snapshot entries whose key left the live list. Duplicates
	// already in the accumulator are collapsed.
	appends := 0
	for i := 0; i < snapCount; i++ {
		rec := snap[arrayHeaderLen+i*recSize : arrayHeaderLen+(i+1)*recSize]
		key := keyOf(rec)
		if live(key) || have[key] || timeOf(rec) < cutoff {
			continue
		}
		if acc.count() >= acc.capacity() {
			if err := acc.mf.Resize(int64(arrayHeaderLen + roundStep(acc.count()+1)*recSize)); err != nil {
				return err
			}
		}
		copy(acc.entry(acc.count()), rec)
		acc.setCount(acc.count() + 1)
		have[key] = true
		appends++
	}

	// Net shrink releases file space.
	if deletes > appends {
		if err := acc.mf.Resize(int64(arrayHeaderLen + roundStep(acc.count())*recSize)); err != nil {
			return err
		}
	}

	if err := os.Remove(tmpPath); err != nil {
		return fmt.Errorf("failed to remove snapshot %s: %w", tmpPath, err)
	}
	s.logger.V(1).Info("merged snapshot into accumulator",
		"path", oldPath, "kept", kept, "appended", appends, "expired", deletes)
	return nil
}
