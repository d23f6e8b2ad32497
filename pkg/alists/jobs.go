// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package alists

import (
	"encoding/binary"
	"time"
)

// MaxRecipientLength is the recipient field capacity. A longer recipient is
// truncated to MaxRecipientLength-1 bytes with a single warning.
const MaxRecipientLength = 256

// Job entry layout.
const (
	jobOffID        = 0
	jobOffDirID     = 4
	jobOffLOptions  = 8
	jobOffPriority  = 12
	jobOffTime      = 16
	jobOffRecipient = 24
	jobRecordSize   = jobOffRecipient + MaxRecipientLength
)

// JobList is the mapped AJL_<alias> array.
type JobList struct {
	a *arrayFile
}

// AttachJobs grows or shrinks the job list to count entries, snapshotting
// an already attached list to the TMP_ sibling first.
func (s *Set) AttachJobs(count int) error {
	if s.jobs != nil {
		if count != s.jobs.Count() {
			if err := s.jobs.a.snapshotTo(s.path("TMP_AJL"), s.mode); err != nil {
				return err
			}
		}
		return s.jobs.a.resize(count)
	}
	a, err := attachArray(s.path("AJL"), jobRecordSize, count, s.mode)
	if err != nil {
		return err
	}
	s.jobs = &JobList{a: a}
	return nil
}

// Count returns the negotiated number of job entries.
func (l *JobList) Count() int { return l.a.count() }

// Entry returns the accessor for job i.
func (l *JobList) Entry(i int) JobEntry { return JobEntry{b: l.a.entry(i)} }

// ContainsID reports whether any live entry carries the job id.
func (l *JobList) ContainsID(id uint32) bool {
	for i := 0; i < l.Count(); i++ {
		if l.Entry(i).JobID() == id {
			return true
		}
	}
	return false
}

// JobEntry is a typed view over one mapped job record.
type JobEntry struct {
	b []byte
}

func (e JobEntry) JobID() uint32     { return binary.LittleEndian.Uint32(e.b[jobOffID:]) }
func (e JobEntry) DirID() uint32     { return binary.LittleEndian.Uint32(e.b[jobOffDirID:]) }
func (e JobEntry) LocalOptions() int { return int(binary.LittleEndian.Uint32(e.b[jobOffLOptions:])) }
func (e JobEntry) Priority() byte    { return e.b[jobOffPriority] }
func (e JobEntry) Recipient() string {
	return cstr(e.b[jobOffRecipient : jobOffRecipient+MaxRecipientLength])
}

// EntryTime is the time the definition entered the list.
func (e JobEntry) EntryTime() time.Time {
	return time.Unix(int64(binary.LittleEndian.Uint64(e.b[jobOffTime:])), 0)
}

// Set fills the entry from a Jl record. The recipient must already be
// deblurred; it is truncated to MaxRecipientLength-1 bytes.
func (e JobEntry) Set(jobID, dirID uint32, loptions int, priority byte, recipient []byte, entryTime time.Time) bool {
	binary.LittleEndian.PutUint32(e.b[jobOffID:], jobID)
	binary.LittleEndian.PutUint32(e.b[jobOffDirID:], dirID)
	binary.LittleEndian.PutUint32(e.b[jobOffLOptions:], uint32(loptions))
	e.b[jobOffPriority] = priority
	binary.LittleEndian.PutUint64(e.b[jobOffTime:], uint64(entryTime.Unix()))

	truncated := false
	if len(recipient) > MaxRecipientLength-1 {
		recipient = recipient[:MaxRecipientLength-1]
		truncated = true
	}
	n := copy(e.b[jobOffRecipient:jobOffRecipient+MaxRecipientLength], recipient)
	for i := n; i < MaxRecipientLength; i++ {
		e.b[jobOffRecipient+i] = 0
	}
	return truncated
}
