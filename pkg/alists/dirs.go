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

// Directory entry field capacities.
const (
	DirAliasLength    = 40
	DirNameLength     = 128
	HomeDirUserLength = 40
)

// Directory entry layout.
const (
	dirOffID       = 0
	dirOffHomeLen  = 4
	dirOffAlias    = 8
	dirOffName     = dirOffAlias + DirAliasLength
	dirOffOrig     = dirOffName + DirNameLength
	dirOffHomeUser = dirOffOrig + DirNameLength
	dirOffTime     = dirOffHomeUser + HomeDirUserLength
	dirRecordSize  = dirOffTime + 8
)

// DirList is the mapped ADL_<alias> array.
type DirList struct {
	a *arrayFile
}

// AttachDirs grows or shrinks the directory list to count entries. An
// already attached list is first snapshotted to the TMP_ sibling so the
// merge can preserve entries that fall out of the new generation.
func (s *Set) AttachDirs(count int) error {
	if s.dirs != nil {
		if count != s.dirs.Count() {
			if err := s.dirs.a.snapshotTo(s.path("TMP_ADL"), s.mode); err != nil {
				return err
			}
		}
		return s.dirs.a.resize(count)
	}
	a, err := attachArray(s.path("ADL"), dirRecordSize, count, s.mode)
	if err != nil {
		return err
	}
	s.dirs = &DirList{a: a}
	return nil
}

// Count returns the negotiated number of directory entries.
func (l *DirList) Count() int { return l.a.count() }

// Entry returns the accessor for directory i.
func (l *DirList) Entry(i int) DirEntry { return DirEntry{b: l.a.entry(i)} }

// ContainsID reports whether any live entry carries the directory id.
func (l *DirList) ContainsID(id uint32) bool {
	for i := 0; i < l.Count(); i++ {
		if l.Entry(i).DirID() == id {
			return true
		}
	}
	return false
}

// DirEntry is a typed view over one mapped directory record.
type DirEntry struct {
	b []byte
}

func (e DirEntry) DirID() uint32      { return binary.LittleEndian.Uint32(e.b[dirOffID:]) }
func (e DirEntry) HomeDirLength() int { return int(binary.LittleEndian.Uint32(e.b[dirOffHomeLen:])) }
func (e DirEntry) Alias() string      { return cstr(e.b[dirOffAlias : dirOffAlias+DirAliasLength]) }
func (e DirEntry) Name() string       { return cstr(e.b[dirOffName : dirOffName+DirNameLength]) }
func (e DirEntry) OrigName() string   { return cstr(e.b[dirOffOrig : dirOffOrig+DirNameLength]) }
func (e DirEntry) HomeDirUser() string {
	return cstr(e.b[dirOffHomeUser : dirOffHomeUser+HomeDirUserLength])
}

// EntryTime is the time the definition entered the list.
func (e DirEntry) EntryTime() time.Time {
	return time.Unix(int64(binary.LittleEndian.Uint64(e.b[dirOffTime:])), 0)
}

// Set fills the entry from a DL record.
func (e DirEntry) Set(id uint32, alias, name, origName, homeUser string, homeLen int, entryTime time.Time) {
	binary.LittleEndian.PutUint32(e.b[dirOffID:], id)
	binary.LittleEndian.PutUint32(e.b[dirOffHomeLen:], uint32(homeLen))
	setCstr(e.b[dirOffAlias:dirOffAlias+DirAliasLength], alias)
	setCstr(e.b[dirOffName:dirOffName+DirNameLength], name)
	setCstr(e.b[dirOffOrig:dirOffOrig+DirNameLength], origName)
	setCstr(e.b[dirOffHomeUser:dirOffHomeUser+HomeDirUserLength], homeUser)
	binary.LittleEndian.PutUint64(e.b[dirOffTime:], uint64(entryTime.Unix()))
}
