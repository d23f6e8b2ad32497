// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package alists

import (
	"bytes"
	"encoding/binary"
	"hash/fnv"
)

// Host entry field capacities.
const (
	HostAliasLength    = 40
	RealHostnameLength = 70
	ErrorHistoryLength = 8
)

// Host entry layout.
const (
	hostOffAlias   = 0
	hostOffReal1   = hostOffAlias + HostAliasLength
	hostOffReal2   = hostOffReal1 + RealHostnameLength
	hostOffID      = hostOffReal2 + RealHostnameLength
	hostOffErrors  = hostOffID + 4
	hostRecordSize = hostOffErrors + ErrorHistoryLength
)

// HostList is the mapped AHL_<alias> array.
type HostList struct {
	a *arrayFile
}

// AttachHosts grows or shrinks the host list to count entries and remaps
// it, creating the file on first use.
func (s *Set) AttachHosts(count int) error {
	if s.hosts != nil {
		return s.hosts.a.resize(count)
	}
	a, err := attachArray(s.path("AHL"), hostRecordSize, count, s.mode)
	if err != nil {
		return err
	}
	s.hosts = &HostList{a: a}
	return nil
}

// Count returns the negotiated number of host entries.
func (l *HostList) Count() int { return l.a.count() }

// Entry returns the accessor for host i. The caller must bounds-check
// against Count.
func (l *HostList) Entry(i int) HostEntry { return HostEntry{b: l.a.entry(i)} }

// HostEntry is a typed view over one mapped host record.
type HostEntry struct {
	b []byte
}

func (e HostEntry) Alias() string { return cstr(e.b[hostOffAlias : hostOffAlias+HostAliasLength]) }

func (e HostEntry) RealHostname(i int) string {
	off := hostOffReal1 + i*RealHostnameLength
	return cstr(e.b[off : off+RealHostnameLength])
}

// HostID is the stable checksum of the alias.
func (e HostEntry) HostID() uint32 { return binary.LittleEndian.Uint32(e.b[hostOffID:]) }

// IsGroup reports whether the entry is a display-only group header.
func (e HostEntry) IsGroup() bool { return e.b[hostOffReal1] == GroupIdentifier }

// ErrorHistory returns the 8-slot error code ring.
func (e HostEntry) ErrorHistory() []byte {
	return e.b[hostOffErrors : hostOffErrors+ErrorHistoryLength]
}

// Set fills the entry from an HL record. An empty real1 marks a group
// header. Unused slots are zeroed.
func (e HostEntry) Set(alias, real1, real2 string) {
	setCstr(e.b[hostOffAlias:hostOffAlias+HostAliasLength], alias)
	setCstr(e.b[hostOffReal1:hostOffReal1+RealHostnameLength], real1)
	setCstr(e.b[hostOffReal2:hostOffReal2+RealHostnameLength], real2)
	if real1 == "" {
		e.b[hostOffReal1] = GroupIdentifier
	}
	binary.LittleEndian.PutUint32(e.b[hostOffID:], HostID(alias))
}

// SetErrorHistory stores up to ErrorHistoryLength codes, zeroing the rest.
func (e HostEntry) SetErrorHistory(codes []byte) {
	ring := e.ErrorHistory()
	n := copy(ring, codes)
	for i := n; i < ErrorHistoryLength; i++ {
		ring[i] = 0
	}
}

// HostID computes the stable host identifier from an alias.
func HostID(alias string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(alias))
	return h.Sum32()
}

func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func setCstr(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}
