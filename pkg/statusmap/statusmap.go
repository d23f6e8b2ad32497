// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package statusmap

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/holger24/AFD-sub000/pkg/mapfile"
)

// Map is the mapped status area holding one NodeStatus record per
// monitored node.
type Map struct {
	mf    *mapfile.File
	count int
}

// Path returns the status map location beneath the fifo directory of the
// configured working directory.
func Path(fifoDir string) string {
	return filepath.Join(fifoDir, FileName())
}

// Create attaches the status map for writing, creating or resizing it to
// hold count records. Existing records are preserved: history rings, peaks
// and window accumulators survive restarts by contract.
func Create(fifoDir string, count int, mode os.FileMode) (*Map, error) {
	if count <= 0 {
		return nil, fmt.Errorf("invalid node count %d", count)
	}
	size := int64(headerLen + count*RecordSize)
	mf, err := mapfile.Create(Path(fifoDir), size, mode)
	if err != nil {
		return nil, err
	}
	m := &Map{mf: mf, count: count}

	data := mf.Data()
	if data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 0 {
		// Fresh file: write the header.
		copy(data[0:4], headerMagic[:])
		binary.LittleEndian.PutUint32(data[4:8], layoutVersion)
		binary.LittleEndian.PutUint32(data[8:12], uint32(count))
		binary.LittleEndian.PutUint32(data[12:16], uint32(RecordSize))
		return m, nil
	}

	if err := m.checkHeader(); err != nil {
		mf.Close()
		return nil, err
	}
	old := int(binary.LittleEndian.Uint32(data[8:12]))
	if old != count {
		if err := mf.Resize(size); err != nil {
			mf.Close()
			return nil, err
		}
		binary.LittleEndian.PutUint32(mf.Data()[8:12], uint32(count))
	}
	return m, nil
}

// OpenReader attaches an existing status map read-only. The returned Map
// must only be used through accessor reads.
func OpenReader(fifoDir string) (*Map, error) {
	mf, err := mapfile.Open(Path(fifoDir))
	if err != nil {
		return nil, err
	}
	m := &Map{mf: mf}
	if err := m.checkHeader(); err != nil {
		mf.Close()
		return nil, err
	}
	m.count = int(binary.LittleEndian.Uint32(mf.Data()[8:12]))
	return m, nil
}

func (m *Map) checkHeader() error {
	data := m.mf.Data()
	if len(data) < headerLen {
		return fmt.Errorf("%s: truncated header", m.mf.Path())
	}
	if [4]byte(data[0:4]) != headerMagic {
		return fmt.Errorf("%s: bad magic", m.mf.Path())
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != layoutVersion {
		return fmt.Errorf("%s: layout version %d, want %d", m.mf.Path(), v, layoutVersion)
	}
	if rs := binary.LittleEndian.Uint32(data[12:16]); rs != uint32(RecordSize) {
		return fmt.Errorf("%s: record size %d, want %d", m.mf.Path(), rs, RecordSize)
	}
	return nil
}

// NumNodes returns the number of records in the map.
func (m *Map) NumNodes() int { return m.count }

// Node returns the accessor for record i. The accessor stays valid until
// the map is closed.
func (m *Map) Node(i int) *NodeStatus {
	if i < 0 || i >= m.count {
		panic(fmt.Sprintf("statusmap: node index %d out of range [0,%d)", i, m.count))
	}
	off := headerLen + i*RecordSize
	return &NodeStatus{m: m, idx: i, b: m.mf.Data()[off : off+RecordSize]}
}

// NodeByAlias finds the record with the given alias, or nil.
func (m *Map) NodeByAlias(alias string) *NodeStatus {
	for i := 0; i < m.count; i++ {
		if n := m.Node(i); n.Alias() == alias {
			return n
		}
	}
	return nil
}

// Sync flushes the mapping to disk.
func (m *Map) Sync() error { return m.mf.Sync() }

// Close detaches the mapping. All NodeStatus accessors become invalid.
func (m *Map) Close() error { return m.mf.Close() }

// lockOffset is the advisory lock region for record i: the first byte of
// the record. Every peak or host status mutation locks this byte, updates
// and releases.
func (m *Map) lockOffset(i int) int64 {
	return int64(headerLen + i*RecordSize)
}
