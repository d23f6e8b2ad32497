// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package statusmap

import (
	"bytes"
	"encoding/binary"
	"time"
)

// NodeStatus is a typed view over one mapped record. All accessors read and
// write the mapping directly; there is no caching layer.
type NodeStatus struct {
	m   *Map
	idx int
	b   []byte
}

func (n *NodeStatus) u64(off int) uint64       { return binary.LittleEndian.Uint64(n.b[off:]) }
func (n *NodeStatus) setU64(off int, v uint64) { binary.LittleEndian.PutUint64(n.b[off:], v) }
func (n *NodeStatus) u32(off int) uint32       { return binary.LittleEndian.Uint32(n.b[off:]) }
func (n *NodeStatus) setU32(off int, v uint32) { binary.LittleEndian.PutUint32(n.b[off:], v) }

func (n *NodeStatus) str(off, max int) string {
	f := n.b[off : off+max]
	if i := bytes.IndexByte(f, 0); i >= 0 {
		f = f[:i]
	}
	return string(f)
}

func (n *NodeStatus) setStr(off, max int, s string) {
	f := n.b[off : off+max]
	nn := copy(f, s)
	for i := nn; i < max; i++ {
		f[i] = 0
	}
}

// Lock takes the per-record advisory lock guarding peak fields and the host
// status word. Unlock releases it.
func (n *NodeStatus) Lock() error   { return n.m.mf.LockRecord(n.m.lockOffset(n.idx), 1) }
func (n *NodeStatus) Unlock() error { return n.m.mf.UnlockRecord(n.m.lockOffset(n.idx), 1) }

func (n *NodeStatus) Alias() string       { return n.str(offAlias, AliasLength) }
func (n *NodeStatus) SetAlias(s string)   { n.setStr(offAlias, AliasLength, s) }
func (n *NodeStatus) Version() string     { return n.str(offVersion, VersionLength) }
func (n *NodeStatus) SetVersion(s string) { n.setStr(offVersion, VersionLength, s) }
func (n *NodeStatus) WorkDir() string     { return n.str(offWorkDir, WorkDirLength) }
func (n *NodeStatus) SetWorkDir(s string) { n.setStr(offWorkDir, WorkDirLength, s) }

func (n *NodeStatus) FilesQueued() uint64         { return n.u64(offFilesQueued) }
func (n *NodeStatus) SetFilesQueued(v uint64)     { n.setU64(offFilesQueued, v) }
func (n *NodeStatus) BytesQueued() uint64         { return n.u64(offBytesQueued) }
func (n *NodeStatus) SetBytesQueued(v uint64)     { n.setU64(offBytesQueued, v) }
func (n *NodeStatus) TransferRate() uint64        { return n.u64(offTransferRate) }
func (n *NodeStatus) SetTransferRate(v uint64)    { n.setU64(offTransferRate, v) }
func (n *NodeStatus) FileRate() uint64            { return n.u64(offFileRate) }
func (n *NodeStatus) SetFileRate(v uint64)        { n.setU64(offFileRate, v) }
func (n *NodeStatus) ErrorCount() uint64          { return n.u64(offErrorCount) }
func (n *NodeStatus) SetErrorCount(v uint64)      { n.setU64(offErrorCount, v) }
func (n *NodeStatus) HostsInError() uint64        { return n.u64(offHostsInError) }
func (n *NodeStatus) SetHostsInError(v uint64)    { n.setU64(offHostsInError, v) }
func (n *NodeStatus) ActiveTransfers() uint64     { return n.u64(offActiveTransfers) }
func (n *NodeStatus) SetActiveTransfers(v uint64) { n.setU64(offActiveTransfers, v) }
func (n *NodeStatus) JobsQueued() uint64          { return n.u64(offJobsQueued) }
func (n *NodeStatus) SetJobsQueued(v uint64)      { n.setU64(offJobsQueued, v) }

func summaryOff(w Window, m SummaryMetric) int {
	return offSummaries + (int(w)*int(NumSummaryMetrics)+int(m))*8
}

// Summary returns accumulator m of window w.
func (n *NodeStatus) Summary(w Window, m SummaryMetric) uint64 {
	return n.u64(summaryOff(w, m))
}

// SetSummary stores accumulator m of window w.
func (n *NodeStatus) SetSummary(w Window, m SummaryMetric, v uint64) {
	n.setU64(summaryOff(w, m), v)
}

// SeedSummaries copies the current window into every other window. Runs
// once, on the first interval summary after startup, before the
// SumValuesInitialized flag is raised.
func (n *NodeStatus) SeedSummaries() {
	for w := WindowHour; w < NumWindows; w++ {
		for m := SummaryMetric(0); m < NumSummaryMetrics; m++ {
			n.SetSummary(w, m, n.Summary(WindowCurrent, m))
		}
	}
}

func (n *NodeStatus) TopTransferRate() uint64    { return n.u64(offTopTransferRate) }
func (n *NodeStatus) TopFileRate() uint64        { return n.u64(offTopFileRate) }
func (n *NodeStatus) TopActiveTransfers() uint64 { return n.u64(offTopActiveTransfers) }

func (n *NodeStatus) TopTransferRateTime() time.Time {
	return time.Unix(int64(n.u64(offTopTransferRateTime)), 0)
}
func (n *NodeStatus) TopFileRateTime() time.Time {
	return time.Unix(int64(n.u64(offTopFileRateTime)), 0)
}
func (n *NodeStatus) TopActiveTransfersTime() time.Time {
	return time.Unix(int64(n.u64(offTopActiveTime)), 0)
}

// UpdatePeaks raises any peak exceeded by the given rates and stamps it
// with now. Peaks are monotone within a run; the timestamp moves only on a
// strict increase. Must be called with the record lock held.
func (n *NodeStatus) UpdatePeaks(now time.Time, transferRate, fileRate, activeTransfers uint64) {
	ts := uint64(now.Unix())
	if transferRate > n.u64(offTopTransferRate) {
		n.setU64(offTopTransferRate, transferRate)
		n.setU64(offTopTransferRateTime, ts)
	}
	if fileRate > n.u64(offTopFileRate) {
		n.setU64(offTopFileRate, fileRate)
		n.setU64(offTopFileRateTime, ts)
	}
	if activeTransfers > n.u64(offTopActiveTransfers) {
		n.setU64(offTopActiveTransfers, activeTransfers)
		n.setU64(offTopActiveTime, ts)
	}
}

func (n *NodeStatus) LastDataTime() time.Time {
	return time.Unix(int64(n.u64(offLastDataTime)), 0)
}
func (n *NodeStatus) SetLastDataTime(t time.Time) { n.setU64(offLastDataTime, uint64(t.Unix())) }

func (n *NodeStatus) HostsCount() int          { return int(n.u32(offHostsCount)) }
func (n *NodeStatus) SetHostsCount(v int)      { n.setU32(offHostsCount, uint32(v)) }
func (n *NodeStatus) DirsCount() int           { return int(n.u32(offDirsCount)) }
func (n *NodeStatus) SetDirsCount(v int)       { n.setU32(offDirsCount, uint32(v)) }
func (n *NodeStatus) JobsCount() int           { return int(n.u32(offJobsCount)) }
func (n *NodeStatus) SetJobsCount(v int)       { n.setU32(offJobsCount, uint32(v)) }
func (n *NodeStatus) MaxConnections() int      { return int(n.u32(offMaxConnections)) }
func (n *NodeStatus) SetMaxConnections(v int)  { n.setU32(offMaxConnections, uint32(v)) }
func (n *NodeStatus) DangerJobs() int          { return int(n.u32(offDangerJobs)) }
func (n *NodeStatus) SetDangerJobs(v int)      { n.setU32(offDangerJobs, uint32(v)) }
func (n *NodeStatus) Capabilities() uint32     { return n.u32(offCapabilities) }
func (n *NodeStatus) SetCapabilities(v uint32) { n.setU32(offCapabilities, v) }
func (n *NodeStatus) Options() uint32          { return n.u32(offOptions) }
func (n *NodeStatus) SetOptions(v uint32)      { n.setU32(offOptions, v) }

func (n *NodeStatus) Flags() uint32         { return n.u32(offFlags) }
func (n *NodeStatus) SetFlag(f uint32)      { n.setU32(offFlags, n.u32(offFlags)|f) }
func (n *NodeStatus) ClearFlag(f uint32)    { n.setU32(offFlags, n.u32(offFlags)&^f) }
func (n *NodeStatus) HasFlag(f uint32) bool { return n.u32(offFlags)&f != 0 }

// Component status codes.

func (n *NodeStatus) StatusAMG() byte         { return n.b[offComponents] }
func (n *NodeStatus) SetStatusAMG(c byte)     { n.b[offComponents] = c }
func (n *NodeStatus) StatusFD() byte          { return n.b[offComponents+1] }
func (n *NodeStatus) SetStatusFD(c byte)      { n.b[offComponents+1] = c }
func (n *NodeStatus) StatusArchive() byte     { return n.b[offComponents+2] }
func (n *NodeStatus) SetStatusArchive(c byte) { n.b[offComponents+2] = c }
func (n *NodeStatus) ConnectStatus() byte     { return n.b[offComponents+3] }
func (n *NodeStatus) SetConnectStatus(c byte) { n.b[offComponents+3] = c }

// SeverityFifo returns the recent system-log severity codes, oldest first.
func (n *NodeStatus) SeverityFifo() []byte {
	return n.b[offSeverityFifo : offSeverityFifo+LogFifoLength]
}

// FifoCounter is the monotonic counter paired with the severity fifo.
func (n *NodeStatus) FifoCounter() uint64     { return n.u64(offFifoCounter) }
func (n *NodeStatus) SetFifoCounter(v uint64) { n.setU64(offFifoCounter, v) }

// PushSeverity appends one code to the severity fifo, dropping the oldest
// entry, and bumps the counter.
func (n *NodeStatus) PushSeverity(code byte) {
	f := n.SeverityFifo()
	copy(f, f[1:])
	f[LogFifoLength-1] = code
	n.SetFifoCounter(n.FifoCounter() + 1)
}

// History returns ring r as a direct view into the mapping. Updates are
// entry-by-entry so a concurrent reader sees at most a one-slot-stale ring.
func (n *NodeStatus) History(r HistoryRing) []byte {
	off := offHistoryRings + int(r)*LogHistoryLength
	return n.b[off : off+LogHistoryLength]
}

// ShiftHistory advances ring r by one slot: every code moves one position
// toward index zero and the newest slot becomes NoInformation.
func (n *NodeStatus) ShiftHistory(r HistoryRing) {
	ring := n.History(r)
	for i := 0; i < LogHistoryLength-1; i++ {
		ring[i] = ring[i+1]
	}
	ring[LogHistoryLength-1] = NoInformation
}
