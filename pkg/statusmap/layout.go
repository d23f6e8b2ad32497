// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package statusmap implements the shared status map: one fixed-layout,
// memory-mapped record per monitored remote node. The monitor process is
// the only writer; dashboards and other observers attach read-only. Readers
// tolerate torn reads of multi-byte integers, so plain counter updates take
// no lock; peak fields and the host status word are updated under a
// per-record advisory lock.
package statusmap

import (
	"fmt"
	"hash/fnv"
	"time"
)

// String field capacities. Part of the on-disk ABI.
const (
	AliasLength   = 40
	VersionLength = 60
	WorkDirLength = 128
)

// LogHistoryLength is the number of slots in each hour history ring, newest
// at the highest index.
const LogHistoryLength = 48

// LogFifoLength is the capacity of the recent system-log severity fifo.
const LogFifoLength = 8

// HistoryLogInterval is the granularity of the history window shifter.
const HistoryLogInterval = time.Hour

// Window indexes the summary accumulators. WindowCurrent is written by
// every interval summary; the remaining windows are seeded from it on the
// first summary of a run and evolve independently.
type Window int

const (
	WindowCurrent Window = iota
	WindowHour
	WindowDay
	WindowWeek
	WindowMonth
	WindowYear
	NumWindows
)

// SummaryMetric indexes the per-window accumulators.
type SummaryMetric int

const (
	MetricFilesSent SummaryMetric = iota
	MetricBytesSent
	MetricConnections
	MetricTotalErrors
	MetricFilesReceived
	MetricBytesReceived
	MetricLogBytesReceived
	NumSummaryMetrics
)

// HistoryRing names the three severity history rings.
type HistoryRing int

const (
	ReceiveHistory HistoryRing = iota
	SystemHistory
	TransferHistory
	NumHistoryRings
)

// Severity codes stored in history rings and the severity fifo. On the wire
// each code is transmitted as code+' '; anything decoding past the palette
// is clamped to NoInformation.
const (
	NoInformation byte = iota
	SeverityInfo
	SeverityConfig
	SeverityWarn
	SeverityError
	SeverityOffline
	SeverityFaulty

	SeverityPaletteSize
)

// Component status codes (amg, fd, archive watch, connection).
const (
	ComponentStopped byte = iota
	ComponentRunning
	ComponentShuttingDown
	ComponentError
)

// NodeStatus flag bits.
const (
	FlagSumValuesInitialized uint32 = 1 << 0
	FlagDisconnected         uint32 = 1 << 1
)

// Record layout. Offsets are bytes from the start of a NodeStatus record.
// Multi-byte integers are little-endian. Changing anything here changes the
// ABI hash and therefore the status map filename.
const (
	offAlias   = 0
	offVersion = offAlias + AliasLength
	offWorkDir = offVersion + VersionLength

	// 4 bytes padding keeps the scalar block 8-byte aligned.
	offScalars         = offWorkDir + WorkDirLength + 4
	offFilesQueued     = offScalars
	offBytesQueued     = offScalars + 8
	offTransferRate    = offScalars + 16
	offFileRate        = offScalars + 24
	offErrorCount      = offScalars + 32
	offHostsInError    = offScalars + 40
	offActiveTransfers = offScalars + 48
	offJobsQueued      = offScalars + 56

	offSummaries = offScalars + 64 // NumSummaryMetrics x NumWindows x 8

	offPeaks               = offSummaries + int(NumSummaryMetrics)*int(NumWindows)*8
	offTopTransferRate     = offPeaks
	offTopFileRate         = offPeaks + 8
	offTopActiveTransfers  = offPeaks + 16
	offTopTransferRateTime = offPeaks + 24
	offTopFileRateTime     = offPeaks + 32
	offTopActiveTime       = offPeaks + 40

	offLastDataTime = offPeaks + 48
	offFifoCounter  = offLastDataTime + 8

	offCounts         = offFifoCounter + 8
	offHostsCount     = offCounts
	offDirsCount      = offCounts + 4
	offJobsCount      = offCounts + 8
	offMaxConnections = offCounts + 12
	offDangerJobs     = offCounts + 16
	offCapabilities   = offCounts + 20
	offOptions        = offCounts + 24
	offFlags          = offCounts + 28

	offComponents    = offCounts + 32 // amg, fd, archive watch, connect: 1 byte each
	offSeverityFifo  = offComponents + 4
	offHistoryRings  = offSeverityFifo + LogFifoLength
	endHistoryRings  = offHistoryRings + int(NumHistoryRings)*LogHistoryLength
	recordSizeUnpad  = endHistoryRings
	recordSizePadded = (recordSizeUnpad + 7) &^ 7

	// RecordSize is the on-disk size of one NodeStatus record.
	RecordSize = recordSizePadded
)

// headerLen is the status map file header: magic, layout version, node
// count, record size.
const headerLen = 16

var headerMagic = [4]byte{'A', 'M', 'S', 'A'}

const layoutVersion = 1

// abiHash folds the record layout into the short hash embedded in the
// status map filename, so readers built against a different layout never
// attach to the wrong file.
func abiHash() uint32 {
	h := fnv.New32a()
	fmt.Fprintf(h, "v%d:a%d:v%d:w%d:h%d:f%d:w%d:m%d:r%d:sz%d",
		layoutVersion, AliasLength, VersionLength, WorkDirLength,
		LogHistoryLength, LogFifoLength, NumWindows, NumSummaryMetrics,
		NumHistoryRings, RecordSize)
	return h.Sum32()
}

// FileName is the status map file name, including the ABI hash.
func FileName() string {
	return fmt.Sprintf("AFD_MON_STATUS.%x", abiHash())
}
