// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package wire implements the line-oriented ASCII protocol spoken by remote
// distribution nodes: record tags, the log stream table, field tokenizing,
// the recipient byte permutation and the framed log packet codec.
package wire

// Record tags. The first two bytes of every status line name the record
// kind; the third byte is a separator.
const (
	TagIntervalSummary = "IS"
	TagHostCount       = "NH"
	TagDirCount        = "ND"
	TagJobCount        = "NJ"
	TagMaxConnections  = "MC"
	TagDangerJobs      = "DJ"
	TagStatusAMG       = "AM"
	TagStatusFD        = "FD"
	TagStatusArchive   = "AW"
	TagSystemRadar     = "SR"
	TagReceiveHistory  = "RH"
	TagSystemHistory   = "SH"
	TagTransferHistory = "TH"
	TagErrorList       = "EL"
	TagHostList        = "HL"
	TagDirList         = "DL"
	TagJobList         = "Jl"
	TagVersion         = "AV"
	TagWorkDir         = "WD"
	TagTypesize        = "TD"
	TagLogCapabilities = "LC"
)

// ShutdownPrefix starts the line a remote sends on graceful exit.
const ShutdownPrefix = "AFDD SHUTDOWN"

// StreamTag identifies one remote log stream on the wire.
type StreamTag [2]byte

func (t StreamTag) String() string { return string(t[:]) }

// MaskOf returns the stream's bit in the capability and options masks, or
// zero for an unknown tag.
func (t StreamTag) MaskOf() uint32 {
	if s, ok := StreamByTag(t); ok {
		return s.Mask
	}
	return 0
}

// Stream tags, in the order they appear in the LOG subscribe command.
var (
	StreamSystem       = StreamTag{'L', 'S'}
	StreamEvent        = StreamTag{'L', 'E'}
	StreamReceive      = StreamTag{'L', 'R'}
	StreamTransfer     = StreamTag{'L', 'T'}
	StreamTransferDB   = StreamTag{'L', 'B'}
	StreamInput        = StreamTag{'L', 'I'}
	StreamDistribution = StreamTag{'L', 'U'}
	StreamProduction   = StreamTag{'L', 'P'}
	StreamOutput       = StreamTag{'L', 'O'}
	StreamDelete       = StreamTag{'L', 'D'}
	StreamJobData      = StreamTag{'J', 'D'}
)

// StreamInfo is the static per-stream configuration: local base name,
// cursor file extension, rotation threshold and how many rotated files are
// kept. Mask is the stream's bit in both the remote capability mask and the
// local options mask.
type StreamInfo struct {
	Tag          StreamTag
	BaseName     string
	CursorExt    string
	Mask         uint32
	MaxSize      int64 // rotation threshold in bytes
	MaxRotations int   // rotated files kept beyond the current one
}

// DefaultMaxLogSize is the rotation threshold used when the monitor
// configuration does not override it.
const DefaultMaxLogSize = 2 << 20

// DefaultMaxRotations is the default number of rotated files kept.
const DefaultMaxRotations = 4

// Streams is the static stream table, indexed by position in the LOG
// command. Do not reorder: the mask bits are part of the wire contract.
var Streams = []StreamInfo{
	{StreamSystem, "SYSTEM_LOG", "ls", 1 << 0, DefaultMaxLogSize, DefaultMaxRotations},
	{StreamEvent, "EVENT_LOG", "le", 1 << 1, DefaultMaxLogSize, DefaultMaxRotations},
	{StreamReceive, "RECEIVE_LOG", "lr", 1 << 2, DefaultMaxLogSize, DefaultMaxRotations},
	{StreamTransfer, "TRANSFER_LOG", "lt", 1 << 3, DefaultMaxLogSize, DefaultMaxRotations},
	{StreamTransferDB, "TRANS_DB_LOG", "lb", 1 << 4, DefaultMaxLogSize, DefaultMaxRotations},
	{StreamInput, "INPUT_LOG", "li", 1 << 5, DefaultMaxLogSize, DefaultMaxRotations},
	{StreamDistribution, "DISTRIBUTION_LOG", "lu", 1 << 6, DefaultMaxLogSize, DefaultMaxRotations},
	{StreamProduction, "PRODUCTION_LOG", "lp", 1 << 7, DefaultMaxLogSize, DefaultMaxRotations},
	{StreamOutput, "OUTPUT_LOG", "lo", 1 << 8, DefaultMaxLogSize, DefaultMaxRotations},
	{StreamDelete, "DELETE_LOG", "ld", 1 << 9, DefaultMaxLogSize, DefaultMaxRotations},
	{StreamJobData, "JOB_DATA", "jd", 1 << 10, DefaultMaxLogSize, DefaultMaxRotations},
}

// StreamByTag resolves a stream tag against the static table.
func StreamByTag(tag StreamTag) (StreamInfo, bool) {
	for _, s := range Streams {
		if s.Tag == tag {
			return s, true
		}
	}
	return StreamInfo{}, false
}

// IsStreamTag reports whether the two bytes name a known log stream. Used
// by the session reader to tell framed log packets from status lines.
func IsStreamTag(b0, b1 byte) bool {
	_, ok := StreamByTag(StreamTag{b0, b1})
	return ok
}

// Evaluator return codes. Values at or above ResponseCodeBase come straight
// from a three-digit numeric response line.
const (
	Success          = 0
	UnknownMessage   = 1
	ShutdownCode     = 124
	ResponseCodeBase = 100
)
