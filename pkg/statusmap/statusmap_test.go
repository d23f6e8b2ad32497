// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package statusmap_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holger24/AFD-sub000/pkg/statusmap"
)

func TestCreateAndReopen(t *testing.T) {
	dir := t.TempDir()

	m, err := statusmap.Create(dir, 3, 0o640)
	require.NoError(t, err)
	require.Equal(t, 3, m.NumNodes())

	n := m.Node(0)
	n.SetAlias("bonn")
	n.SetVersion("2.29.5")
	n.SetFilesQueued(17)
	n.SetSummary(statusmap.WindowDay, statusmap.MetricBytesSent, 4096)
	require.NoError(t, m.Close())

	// Records survive a detach and reattach.
	m, err = statusmap.Create(dir, 3, 0o640)
	require.NoError(t, err)
	defer m.Close()

	n = m.NodeByAlias("bonn")
	require.NotNil(t, n)
	assert.Equal(t, "2.29.5", n.Version())
	assert.Equal(t, uint64(17), n.FilesQueued())
	assert.Equal(t, uint64(4096), n.Summary(statusmap.WindowDay, statusmap.MetricBytesSent))
}

func TestOpenReader(t *testing.T) {
	dir := t.TempDir()

	m, err := statusmap.Create(dir, 2, 0o640)
	require.NoError(t, err)
	m.Node(1).SetAlias("offenbach")
	m.Node(1).SetTransferRate(1234)

	r, err := statusmap.OpenReader(dir)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 2, r.NumNodes())
	got := r.NodeByAlias("offenbach")
	require.NotNil(t, got)
	assert.Equal(t, uint64(1234), got.TransferRate())

	// Writer side changes are visible through the shared mapping.
	m.Node(1).SetTransferRate(99)
	assert.Equal(t, uint64(99), got.TransferRate())
	require.NoError(t, m.Close())
}

func TestOpenReaderMissing(t *testing.T) {
	_, err := statusmap.OpenReader(t.TempDir())
	assert.Error(t, err)
}

func TestCreateGrows(t *testing.T) {
	dir := t.TempDir()

	m, err := statusmap.Create(dir, 1, 0o640)
	require.NoError(t, err)
	m.Node(0).SetAlias("keep")
	require.NoError(t, m.Close())

	m, err = statusmap.Create(dir, 4, 0o640)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 4, m.NumNodes())
	assert.Equal(t, "keep", m.Node(0).Alias())
	assert.Empty(t, m.Node(3).Alias())
}

func TestSeedSummaries(t *testing.T) {
	m := newMap(t, 1)
	n := m.Node(0)

	n.SetSummary(statusmap.WindowCurrent, statusmap.MetricFilesSent, 7)
	n.SetSummary(statusmap.WindowCurrent, statusmap.MetricBytesSent, 512)
	n.SeedSummaries()

	for w := statusmap.WindowHour; w < statusmap.NumWindows; w++ {
		assert.Equal(t, uint64(7), n.Summary(w, statusmap.MetricFilesSent))
		assert.Equal(t, uint64(512), n.Summary(w, statusmap.MetricBytesSent))
		assert.Zero(t, n.Summary(w, statusmap.MetricTotalErrors))
	}
}

func TestUpdatePeaksMonotone(t *testing.T) {
	m := newMap(t, 1)
	n := m.Node(0)

	t0 := time.Unix(1000, 0)
	n.UpdatePeaks(t0, 100, 10, 3)
	assert.Equal(t, uint64(100), n.TopTransferRate())
	assert.Equal(t, t0.Unix(), n.TopTransferRateTime().Unix())

	// Lower values change nothing, not even the timestamps.
	t1 := time.Unix(2000, 0)
	n.UpdatePeaks(t1, 50, 5, 1)
	assert.Equal(t, uint64(100), n.TopTransferRate())
	assert.Equal(t, uint64(10), n.TopFileRate())
	assert.Equal(t, uint64(3), n.TopActiveTransfers())
	assert.Equal(t, t0.Unix(), n.TopTransferRateTime().Unix())

	// A single exceeded peak moves only its own pair.
	t2 := time.Unix(3000, 0)
	n.UpdatePeaks(t2, 200, 5, 1)
	assert.Equal(t, uint64(200), n.TopTransferRate())
	assert.Equal(t, t2.Unix(), n.TopTransferRateTime().Unix())
	assert.Equal(t, t0.Unix(), n.TopFileRateTime().Unix())
}

func TestSeverityFifo(t *testing.T) {
	m := newMap(t, 1)
	n := m.Node(0)

	for i := 0; i < statusmap.LogFifoLength+2; i++ {
		n.PushSeverity(byte(i % int(statusmap.SeverityPaletteSize)))
	}
	assert.Equal(t, uint64(statusmap.LogFifoLength+2), n.FifoCounter())

	fifo := n.SeverityFifo()
	// Oldest first: pushes 2..9 survive, each reduced mod the palette.
	assert.Equal(t, byte(2), fifo[0])
	assert.Equal(t, byte(9%int(statusmap.SeverityPaletteSize)), fifo[statusmap.LogFifoLength-1])
}

func TestShiftHistory(t *testing.T) {
	m := newMap(t, 1)
	n := m.Node(0)

	ring := n.History(statusmap.SystemHistory)
	ring[0] = statusmap.SeverityError
	ring[statusmap.LogHistoryLength-1] = statusmap.SeverityWarn

	n.ShiftHistory(statusmap.SystemHistory)
	assert.Equal(t, statusmap.NoInformation, ring[0])
	assert.Equal(t, statusmap.SeverityWarn, ring[statusmap.LogHistoryLength-2])
	assert.Equal(t, statusmap.NoInformation, ring[statusmap.LogHistoryLength-1])

	// Other rings are untouched.
	assert.Equal(t, statusmap.NoInformation, n.History(statusmap.ReceiveHistory)[statusmap.LogHistoryLength-2])
}

func TestFlags(t *testing.T) {
	m := newMap(t, 1)
	n := m.Node(0)

	assert.False(t, n.HasFlag(statusmap.FlagDisconnected))
	n.SetFlag(statusmap.FlagDisconnected)
	n.SetFlag(statusmap.FlagSumValuesInitialized)
	assert.True(t, n.HasFlag(statusmap.FlagDisconnected))
	n.ClearFlag(statusmap.FlagDisconnected)
	assert.False(t, n.HasFlag(statusmap.FlagDisconnected))
	assert.True(t, n.HasFlag(statusmap.FlagSumValuesInitialized))
}

func TestRecordLock(t *testing.T) {
	m := newMap(t, 2)
	n := m.Node(0)

	require.NoError(t, n.Lock())
	n.UpdatePeaks(time.Now(), 1, 1, 1)
	require.NoError(t, n.Unlock())
}

func newMap(t *testing.T, count int) *statusmap.Map {
	t.Helper()
	m, err := statusmap.Create(t.TempDir(), count, 0o640)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}
