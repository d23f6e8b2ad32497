// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package logsink

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holger24/AFD-sub000/pkg/cursor"
	"github.com/holger24/AFD-sub000/pkg/statusmap"
	"github.com/holger24/AFD-sub000/pkg/wire"
)

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newWriter(t *testing.T, maxSize int64) (*Writer, string, *testClock) {
	t.Helper()
	dir := t.TempDir()
	clock := &testClock{t: time.Unix(1_000_000, 0)}
	w := New(Config{
		LogDir:         dir,
		Mode:           0o640,
		RescanInterval: 5 * time.Second,
		MaxSize:        maxSize,
		Logger:         logr.Discard(),
		Now:            clock.now,
	})
	t.Cleanup(func() { w.Close() })
	return w, dir, clock
}

func packet(tag wire.StreamTag, data string) wire.Packet {
	return wire.Packet{Tag: tag, Data: []byte(data)}
}

func readLog(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(data)
}

func TestHandlePacketWritesBytesUnchanged(t *testing.T) {
	w, dir, _ := newWriter(t, 0)

	line := "07 12:33:04 <I> File distributed to 3 hosts\n"
	w.HandlePacket(packet(wire.StreamSystem, line))

	assert.Equal(t, line, readLog(t, dir, "SYSTEM_LOG0"))

	// A second stream goes to its own file.
	w.HandlePacket(packet(wire.StreamTransfer, "07 12:33:05 <I> 4711 bytes sent\n"))
	assert.FileExists(t, filepath.Join(dir, "TRANSFER_LOG0"))
	assert.Equal(t, line, readLog(t, dir, "SYSTEM_LOG0"))
}

func TestPartialLinesSpanPackets(t *testing.T) {
	w, dir, _ := newWriter(t, 0)

	w.HandlePacket(packet(wire.StreamSystem, "07 12:33:04 <I> first ha"))
	// Nothing is written until the newline arrives.
	assert.Empty(t, readLog(t, dir, "SYSTEM_LOG0"))

	w.HandlePacket(packet(wire.StreamSystem, "lf\n07 12:33:05 <I> second\n"))
	assert.Equal(t,
		"07 12:33:04 <I> first half\n07 12:33:05 <I> second\n",
		readLog(t, dir, "SYSTEM_LOG0"))
}

func TestDuplicateSuppression(t *testing.T) {
	w, dir, clock := newWriter(t, 0)

	w.HandlePacket(packet(wire.StreamSystem, "07 12:33:04 <W> Disk almost full\n"))
	// Same body, newer timestamps: suppressed.
	w.HandlePacket(packet(wire.StreamSystem, "07 12:33:05 <W> Disk almost full\n"))
	w.HandlePacket(packet(wire.StreamSystem, "07 12:33:06 <W> Disk almost full\n"))

	// A different line flushes the counter first.
	clock.advance(time.Second)
	w.HandlePacket(packet(wire.StreamSystem, "07 12:33:07 <I> All good again\n"))

	got := readLog(t, dir, "SYSTEM_LOG0")
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "07 12:33:04 <W> Disk almost full", lines[0])
	assert.Equal(t, "07 12:33:04 Last message repeated 2 times.", lines[1])
	assert.Equal(t, "07 12:33:07 <I> All good again", lines[2])
}

func TestDuplicateExpiresAfterRescanInterval(t *testing.T) {
	w, dir, clock := newWriter(t, 0)

	w.HandlePacket(packet(wire.StreamSystem, "07 12:33:04 <W> Same thing\n"))
	clock.advance(6 * time.Second)
	// Past the rescan interval the same body is a fresh line.
	w.HandlePacket(packet(wire.StreamSystem, "07 12:33:10 <W> Same thing\n"))

	got := readLog(t, dir, "SYSTEM_LOG0")
	assert.Equal(t, 2, strings.Count(got, "Same thing"))
	assert.NotContains(t, got, "repeated")
}

func TestSweepFlushesRepeats(t *testing.T) {
	w, dir, clock := newWriter(t, 0)

	w.HandlePacket(packet(wire.StreamSystem, "07 12:33:04 <E> Connect failed\n"))
	w.HandlePacket(packet(wire.StreamSystem, "07 12:33:05 <E> Connect failed\n"))

	clock.advance(10 * time.Second)
	w.Sweep(clock.now())

	got := readLog(t, dir, "SYSTEM_LOG0")
	assert.Contains(t, got, "Last message repeated 1 times.")
}

func TestCloseFlushesRepeatsAndCursor(t *testing.T) {
	w, dir, _ := newWriter(t, 0)

	w.HandlePacket(packet(wire.StreamSystem, "07 12:33:04 <I> Once\n"))
	w.HandlePacket(packet(wire.StreamSystem, "07 12:33:05 <I> Once\n"))
	require.NoError(t, w.Close())

	got := readLog(t, dir, "SYSTEM_LOG0")
	assert.Contains(t, got, "Last message repeated 1 times.")

	cur, err := cursor.Read(filepath.Join(dir, "SYSTEM_LOG.ls"))
	require.NoError(t, err)
	assert.NotZero(t, cur.Inode)
	assert.Equal(t, 0, cur.LogNumber)
}

func TestRotation(t *testing.T) {
	// Tiny threshold: every line crosses it.
	w, dir, _ := newWriter(t, 16)

	w.HandlePacket(packet(wire.StreamSystem, "07 12:33:04 <I> line one\n"))
	w.HandlePacket(packet(wire.StreamSystem, "07 12:33:05 <I> line two\n"))
	w.HandlePacket(packet(wire.StreamSystem, "07 12:33:06 <I> line three\n"))

	// Three rotations: the current file is empty, the rotated files hold
	// one line each, newest at the lowest suffix.
	assert.Empty(t, readLog(t, dir, "SYSTEM_LOG0"))
	assert.Contains(t, readLog(t, dir, "SYSTEM_LOG1"), "line three")
	assert.Contains(t, readLog(t, dir, "SYSTEM_LOG2"), "line two")
	assert.Contains(t, readLog(t, dir, "SYSTEM_LOG3"), "line one")

	cur, err := cursor.Read(filepath.Join(dir, "SYSTEM_LOG.ls"))
	require.NoError(t, err)
	assert.Equal(t, 3, cur.LogNumber)
}

func TestRotationDropsOldest(t *testing.T) {
	w, dir, _ := newWriter(t, 8)

	for i := 0; i < 7; i++ {
		w.HandlePacket(packet(wire.StreamSystem, "07 12:33:04 <I> x\n"))
		// Each line is unique to the suppressor thanks to its body; force
		// distinct bodies.
		w.HandlePacket(packet(wire.StreamSystem, "07 12:33:04 <I> y"+strings.Repeat("y", i)+"\n"))
	}

	// MaxRotations is 4: suffixes above <base>4 never exist.
	assert.NoFileExists(t, filepath.Join(dir, "SYSTEM_LOG5"))
	assert.FileExists(t, filepath.Join(dir, "SYSTEM_LOG4"))
}

func TestRotationFailureHealsOnNextPacket(t *testing.T) {
	w, dir, _ := newWriter(t, 16)

	// A directory squatting on the first rotation slot makes the rename
	// fail after the current file is already closed.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "SYSTEM_LOG1"), 0o755))
	w.HandlePacket(packet(wire.StreamSystem, "07 12:33:04 <I> line one\n"))

	// The blocker gone, the next packet reopens the stream and rotates.
	require.NoError(t, os.Remove(filepath.Join(dir, "SYSTEM_LOG1")))
	w.HandlePacket(packet(wire.StreamSystem, "07 12:33:05 <I> line two\n"))

	assert.Contains(t, readLog(t, dir, "SYSTEM_LOG1"), "line one")
	assert.Contains(t, readLog(t, dir, "SYSTEM_LOG1"), "line two")
	assert.Empty(t, readLog(t, dir, "SYSTEM_LOG0"))
}

func TestRotationPicksUpCursorLogNumber(t *testing.T) {
	dir := t.TempDir()
	// A previous run left log number 6 behind.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SYSTEM_LOG0"), nil, 0o640))
	require.NoError(t, cursor.Write(filepath.Join(dir, "SYSTEM_LOG.ls"), cursor.Cursor{Inode: 1, LogNumber: 6}, 0o640))

	w := New(Config{
		LogDir:  dir,
		Mode:    0o640,
		MaxSize: 4,
		Logger:  logr.Discard(),
	})
	defer w.Close()

	w.HandlePacket(packet(wire.StreamSystem, "07 12:33:04 <I> enough to rotate\n"))

	cur, err := cursor.Read(filepath.Join(dir, "SYSTEM_LOG.ls"))
	require.NoError(t, err)
	assert.Equal(t, 7, cur.LogNumber)
}

func TestMalformedCursorResumesFromZero(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SYSTEM_LOG.ls"), []byte("garbage\n"), 0o640))

	w := New(Config{LogDir: dir, Mode: 0o640, Logger: logr.Discard()})
	defer w.Close()

	w.HandlePacket(packet(wire.StreamSystem, "07 12:33:04 <I> fine\n"))
	assert.Contains(t, readLog(t, dir, "SYSTEM_LOG0"), "fine")

	cur, err := cursor.Read(filepath.Join(dir, "SYSTEM_LOG.ls"))
	require.NoError(t, err)
	assert.Equal(t, 0, cur.LogNumber)
	assert.NotZero(t, cur.Inode)
}

func TestUnknownTagAndCompressedDropped(t *testing.T) {
	w, dir, _ := newWriter(t, 0)

	w.HandlePacket(wire.Packet{Tag: wire.StreamTag{'X', 'X'}, Data: []byte("nope\n")})
	w.HandlePacket(wire.Packet{
		Tag:     wire.StreamSystem,
		Options: wire.PacketCompressed,
		Data:    []byte("compressed\n"),
	})

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSystemLogSeverityFeedsFifo(t *testing.T) {
	dir := t.TempDir()
	m, err := statusmap.Create(dir, 1, 0o640)
	require.NoError(t, err)
	defer m.Close()
	node := m.Node(0)

	w := New(Config{LogDir: dir, Mode: 0o640, Node: node, Logger: logr.Discard()})
	defer w.Close()

	w.HandlePacket(packet(wire.StreamSystem, "07 12:33:04 <E> boom\n"))
	w.HandlePacket(packet(wire.StreamTransfer, "07 12:33:05 <W> not system\n"))

	fifo := node.SeverityFifo()
	assert.Equal(t, statusmap.SeverityError, fifo[statusmap.LogFifoLength-1])
	assert.Equal(t, uint64(1), node.FifoCounter())
}

func TestCursors(t *testing.T) {
	w, _, _ := newWriter(t, 0)
	w.HandlePacket(packet(wire.StreamSystem, "07 12:33:04 <I> a\n"))

	curs := w.Cursors()
	require.Contains(t, curs, wire.StreamSystem)
	assert.NotZero(t, curs[wire.StreamSystem].Inode)
}
