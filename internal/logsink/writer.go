// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package logsink receives framed remote log packets, demultiplexes them
// into per-stream local files that mirror the remote naming, rotates files
// crossing their size threshold and maintains the per-stream inode cursor
// used to resume the subscription after a reconnect.
package logsink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-logr/logr"

	"github.com/holger24/AFD-sub000/pkg/cursor"
	"github.com/holger24/AFD-sub000/pkg/statusmap"
	"github.com/holger24/AFD-sub000/pkg/wire"
)

// Config configures a Writer for one remote node.
type Config struct {
	// LogDir is the per-node log directory, e.g. <workdir>/log/<alias>.
	LogDir string
	// Mode is the creation mode for log and cursor files.
	Mode os.FileMode
	// Node receives severity codes from deduplicated system log lines.
	// Optional.
	Node *statusmap.NodeStatus
	// RescanInterval bounds how long a repeated line may keep its counter
	// open before it is flushed.
	RescanInterval time.Duration
	// SpaceRetryInterval is the pause between rotation retries when the
	// filesystem is out of space.
	SpaceRetryInterval time.Duration
	// MaxSize overrides the per-stream rotation threshold when positive.
	MaxSize int64

	Logger logr.Logger
	Now    func() time.Time
}

const (
	defaultRescanInterval     = 5 * time.Second
	defaultSpaceRetryInterval = 10 * time.Second
	spaceRetryAttempts        = 6
)

// Writer is the per-node log stream demultiplexer.
type Writer struct {
	cfg     Config
	logger  logr.Logger
	now     func() time.Time
	streams map[wire.StreamTag]*stream
}

// stream is the mutable state of one log kind: descriptor, sizes, cursor
// and the duplicate-line suppressor.
type stream struct {
	info wire.StreamInfo
	f    *os.File
	size int64
	cur  cursor.Cursor

	pending []byte // partial line carried between packets

	// Duplicate suppression.
	prevBody   []byte // previous line without its timestamp prefix
	prevPrefix []byte // timestamp prefix of the previous line
	repeats    int
	lastSeen   time.Time
}

// New creates a Writer. The log directory is created on demand; streams
// open lazily on their first packet.
func New(cfg Config) *Writer {
	if cfg.RescanInterval <= 0 {
		cfg.RescanInterval = defaultRescanInterval
	}
	if cfg.SpaceRetryInterval <= 0 {
		cfg.SpaceRetryInterval = defaultSpaceRetryInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Writer{
		cfg:     cfg,
		logger:  cfg.Logger.WithName("logsink"),
		now:     cfg.Now,
		streams: make(map[wire.StreamTag]*stream),
	}
}

// HandlePacket appends one packet's payload to the stream's local file.
// Local write errors are logged and the packet dropped; the stream stays
// subscribed. Unknown stream tags and compressed payloads are dropped with
// a warning.
func (w *Writer) HandlePacket(p wire.Packet) {
	info, ok := wire.StreamByTag(p.Tag)
	if !ok {
		w.logger.Info("dropping packet for unknown stream", "tag", p.Tag.String())
		return
	}
	if p.Options&wire.PacketCompressed != 0 {
		w.logger.Info("dropping compressed packet, compression unsupported",
			"stream", p.Tag.String(), "bytes", len(p.Data))
		return
	}

	s, err := w.stream(info)
	if err != nil {
		w.logger.Error(err, "failed to open stream, dropping packet",
			"stream", p.Tag.String(), "bytes", len(p.Data))
		return
	}
	if err := w.append(s, p.Data); err != nil {
		w.logger.Error(err, "failed to write log data, dropping packet",
			"stream", p.Tag.String(), "bytes", len(p.Data))
	}
}

// stream returns the descriptor for a stream kind, opening it lazily: the
// current log number comes from the cursor file (zero when absent), the
// current file opens append-create with the configured mode, and a fresh
// cursor is written for a previously-empty stream.
func (w *Writer) stream(info wire.StreamInfo) (*stream, error) {
	if s, ok := w.streams[info.Tag]; ok {
		if s.f == nil {
			if err := w.openCurrent(s); err != nil {
				return nil, err
			}
		}
		return s, nil
	}
	if err := os.MkdirAll(w.cfg.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}

	s := &stream{info: info}
	if w.cfg.MaxSize > 0 {
		s.info.MaxSize = w.cfg.MaxSize
	}

	cur, err := cursor.Read(w.cursorPath(info))
	if err != nil {
		var malformed *cursor.MalformedError
		if !errors.As(err, &malformed) {
			return nil, err
		}
		w.logger.Info("cursor unreadable, resuming from zero", "error", err.Error())
		cur = cursor.Cursor{}
	}
	s.cur = cur

	if err := w.openCurrent(s); err != nil {
		return nil, err
	}

	w.streams[info.Tag] = s
	return s, nil
}

// openCurrent opens the stream's current file append-create and refreshes
// the cursor when the inode changed. It also restores a stream whose
// descriptor was lost to a failed rotation.
func (w *Writer) openCurrent(s *stream) error {
	path := w.currentPath(s.info)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, w.cfg.Mode)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	s.f = f
	s.size = fi.Size()

	ino := inodeOf(fi)
	if s.cur.Inode != ino {
		s.cur.Inode = ino
		if err := cursor.Write(w.cursorPath(s.info), s.cur, w.cfg.Mode); err != nil {
			w.logger.Error(err, "failed to write cursor", "stream", s.info.Tag.String())
		}
	}
	return nil
}

// currentPath is the current local log file: <dir>/<base>0.
func (w *Writer) currentPath(info wire.StreamInfo) string {
	return filepath.Join(w.cfg.LogDir, info.BaseName+"0")
}

// rotatedPath is rotation n of a stream: <dir>/<base><n>.
func (w *Writer) rotatedPath(info wire.StreamInfo, n int) string {
	return filepath.Join(w.cfg.LogDir, info.BaseName+strconv.Itoa(n))
}

// cursorPath is the stream's cursor file: <dir>/<base>.<ext>.
func (w *Writer) cursorPath(info wire.StreamInfo) string {
	return filepath.Join(w.cfg.LogDir, info.BaseName+"."+info.CursorExt)
}

// Sweep flushes duplicate counters whose rescan interval has expired. The
// session loop calls it from its tick.
func (w *Writer) Sweep(now time.Time) {
	for _, s := range w.streams {
		if s.repeats > 0 && now.Sub(s.lastSeen) >= w.cfg.RescanInterval {
			if err := w.flushRepeats(s); err != nil {
				w.logger.Error(err, "failed to flush repeat counter",
					"stream", s.info.Tag.String())
			}
		}
	}
}

// Cursors returns the last known cursor per stream tag for streams touched
// this session.
func (w *Writer) Cursors() map[wire.StreamTag]cursor.Cursor {
	out := make(map[wire.StreamTag]cursor.Cursor, len(w.streams))
	for tag, s := range w.streams {
		out[tag] = s.cur
	}
	return out
}

// Close flushes every open stream, persists cursors and closes the
// descriptors. Called on session shutdown.
func (w *Writer) Close() error {
	var firstErr error
	for tag, s := range w.streams {
		if s.repeats > 0 {
			if err := w.flushRepeats(s); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := cursor.Write(w.cursorPath(s.info), s.cur, w.cfg.Mode); err != nil && firstErr == nil {
			firstErr = err
		}
		if s.f != nil {
			if err := s.f.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(w.streams, tag)
	}
	return firstErr
}

func inodeOf(fi os.FileInfo) uint64 {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}
