// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package logsink

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/holger24/AFD-sub000/pkg/cursor"
)

// writeFull appends p to the stream, reissuing short writes until the line
// is complete, then rotates if the file crossed its threshold.
func (w *Writer) writeFull(s *stream, p []byte) error {
	if s.f == nil {
		// The descriptor was lost to a failed rotation; reopen so the
		// stream heals without a session restart.
		if err := w.openCurrent(s); err != nil {
			return err
		}
	}
	for len(p) > 0 {
		n, err := s.f.Write(p)
		s.size += int64(n)
		p = p[n:]
		if err == nil {
			continue
		}
		// A short write from a transient condition is retried; anything
		// else is unrecoverable for this line.
		if !errors.Is(err, unix.EINTR) && !errors.Is(err, unix.EAGAIN) {
			return fmt.Errorf("write %s: %w", s.f.Name(), err)
		}
	}
	if s.size >= s.info.MaxSize {
		return w.rotate(s)
	}
	return nil
}

// rotate closes the current file, shifts every kept rotation one suffix up,
// opens a fresh current file and rewrites the cursor with the new inode and
// log number. An out-of-space filesystem is retried a bounded number of
// times at the configured interval.
func (w *Writer) rotate(s *stream) error {
	if err := s.f.Close(); err != nil {
		s.f = nil
		return fmt.Errorf("close before rotate: %w", err)
	}
	s.f = nil

	// <base>N-1 -> <base>N, ..., <base>0 -> <base>1. The oldest rotation
	// falls off the end.
	for n := s.info.MaxRotations - 1; n >= 0; n-- {
		from := w.rotatedPath(s.info, n)
		to := w.rotatedPath(s.info, n+1)
		if err := os.Rename(from, to); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("rotate %s: %w", from, err)
		}
	}

	var f *os.File
	var err error
	path := w.currentPath(s.info)
	for attempt := 0; ; attempt++ {
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, w.cfg.Mode)
		if err == nil || !errors.Is(err, unix.ENOSPC) || attempt >= spaceRetryAttempts {
			break
		}
		w.logger.Info("filesystem full, retrying rotation",
			"stream", s.info.Tag.String(), "in", w.cfg.SpaceRetryInterval.String())
		time.Sleep(w.cfg.SpaceRetryInterval)
	}
	if err != nil {
		return fmt.Errorf("reopen after rotate: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat after rotate: %w", err)
	}

	s.f = f
	s.size = fi.Size()
	s.cur = cursor.Cursor{Inode: inodeOf(fi), LogNumber: s.cur.LogNumber + 1}
	if err := cursor.Write(w.cursorPath(s.info), s.cur, w.cfg.Mode); err != nil {
		return err
	}
	w.logger.V(1).Info("rotated log",
		"stream", s.info.Tag.String(), "number", s.cur.LogNumber)
	return nil
}
