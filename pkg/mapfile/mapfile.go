// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package mapfile provides a memory-mapped, growable file primitive shared
// by the status map and the associated list files. The mapping is always
// read-write for the owning process; readers attach with Open and get a
// read-only view of the same bytes.
package mapfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// File is a memory-mapped regular file. The mapped region tracks the file
// size; Resize remaps. Not safe for concurrent use by multiple goroutines.
type File struct {
	path string
	f    *os.File
	data []byte
	ro   bool
}

// Create opens (creating if necessary) path with the given mode, extends it
// to at least size bytes and maps it read-write. Attaching to an existing
// file that is already large enough leaves its contents untouched, so the
// call is idempotent.
func Create(path string, size int64, mode os.FileMode) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if fi.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to extend %s to %d bytes: %w", path, size, err)
		}
	} else {
		size = fi.Size()
	}

	mf := &File{path: path, f: f}
	if err := mf.mapRegion(size); err != nil {
		f.Close()
		return nil, err
	}
	return mf, nil
}

// Open maps an existing file read-only. Writes through the returned File
// panic at the kernel level (SIGSEGV), so callers must treat Data as
// immutable.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to map %s: %w", path, err)
	}
	return &File{path: path, f: f, data: data, ro: true}, nil
}

func (m *File) mapRegion(size int64) error {
	data, err := unix.Mmap(int(m.f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("failed to map %s: %w", m.path, err)
	}
	m.data = data
	return nil
}

// Data returns the mapped bytes. The slice is invalidated by Resize and
// Close.
func (m *File) Data() []byte { return m.data }

// Path returns the backing file path.
func (m *File) Path() string { return m.path }

// Size returns the length of the mapped region.
func (m *File) Size() int64 { return int64(len(m.data)) }

// Fd exposes the underlying descriptor for advisory record locks.
func (m *File) Fd() uintptr { return m.f.Fd() }

// Resize grows or shrinks the file to size and remaps it. Shrinking
// discards the tail; growing zero-fills it. A resize to the current size is
// a no-op.
func (m *File) Resize(size int64) error {
	if m.ro {
		return fmt.Errorf("%s is mapped read-only", m.path)
	}
	if size == int64(len(m.data)) {
		return nil
	}
	if err := unix.Munmap(m.data); err != nil {
		return fmt.Errorf("failed to unmap %s: %w", m.path, err)
	}
	m.data = nil
	if err := m.f.Truncate(size); err != nil {
		return fmt.Errorf("failed to resize %s to %d bytes: %w", m.path, size, err)
	}
	return m.mapRegion(size)
}

// Sync flushes dirty pages to the backing file.
func (m *File) Sync() error {
	if m.ro || m.data == nil {
		return nil
	}
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("failed to sync %s: %w", m.path, err)
	}
	return nil
}

// Close syncs, unmaps and closes the file. Safe to call twice.
func (m *File) Close() error {
	if m.f == nil {
		return nil
	}
	var firstErr error
	if m.data != nil {
		if !m.ro {
			if err := m.Sync(); err != nil {
				firstErr = err
			}
		}
		if err := unix.Munmap(m.data); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to unmap %s: %w", m.path, err)
		}
		m.data = nil
	}
	if err := m.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	m.f = nil
	return firstErr
}

// LockRecord takes an advisory exclusive write lock on [off, off+len) of
// the backing file, blocking until it is granted.
func (m *File) LockRecord(off, length int64) error {
	lk := unix.Flock_t{Type: unix.F_WRLCK, Whence: 0, Start: off, Len: length}
	if err := unix.FcntlFlock(m.f.Fd(), unix.F_SETLKW, &lk); err != nil {
		return fmt.Errorf("failed to lock %s [%d,+%d): %w", m.path, off, length, err)
	}
	return nil
}

// UnlockRecord releases a lock taken with LockRecord.
func (m *File) UnlockRecord(off, length int64) error {
	lk := unix.Flock_t{Type: unix.F_UNLCK, Whence: 0, Start: off, Len: length}
	if err := unix.FcntlFlock(m.f.Fd(), unix.F_SETLK, &lk); err != nil {
		return fmt.Errorf("failed to unlock %s [%d,+%d): %w", m.path, off, length, err)
	}
	return nil
}
