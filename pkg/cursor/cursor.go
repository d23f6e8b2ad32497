// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package cursor implements the remote-inode cursor store: one tiny file
// per log stream holding the inode of the current local log file and the
// current log number. The subscription negotiator reads it at connect time
// to build resume triples; the log writer rewrites it after every rotation
// and on the first open of an empty stream.
package cursor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Cursor is the (inode, current log number) pair for one stream.
type Cursor struct {
	Inode     uint64
	LogNumber int
}

// Read loads the cursor from path. A missing or malformed file yields a
// zero cursor (full resume); malformed content additionally returns
// ErrMalformed so the caller can log one warning.
func Read(path string) (Cursor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Cursor{}, nil
		}
		return Cursor{}, fmt.Errorf("failed to read cursor %s: %w", path, err)
	}
	fields := strings.Fields(strings.TrimSpace(string(data)))
	if len(fields) != 2 {
		return Cursor{}, &MalformedError{Path: path, Content: clip(data)}
	}
	ino, err1 := strconv.ParseUint(fields[0], 10, 64)
	num, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil || num < 0 {
		return Cursor{}, &MalformedError{Path: path, Content: clip(data)}
	}
	return Cursor{Inode: ino, LogNumber: num}, nil
}

// Write stores the cursor at path with the given mode, replacing any
// previous content.
func Write(path string, c Cursor, mode os.FileMode) error {
	line := fmt.Sprintf("%d %d\n", c.Inode, c.LogNumber)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to open cursor %s: %w", path, err)
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("failed to write cursor %s: %w", path, err)
	}
	return f.Close()
}

// MalformedError marks unreadable cursor content. Both fields are treated
// as zero; the caller logs a single warning.
type MalformedError struct {
	Path    string
	Content string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed cursor %s: %q", e.Path, e.Content)
}

func clip(b []byte) string {
	const max = 64
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
