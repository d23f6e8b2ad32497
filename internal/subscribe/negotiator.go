// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package subscribe negotiates the log subscription: after a successful
// connect the monitor sends exactly one LOG command enumerating every
// enabled stream with its resume point, and accepts the single 211-
// acknowledgement line that must precede streaming data.
package subscribe

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sys/unix"

	"github.com/holger24/AFD-sub000/pkg/cursor"
	"github.com/holger24/AFD-sub000/pkg/wire"
)

// ErrRejected means the remote answered the LOG command with anything but
// a 211- line. The session must terminate.
var ErrRejected = errors.New("log subscription rejected")

// Negotiator builds and sends the LOG command for one node.
type Negotiator struct {
	logger  logr.Logger
	logDir  string
	timeout time.Duration
}

// New creates a Negotiator. logDir is the node's local log directory from
// which resume points are derived; timeout bounds both the send and the
// acknowledgement.
func New(logDir string, timeout time.Duration, logger logr.Logger) *Negotiator {
	return &Negotiator{
		logger:  logger.WithName("subscribe"),
		logDir:  logDir,
		timeout: timeout,
	}
}

// Command renders the LOG command for the given capability and options
// masks. A stream is subscribed when the remote advertises it and the
// local options enable it; unknown resume values are sent as zero.
func (n *Negotiator) Command(caps, opts uint32) string {
	var b strings.Builder
	b.WriteString("LOG")
	for _, s := range wire.Streams {
		if caps&s.Mask == 0 || opts&s.Mask == 0 {
			continue
		}
		cur, err := cursor.Read(filepath.Join(n.logDir, s.BaseName+"."+s.CursorExt))
		if err != nil {
			n.logger.Info("cursor unreadable, resuming stream from zero",
				"stream", s.Tag.String(), "error", err.Error())
			cur = cursor.Cursor{}
		}
		size := n.localSize(s)
		fmt.Fprintf(&b, " %s 0 %d %d", s.Tag.String(), cur.Inode, size)
	}
	b.WriteString("\r\n")
	return b.String()
}

// localSize returns the size of the stream's current local file, or zero
// when it cannot be determined.
func (n *Negotiator) localSize(s wire.StreamInfo) int64 {
	var stx unix.Statx_t
	path := filepath.Join(n.logDir, s.BaseName+"0")
	if err := unix.Statx(unix.AT_FDCWD, path, 0, unix.STATX_SIZE, &stx); err != nil {
		return 0
	}
	return int64(stx.Size)
}

// Subscribe sends the LOG command over conn and consumes the reply line
// from r, which must share its buffer with the session reader so that any
// bytes following the acknowledgement stay available for packet framing.
func (n *Negotiator) Subscribe(conn net.Conn, r *bufio.Reader, caps, opts uint32) error {
	cmd := n.Command(caps, opts)
	if cmd == "LOG\r\n" {
		n.logger.V(1).Info("no streams enabled, skipping subscription")
		return nil
	}

	if err := conn.SetWriteDeadline(time.Now().Add(n.timeout)); err != nil {
		return err
	}
	if _, err := conn.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("failed to send LOG command: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(n.timeout)); err != nil {
		return err
	}
	reply, err := r.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("failed to read LOG acknowledgement: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	reply = bytes.TrimRight(reply, "\r\n")
	if !bytes.HasPrefix(reply, []byte("211-")) {
		return fmt.Errorf("%w: %q", ErrRejected, string(reply))
	}
	n.logger.V(1).Info("subscription acknowledged", "reply", string(reply))
	return nil
}
