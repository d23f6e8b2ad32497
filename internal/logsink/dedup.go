// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package logsink

import (
	"bytes"
	"fmt"

	"github.com/holger24/AFD-sub000/pkg/statusmap"
	"github.com/holger24/AFD-sub000/pkg/wire"
)

// Remote log lines start with a fixed "dd hh:mm:ss " timestamp prefix
// followed by the severity sign in angle brackets: "07 12:33:04 <I> ...".
const timePrefixLen = 12

// lineBody strips the timestamp prefix so consecutive lines differing only
// in their timestamp still count as duplicates.
func lineBody(line []byte) []byte {
	if len(line) > timePrefixLen {
		return line[timePrefixLen:]
	}
	return line
}

// severityOf extracts the severity sign of a log line, if present.
func severityOf(line []byte) (byte, bool) {
	if len(line) >= timePrefixLen+3 && line[timePrefixLen] == '<' && line[timePrefixLen+2] == '>' {
		return line[timePrefixLen+1], true
	}
	return 0, false
}

func severityCode(sign byte) byte {
	switch sign {
	case 'I':
		return statusmap.SeverityInfo
	case 'C':
		return statusmap.SeverityConfig
	case 'W':
		return statusmap.SeverityWarn
	case 'E':
		return statusmap.SeverityError
	case 'O':
		return statusmap.SeverityOffline
	case 'F':
		return statusmap.SeverityFaulty
	default:
		return statusmap.NoInformation
	}
}

// append splits the payload into lines, carrying a partial trailing line
// over to the next packet, and routes each complete line through the
// duplicate suppressor.
func (w *Writer) append(s *stream, data []byte) error {
	buf := data
	if len(s.pending) > 0 {
		buf = append(s.pending, data...)
		s.pending = nil
	}
	for {
		nl := bytes.IndexByte(buf, '\n')
		if nl < 0 {
			break
		}
		if err := w.appendLine(s, buf[:nl+1]); err != nil {
			return err
		}
		buf = buf[nl+1:]
	}
	if len(buf) > 0 {
		s.pending = bytes.Clone(buf)
	}
	return nil
}

// appendLine writes one complete line unless it repeats the previous one
// within the rescan interval, in which case only the counter moves.
func (w *Writer) appendLine(s *stream, line []byte) error {
	now := w.now()
	body := lineBody(line)

	if s.prevBody != nil && bytes.Equal(body, s.prevBody) &&
		now.Sub(s.lastSeen) < w.cfg.RescanInterval {
		s.repeats++
		s.lastSeen = now
		return nil
	}

	if s.repeats > 0 {
		if err := w.flushRepeats(s); err != nil {
			return err
		}
	}

	if err := w.writeFull(s, line); err != nil {
		return err
	}

	if w.cfg.Node != nil && s.info.Tag == wire.StreamSystem {
		if sign, ok := severityOf(line); ok {
			w.cfg.Node.PushSeverity(severityCode(sign))
		}
	}

	s.prevBody = bytes.Clone(body)
	if len(line) >= timePrefixLen {
		s.prevPrefix = bytes.Clone(line[:timePrefixLen])
	} else {
		s.prevPrefix = nil
	}
	s.lastSeen = now
	return nil
}

// flushRepeats emits the accumulated duplicate count with the prefix of the
// suppressed line.
func (w *Writer) flushRepeats(s *stream) error {
	n := s.repeats
	s.repeats = 0
	line := fmt.Sprintf("%sLast message repeated %d times.\n", s.prevPrefix, n)
	return w.writeFull(s, []byte(line))
}
