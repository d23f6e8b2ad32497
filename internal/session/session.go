// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package session runs one worker per monitored remote node: it dials the
// node, feeds status lines to the protocol evaluator and log packets to
// the log sink, negotiates the log subscription once capabilities are
// known, keeps the history rings aligned with the wall clock and
// reconnects with exponential backoff.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/holger24/AFD-sub000/internal/config"
	"github.com/holger24/AFD-sub000/internal/evaluate"
	"github.com/holger24/AFD-sub000/internal/logsink"
	"github.com/holger24/AFD-sub000/internal/subscribe"
	"github.com/holger24/AFD-sub000/pkg/alists"
	"github.com/holger24/AFD-sub000/pkg/statusmap"
	"github.com/holger24/AFD-sub000/pkg/wire"
)

// EventKind classifies session events.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventRemoteShutdown
	EventError
)

// Event is one session life-cycle notification.
type Event struct {
	Node string
	Kind EventKind
	Err  error
}

// tickInterval slices the blocking read so the hour shifter and the
// duplicate-line sweeper run even on a quiet connection.
const tickInterval = time.Second

// resetAfter is the session length after which the reconnect backoff
// starts over.
const resetAfter = time.Minute

// Session is the worker for one remote node.
type Session struct {
	node   config.Node
	cfg    *config.Config
	status *statusmap.NodeStatus
	logger logr.Logger
	events chan Event
}

// New creates the worker for node. The status record must stay valid for
// the lifetime of the session.
func New(cfg *config.Config, node config.Node, status *statusmap.NodeStatus, logger logr.Logger) *Session {
	return &Session{
		node:   node,
		cfg:    cfg,
		status: status,
		logger: logger.WithName("session").WithValues("node", node.Alias),
		events: make(chan Event, 4),
	}
}

// Events delivers life-cycle notifications. The channel closes when Run
// returns.
func (s *Session) Events() <-chan Event { return s.events }

// Run connects and reconnects until ctx is cancelled. Each failed attempt
// backs off exponentially; a session that lived long enough resets the
// backoff.
func (s *Session) Run(ctx context.Context) {
	defer close(s.events)

	expo := backoff.NewExponentialBackOff()
	for {
		started := time.Now()
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.emit(Event{Node: s.node.Alias, Kind: EventError, Err: err})
		}
		if time.Since(started) >= resetAfter {
			expo.Reset()
		}
		wait := expo.NextBackOff()
		s.logger.Info("reconnecting", "in", wait.String(), "cause", errString(err))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

// runOnce performs one full session: dial, evaluate, subscribe, stream.
// It returns nil on a clean remote shutdown.
func (s *Session) runOnce(ctx context.Context) error {
	id := uuid.NewString()
	logger := s.logger.WithValues("session", id)

	dialer := net.Dialer{Timeout: s.cfg.TCPTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.node.Addr())
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", s.node.Addr(), err)
	}
	defer conn.Close()

	// Cancellation must unblock the socket read.
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	logger.Info("connected", "addr", s.node.Addr())
	s.status.SetConnectStatus(statusmap.ComponentRunning)
	s.status.ClearFlag(statusmap.FlagDisconnected)
	s.emit(Event{Node: s.node.Alias, Kind: EventConnected})
	defer func() {
		s.status.SetConnectStatus(statusmap.ComponentStopped)
		s.status.SetFlag(statusmap.FlagDisconnected)
		s.emit(Event{Node: s.node.Alias, Kind: EventDisconnected})
	}()

	lists := alists.NewSet(s.cfg.FifoDir(), s.node.Alias, s.cfg.Mode(), logger)
	defer lists.Close()

	shifter := statusmap.NewHourShifter(time.Now())
	eval := evaluate.New(evaluate.Options{
		Logger:    logger,
		Node:      s.status,
		Lists:     lists,
		Shifter:   shifter,
		Retention: s.cfg.Retention(),
	})
	sink := logsink.New(logsink.Config{
		LogDir:         s.cfg.NodeLogDir(s.node.Alias),
		Mode:           s.cfg.Mode(),
		Node:           s.status,
		RescanInterval: s.cfg.RescanInterval,
		MaxSize:        s.cfg.MaxLogSize,
		Logger:         logger,
	})
	defer func() {
		// Flush dedup counters and persist cursors on every exit path.
		if err := sink.Close(); err != nil {
			logger.Error(err, "failed to flush log sink")
		}
	}()

	optsMask, err := s.node.OptionsMask()
	if err != nil {
		return err
	}
	s.status.SetOptions(optsMask)
	neg := subscribe.New(s.cfg.NodeLogDir(s.node.Alias), s.cfg.TCPTimeout, logger)

	r := bufio.NewReaderSize(conn, 64<<10)
	subscribed := false
	idle := time.Duration(0)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(tickInterval)); err != nil {
			return err
		}
		head, err := r.Peek(2)
		if err != nil {
			if isTimeout(err) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				idle += tickInterval
				if idle >= s.cfg.TCPTimeout {
					return fmt.Errorf("session timed out after %s", s.cfg.TCPTimeout)
				}
				shifter.Tick(time.Now(), s.status)
				sink.Sweep(time.Now())
				continue
			}
			return fmt.Errorf("read: %w", err)
		}
		idle = 0

		// A record has started; the rest of it is bounded by the
		// transfer timeout, not the tick interval.
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.TCPTimeout)); err != nil {
			return err
		}

		if subscribed && wire.IsStreamTag(head[0], head[1]) {
			if err := s.readPacket(r, sink); err != nil {
				return err
			}
		} else {
			code, err := s.readLine(r, eval)
			if err != nil {
				return err
			}
			switch {
			case code == wire.ShutdownCode:
				logger.Info("remote shut down, ending session")
				s.emit(Event{Node: s.node.Alias, Kind: EventRemoteShutdown})
				return nil
			case code >= wire.ResponseCodeBase:
				logger.V(1).Info("numeric response", "code", code)
			}
		}

		if !subscribed && s.status.Capabilities() != 0 && optsMask != 0 {
			conn.SetReadDeadline(time.Time{})
			if err := neg.Subscribe(conn, r, s.status.Capabilities(), optsMask); err != nil {
				return err
			}
			subscribed = true
		}

		shifter.Tick(time.Now(), s.status)
		sink.Sweep(time.Now())
	}
}

// readPacket consumes one framed log packet whose tag is next in the
// buffer.
func (s *Session) readPacket(r *bufio.Reader, sink *logsink.Writer) error {
	var tag wire.StreamTag
	for i := range tag {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		tag[i] = b
	}
	pkt, err := wire.ReadPacket(r, tag)
	if err != nil {
		return err
	}
	sink.HandlePacket(pkt)
	return nil
}

// readLine consumes one status line and evaluates it.
func (s *Session) readLine(r *bufio.Reader, eval *evaluate.Evaluator) (int, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return 0, fmt.Errorf("read line: %w", err)
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	if len(line) == 0 {
		return wire.Success, nil
	}
	return eval.Eval(line), nil
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		// A slow consumer must not stall the wire.
	}
}

func isTimeout(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}

func errString(err error) string {
	if err == nil {
		return "remote shutdown"
	}
	return err.Error()
}
