// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sys/unix"

	"github.com/holger24/AFD-sub000/internal/config"
	"github.com/holger24/AFD-sub000/pkg/channel"
	"github.com/holger24/AFD-sub000/pkg/statusmap"
)

// lockFileName guards against two managers sharing one working directory.
const lockFileName = "AFD_MON_ACTIVE"

// Manager owns the shared status map and one session worker per
// configured node. It reacts to configuration reloads by starting and
// stopping workers without disturbing unchanged ones.
type Manager struct {
	logger logr.Logger

	cfg     *config.Config
	status  *statusmap.Map
	lock    *os.File
	events  *channel.Merger[Event]
	watcher *config.Watcher

	mu      sync.Mutex
	workers map[string]*worker
	wg      sync.WaitGroup
}

// worker tracks one running session and its cancel handle.
type worker struct {
	node   config.Node
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager acquires the launch guard, attaches the status map sized for
// the configured nodes and assigns each node its record slot. Records keep
// their slot across restarts so history rings and window accumulators
// survive.
func NewManager(cfg *config.Config, watcher *config.Watcher, logger logr.Logger) (*Manager, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	lock, err := acquireLock(filepath.Join(cfg.FifoDir(), lockFileName), cfg.Mode())
	if err != nil {
		return nil, err
	}

	status, err := statusmap.Create(cfg.FifoDir(), len(cfg.Nodes), cfg.Mode())
	if err != nil {
		lock.Close()
		return nil, err
	}

	m := &Manager{
		logger:  logger.WithName("manager"),
		cfg:     cfg,
		status:  status,
		lock:    lock,
		events:  channel.NewMerger[Event](),
		watcher: watcher,
		workers: make(map[string]*worker),
	}
	if err := m.assignSlots(cfg); err != nil {
		status.Close()
		lock.Close()
		return nil, err
	}
	return m, nil
}

// Events is the merged life-cycle stream of every session.
func (m *Manager) Events() <-chan Event { return m.events.Out() }

// Run starts a worker per node and blocks until ctx is cancelled. When a
// configuration watcher is attached, reloads are applied as they arrive.
func (m *Manager) Run(ctx context.Context) error {
	for _, node := range m.cfg.Nodes {
		m.startWorker(ctx, node)
	}

	var updates <-chan *config.Config
	if m.watcher != nil {
		updates = m.watcher.Updates()
	}
	for {
		select {
		case <-ctx.Done():
			m.stopAll()
			m.wg.Wait()
			m.events.Close()
			return nil
		case cfg, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if err := m.apply(ctx, cfg); err != nil {
				m.logger.Error(err, "failed to apply configuration reload")
			}
		}
	}
}

// Close releases the status map and the launch guard. Call after Run has
// returned.
func (m *Manager) Close() error {
	err := m.status.Close()
	if lerr := m.lock.Close(); err == nil {
		err = lerr
	}
	return err
}

// assignSlots binds each configured alias to a status record. Aliases
// already present keep their record; new aliases claim records whose alias
// is empty or no longer configured.
func (m *Manager) assignSlots(cfg *config.Config) error {
	want := make(map[string]config.Node, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		want[n.Alias] = n
	}

	taken := make(map[int]bool, len(cfg.Nodes))
	for i := 0; i < m.status.NumNodes(); i++ {
		if _, ok := want[m.status.Node(i).Alias()]; ok {
			taken[i] = true
		}
	}

	next := 0
	for _, node := range cfg.Nodes {
		if rec := m.status.NodeByAlias(node.Alias); rec != nil {
			m.seed(rec, node)
			continue
		}
		for next < m.status.NumNodes() && taken[next] {
			next++
		}
		if next >= m.status.NumNodes() {
			return fmt.Errorf("no free status record for %q", node.Alias)
		}
		rec := m.status.Node(next)
		rec.SetAlias(node.Alias)
		taken[next] = true
		m.seed(rec, node)
	}
	return m.status.Sync()
}

func (m *Manager) seed(rec *statusmap.NodeStatus, node config.Node) {
	if mask, err := node.OptionsMask(); err == nil {
		rec.SetOptions(mask)
	}
	rec.SetConnectStatus(statusmap.ComponentStopped)
}

func (m *Manager) startWorker(ctx context.Context, node config.Node) {
	rec := m.status.NodeByAlias(node.Alias)
	if rec == nil {
		m.logger.Error(nil, "node has no status record, skipping", "node", node.Alias)
		return
	}

	wctx, cancel := context.WithCancel(ctx)
	s := New(m.cfg, node, rec, m.logger)
	m.events.Add(s.Events())

	w := &worker{node: node, cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.workers[node.Alias] = w
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(w.done)
		s.Run(wctx)
	}()
}

func (m *Manager) stopWorker(alias string) {
	m.mu.Lock()
	w, ok := m.workers[alias]
	if ok {
		delete(m.workers, alias)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	w.cancel()
	<-w.done
}

func (m *Manager) stopAll() {
	m.mu.Lock()
	workers := m.workers
	m.workers = make(map[string]*worker)
	m.mu.Unlock()
	for _, w := range workers {
		w.cancel()
	}
	for _, w := range workers {
		<-w.done
	}
}

// apply reconciles a configuration reload: removed nodes stop, added
// nodes start, nodes whose endpoint or options changed restart. A reload
// cannot grow the status map past its attach size, so added nodes beyond
// the current record count are reported and skipped.
func (m *Manager) apply(ctx context.Context, cfg *config.Config) error {
	old := make(map[string]config.Node, len(m.cfg.Nodes))
	for _, n := range m.cfg.Nodes {
		old[n.Alias] = n
	}
	want := make(map[string]config.Node, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		want[n.Alias] = n
	}

	for alias := range old {
		if _, ok := want[alias]; !ok {
			m.logger.Info("node removed from configuration", "node", alias)
			m.stopWorker(alias)
		}
	}

	m.cfg = cfg
	if err := m.assignSlots(cfg); err != nil {
		return err
	}

	for _, node := range cfg.Nodes {
		prev, existed := old[node.Alias]
		if existed && nodeEqual(prev, node) {
			continue
		}
		if existed {
			m.logger.Info("node configuration changed, restarting", "node", node.Alias)
			m.stopWorker(node.Alias)
		} else {
			m.logger.Info("node added to configuration", "node", node.Alias)
		}
		m.startWorker(ctx, node)
	}
	return nil
}

func nodeEqual(a, b config.Node) bool {
	if a.Alias != b.Alias || a.Host != b.Host || a.Port != b.Port {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for i := range a.Options {
		if a.Options[i] != b.Options[i] {
			return false
		}
	}
	return true
}

// acquireLock takes an exclusive flock on path. A second manager on the
// same working directory fails fast instead of corrupting shared state.
func acquireLock(path string, mode os.FileMode) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, mode)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("another monitor is active on this working directory: %w", err)
	}
	return f, nil
}
