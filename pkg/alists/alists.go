// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package alists implements the associated list files kept beside the
// status map: per-node host, directory and job arrays plus the typesize
// vector. Each list is a memory-mapped array file with a small count
// header, addressed by index from the wire protocol. Directory and job
// lists keep a rolling historical accumulator so identifiers from delayed
// log packets can still be resolved after the live list has moved on.
package alists

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"

	"github.com/holger24/AFD-sub000/pkg/mapfile"
)

// GroupIdentifier is the sentinel byte in the first real-hostname slot of a
// host entry marking a display-only group header with no real hosts.
const GroupIdentifier byte = 0x01

// GrowStep is the allocation granularity of every array file, in entries.
const GrowStep = 10

// arrayHeaderLen holds the entry count and a reserved word.
const arrayHeaderLen = 8

// arrayFile is a mapped array with fixed-size records and a count header.
type arrayFile struct {
	mf      *mapfile.File
	recSize int
}

func attachArray(path string, recSize, count int, mode os.FileMode) (*arrayFile, error) {
	size := int64(arrayHeaderLen + roundStep(count)*recSize)
	mf, err := mapfile.Create(path, size, mode)
	if err != nil {
		return nil, err
	}
	a := &arrayFile{mf: mf, recSize: recSize}
	if a.count() > count && mf.Size() > size {
		// Attaching with a smaller count shrinks the file.
		if err := mf.Resize(size); err != nil {
			mf.Close()
			return nil, err
		}
	}
	a.setCount(count)
	return a, nil
}

// openArray attaches an existing array file without touching its count.
func openArray(path string, recSize int, mode os.FileMode) (*arrayFile, error) {
	mf, err := mapfile.Create(path, arrayHeaderLen, mode)
	if err != nil {
		return nil, err
	}
	return &arrayFile{mf: mf, recSize: recSize}, nil
}

func roundStep(count int) int {
	if count <= 0 {
		return GrowStep
	}
	return (count + GrowStep - 1) / GrowStep * GrowStep
}

func (a *arrayFile) count() int {
	return int(binary.LittleEndian.Uint32(a.mf.Data()[0:4]))
}

func (a *arrayFile) setCount(n int) {
	binary.LittleEndian.PutUint32(a.mf.Data()[0:4], uint32(n))
}

// resize grows or shrinks the file to hold count entries, rounded up to the
// step size. A resize to the same count is a no-op.
func (a *arrayFile) resize(count int) error {
	if count == a.count() {
		return nil
	}
	size := int64(arrayHeaderLen + roundStep(count)*a.recSize)
	if err := a.mf.Resize(size); err != nil {
		return err
	}
	a.setCount(count)
	return nil
}

// capacity is the number of entries the mapped region can hold.
func (a *arrayFile) capacity() int {
	return int(a.mf.Size()-arrayHeaderLen) / a.recSize
}

func (a *arrayFile) entry(i int) []byte {
	off := arrayHeaderLen + i*a.recSize
	return a.mf.Data()[off : off+a.recSize]
}

func (a *arrayFile) close() error {
	if a == nil || a.mf == nil {
		return nil
	}
	return a.mf.Close()
}

// snapshotTo copies the whole array file to path, replacing any previous
// snapshot.
func (a *arrayFile) snapshotTo(path string, mode os.FileMode) error {
	if err := a.mf.Sync(); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create snapshot %s: %w", path, err)
	}
	if _, err := f.Write(a.mf.Data()); err != nil {
		f.Close()
		return fmt.Errorf("failed to write snapshot %s: %w", path, err)
	}
	return f.Close()
}

// Set bundles the four associated lists of one remote node. Lists attach
// lazily when the corresponding count record arrives.
type Set struct {
	fifoDir string
	alias   string
	mode    os.FileMode
	logger  logr.Logger

	hosts    *HostList
	dirs     *DirList
	jobs     *JobList
	typesize *TypesizeVector
}

// NewSet prepares the list set for one node. Stale tmp_ snapshots from a
// crashed run are removed: the next resize rebuilds them.
func NewSet(fifoDir, alias string, mode os.FileMode, logger logr.Logger) *Set {
	s := &Set{
		fifoDir: fifoDir,
		alias:   alias,
		mode:    mode,
		logger:  logger.WithName("alists").WithValues("node", alias),
	}
	for _, p := range []string{s.path("TMP_ADL"), s.path("TMP_AJL")} {
		if err := os.Remove(p); err == nil {
			s.logger.Info("removed stale snapshot", "path", p)
		}
	}
	return s
}

func (s *Set) path(prefix string) string {
	return filepath.Join(s.fifoDir, prefix+"_"+s.alias)
}

// Hosts returns the host list, or nil before the first NH record.
func (s *Set) Hosts() *HostList { return s.hosts }

// Dirs returns the directory list, or nil before the first ND record.
func (s *Set) Dirs() *DirList { return s.dirs }

// Jobs returns the job list, or nil before the first NJ record.
func (s *Set) Jobs() *JobList { return s.jobs }

// Typesize returns the typesize vector, or nil before the first TD record.
func (s *Set) Typesize() *TypesizeVector { return s.typesize }

// Close detaches every attached list.
func (s *Set) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.hosts != nil {
		keep(s.hosts.a.close())
	}
	if s.dirs != nil {
		keep(s.dirs.a.close())
	}
	if s.jobs != nil {
		keep(s.jobs.a.close())
	}
	if s.typesize != nil {
		keep(s.typesize.a.close())
	}
	s.hosts, s.dirs, s.jobs, s.typesize = nil, nil, nil, nil
	return firstErr
}
