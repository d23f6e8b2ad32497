// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package evaluate implements the protocol evaluator: a line-based parser
// that dispatches on the two-letter record tag and applies the record to
// the node's status map entry and associated lists. The evaluator performs
// no network I/O, never blocks and survives any fragment: malformed records
// are logged once and discarded without touching the session.
package evaluate

import (
	"bytes"
	"time"

	"github.com/go-logr/logr"

	"github.com/holger24/AFD-sub000/pkg/alists"
	"github.com/holger24/AFD-sub000/pkg/statusmap"
	"github.com/holger24/AFD-sub000/pkg/wire"
)

// Evaluator applies status records for one remote node.
type Evaluator struct {
	logger  logr.Logger
	node    *statusmap.NodeStatus
	lists   *alists.Set
	shifter *statusmap.HourShifter

	// retention is the age window of the historical accumulators.
	retention time.Duration

	now func() time.Time
}

// Options configures an Evaluator.
type Options struct {
	Logger    logr.Logger
	Node      *statusmap.NodeStatus
	Lists     *alists.Set
	Shifter   *statusmap.HourShifter
	Retention time.Duration
	Now       func() time.Time // defaults to time.Now
}

// New creates an evaluator for one node.
func New(opts Options) *Evaluator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Evaluator{
		logger:    opts.Logger.WithName("evaluate"),
		node:      opts.Node,
		lists:     opts.Lists,
		shifter:   opts.Shifter,
		retention: opts.Retention,
		now:       opts.Now,
	}
}

// Eval applies one framed status line (without its trailing newline) and
// returns wire.Success, wire.UnknownMessage, wire.ShutdownCode or a numeric
// response code at or above wire.ResponseCodeBase.
func (e *Evaluator) Eval(line []byte) int {
	if len(line) >= len(wire.ShutdownPrefix) &&
		string(line[:len(wire.ShutdownPrefix)]) == wire.ShutdownPrefix {
		e.node.SetConnectStatus(statusmap.ComponentStopped)
		e.node.SetFlag(statusmap.FlagDisconnected)
		e.logger.Info("remote announced shutdown", "line", string(line))
		return wire.ShutdownCode
	}
	if code, ok := responseCode(line); ok {
		return code
	}
	if len(line) < 2 {
		e.logger.Info("discarding unparseable record", "line", clip(line))
		return wire.UnknownMessage
	}

	tag := string(line[:2])
	var body []byte
	if len(line) > 3 {
		body = line[3:]
	}
	now := e.now()
	e.node.SetLastDataTime(now)

	var err error
	code := wire.Success
	switch tag {
	case wire.TagIntervalSummary:
		err = e.evalSummary(body, now)
	case wire.TagHostCount:
		err = e.evalHostCount(body)
	case wire.TagDirCount:
		err = e.evalDirCount(body, now)
	case wire.TagJobCount:
		err = e.evalJobCount(body, now)
	case wire.TagMaxConnections:
		err = e.evalInt(body, e.node.SetMaxConnections)
	case wire.TagDangerJobs:
		err = e.evalInt(body, e.node.SetDangerJobs)
	case wire.TagStatusAMG:
		err = e.evalComponent(body, e.node.SetStatusAMG)
	case wire.TagStatusFD:
		err = e.evalComponent(body, e.node.SetStatusFD)
	case wire.TagStatusArchive:
		err = e.evalComponent(body, e.node.SetStatusArchive)
	case wire.TagSystemRadar:
		err = e.evalRadar(body)
	case wire.TagReceiveHistory:
		err = e.evalHistory(body, statusmap.ReceiveHistory, now)
	case wire.TagSystemHistory:
		err = e.evalHistory(body, statusmap.SystemHistory, now)
	case wire.TagTransferHistory:
		err = e.evalHistory(body, statusmap.TransferHistory, now)
	case wire.TagErrorList:
		code, err = e.evalErrorList(body)
	case wire.TagHostList:
		code, err = e.evalHostList(body)
	case wire.TagDirList:
		code, err = e.evalDirList(body, now)
	case wire.TagJobList:
		code, err = e.evalJobList(body, now)
	case wire.TagVersion:
		e.setChecked(body, statusmap.VersionLength, e.node.SetVersion, "version")
	case wire.TagWorkDir:
		e.setChecked(body, statusmap.WorkDirLength, e.node.SetWorkDir, "remote work dir")
	case wire.TagTypesize:
		err = e.evalTypesize(body)
	case wire.TagLogCapabilities:
		err = e.evalCapabilities(body)
	default:
		e.logger.Info("unknown record tag", "tag", tag, "line", clip(line))
		return wire.UnknownMessage
	}

	if err != nil {
		e.logger.Info("discarding malformed record", "tag", tag, "error", err.Error(), "line", clip(line))
		return wire.UnknownMessage
	}
	return code
}

// responseCode recognizes a three-digit numeric response header such as
// "211-" and returns its value.
func responseCode(line []byte) (int, bool) {
	if len(line) < 4 || line[3] != '-' {
		return 0, false
	}
	code := 0
	for _, c := range line[:3] {
		if c < '0' || c > '9' {
			return 0, false
		}
		code = code*10 + int(c-'0')
	}
	return code, true
}

func (e *Evaluator) evalSummary(body []byte, now time.Time) error {
	t := wire.NewTokenizer(body)
	var v [15]uint64
	for i := range v {
		n, err := t.Uint()
		if err != nil {
			return err
		}
		v[i] = n
	}

	n := e.node
	n.SetFilesQueued(v[0])
	n.SetBytesQueued(v[1])
	n.SetTransferRate(v[2])
	n.SetFileRate(v[3])
	n.SetErrorCount(v[4])
	n.SetHostsInError(v[5])
	n.SetActiveTransfers(v[6])
	n.SetJobsQueued(v[7])
	for m := statusmap.SummaryMetric(0); m < statusmap.NumSummaryMetrics; m++ {
		n.SetSummary(statusmap.WindowCurrent, m, v[8+int(m)])
	}

	if err := n.Lock(); err != nil {
		return err
	}
	n.UpdatePeaks(now, v[2], v[3], v[6])
	if unlockErr := n.Unlock(); unlockErr != nil {
		return unlockErr
	}

	if !n.HasFlag(statusmap.FlagSumValuesInitialized) {
		n.SeedSummaries()
		n.SetFlag(statusmap.FlagSumValuesInitialized)
	}
	return nil
}

func (e *Evaluator) evalInt(body []byte, set func(int)) error {
	t := wire.NewTokenizer(body)
	v, err := t.Uint()
	if err != nil {
		return err
	}
	set(int(v))
	return nil
}

func (e *Evaluator) evalComponent(body []byte, set func(byte)) error {
	if len(body) < 1 {
		return &wire.ParseError{Want: "status byte", Got: ""}
	}
	set(body[0])
	return nil
}

func (e *Evaluator) evalHostCount(body []byte) error {
	t := wire.NewTokenizer(body)
	v, err := t.Uint()
	if err != nil {
		return err
	}
	if err := e.lists.AttachHosts(int(v)); err != nil {
		return err
	}
	e.node.SetHostsCount(int(v))
	return nil
}

func (e *Evaluator) evalDirCount(body []byte, now time.Time) error {
	t := wire.NewTokenizer(body)
	v, err := t.Uint()
	if err != nil {
		return err
	}
	if err := e.lists.AttachDirs(int(v)); err != nil {
		return err
	}
	e.node.SetDirsCount(int(v))
	if v == 0 {
		// No DL records will follow; fold the snapshot right away.
		return e.lists.MergeDirs(now, e.retention)
	}
	return nil
}

func (e *Evaluator) evalJobCount(body []byte, now time.Time) error {
	t := wire.NewTokenizer(body)
	v, err := t.Uint()
	if err != nil {
		return err
	}
	if err := e.lists.AttachJobs(int(v)); err != nil {
		return err
	}
	e.node.SetJobsCount(int(v))
	if v == 0 {
		return e.lists.MergeJobs(now, e.retention)
	}
	return nil
}

// evalRadar handles SR: a monotonic counter followed by up to LogFifoLength
// raw severity bytes, each transmitted as code+' '.
func (e *Evaluator) evalRadar(body []byte) error {
	sp := bytes.IndexByte(body, ' ')
	if sp < 0 {
		return &wire.ParseError{Want: "counter and severity bytes", Got: clip(body)}
	}
	t := wire.NewTokenizer(body[:sp])
	counter, err := t.Uint()
	if err != nil {
		return err
	}
	raw := body[sp+1:]
	if len(raw) > statusmap.LogFifoLength {
		raw = raw[:statusmap.LogFifoLength]
	}

	fifo := e.node.SeverityFifo()
	base := statusmap.LogFifoLength - len(raw)
	for i, c := range raw {
		fifo[base+i] = e.decodeSeverity(c)
	}
	e.node.SetFifoCounter(counter)
	return nil
}

// evalHistory handles RH/SH/TH. The body is the raw severity ring, newest
// at the highest index. A ring shorter than the fixed length past the top
// of the hour means the remote shifted before we did, so the local ring is
// shifted inline first (once per hour at most).
func (e *Evaluator) evalHistory(body []byte, r statusmap.HistoryRing, now time.Time) error {
	if len(body) > statusmap.LogHistoryLength {
		return &wire.ParseError{
			Want: "history ring",
			Got:  clip(body),
		}
	}
	if len(body) < statusmap.LogHistoryLength {
		e.shifter.ShiftInline(now, e.node, r)
	}

	ring := e.node.History(r)
	base := statusmap.LogHistoryLength - len(body)
	for i, c := range body {
		ring[base+i] = e.decodeSeverity(c)
	}
	return nil
}

func (e *Evaluator) decodeSeverity(c byte) byte {
	if c < ' ' {
		e.logger.Info("severity byte below encoding base", "byte", int(c))
		return statusmap.NoInformation
	}
	code := c - ' '
	if code >= statusmap.SeverityPaletteSize {
		e.logger.Info("severity code outside palette", "code", int(code))
		return statusmap.NoInformation
	}
	return code
}

func (e *Evaluator) evalErrorList(body []byte) (int, error) {
	hosts := e.lists.Hosts()
	if hosts == nil {
		return wire.UnknownMessage, nil
	}
	t := wire.NewTokenizer(body)
	idx, err := t.Uint()
	if err != nil {
		return wire.Success, err
	}
	if int(idx) >= hosts.Count() {
		e.logger.Info("host index past count", "index", idx, "count", hosts.Count())
		return wire.UnknownMessage, nil
	}
	var codes []byte
	for t.More() && len(codes) < alists.ErrorHistoryLength {
		v, err := t.Uint()
		if err != nil {
			return wire.Success, err
		}
		codes = append(codes, byte(v))
	}
	hosts.Entry(int(idx)).SetErrorHistory(codes)
	return wire.Success, nil
}

func (e *Evaluator) evalHostList(body []byte) (int, error) {
	hosts := e.lists.Hosts()
	if hosts == nil {
		return wire.UnknownMessage, nil
	}
	t := wire.NewTokenizer(body)
	idx, err := t.Uint()
	if err != nil {
		return wire.Success, err
	}
	if int(idx) >= hosts.Count() {
		e.logger.Info("host index past count", "index", idx, "count", hosts.Count())
		return wire.UnknownMessage, nil
	}
	alias, err := t.Field()
	if err != nil {
		return wire.Success, err
	}
	var real1, real2 []byte
	if t.More() {
		real1, _ = t.Field()
	}
	if t.More() {
		real2, _ = t.Field()
	}
	hosts.Entry(int(idx)).Set(string(alias), string(real1), string(real2))
	return wire.Success, nil
}

func (e *Evaluator) evalDirList(body []byte, now time.Time) (int, error) {
	dirs := e.lists.Dirs()
	if dirs == nil {
		return wire.UnknownMessage, nil
	}
	t := wire.NewTokenizer(body)
	idx, err := t.Uint()
	if err != nil {
		return wire.Success, err
	}
	if int(idx) >= dirs.Count() {
		e.logger.Info("directory index past count", "index", idx, "count", dirs.Count())
		return wire.UnknownMessage, nil
	}
	dirID, err := t.Hex()
	if err != nil {
		return wire.Success, err
	}
	alias, err := t.Field()
	if err != nil {
		return wire.Success, err
	}
	name, err := t.Field()
	if err != nil {
		return wire.Success, err
	}
	var orig, homeUser []byte
	homeLen := uint64(0)
	if t.More() {
		orig, _ = t.Field()
	}
	if t.More() {
		homeUser, _ = t.Field()
		homeLen, err = t.Hex()
		if err != nil {
			return wire.Success, err
		}
	}

	dirs.Entry(int(idx)).Set(uint32(dirID), string(alias), string(name),
		string(orig), string(homeUser), int(homeLen), e.node.LastDataTime())

	if int(idx) == dirs.Count()-1 {
		if err := e.lists.MergeDirs(now, e.retention); err != nil {
			return wire.Success, err
		}
	}
	return wire.Success, nil
}

func (e *Evaluator) evalJobList(body []byte, now time.Time) (int, error) {
	jobs := e.lists.Jobs()
	if jobs == nil {
		return wire.UnknownMessage, nil
	}
	t := wire.NewTokenizer(body)
	idx, err := t.Uint()
	if err != nil {
		return wire.Success, err
	}
	if int(idx) >= jobs.Count() {
		e.logger.Info("job index past count", "index", idx, "count", jobs.Count())
		return wire.UnknownMessage, nil
	}
	jobID, err := t.Hex()
	if err != nil {
		return wire.Success, err
	}
	dirID, err := t.Hex()
	if err != nil {
		return wire.Success, err
	}
	loptions, err := t.Hex()
	if err != nil {
		return wire.Success, err
	}
	prio, err := t.Field()
	if err != nil {
		return wire.Success, err
	}
	if len(prio) != 1 {
		return wire.Success, &wire.ParseError{Want: "priority char", Got: string(prio)}
	}

	recipient := wire.DeblurRecipient(bytes.Clone(t.Rest()))
	truncated := jobs.Entry(int(idx)).Set(uint32(jobID), uint32(dirID),
		int(loptions), prio[0], recipient, e.node.LastDataTime())
	if truncated {
		e.logger.Info("recipient truncated", "job", jobID,
			"limit", alists.MaxRecipientLength-1)
	}

	if int(idx) == jobs.Count()-1 {
		if err := e.lists.MergeJobs(now, e.retention); err != nil {
			return wire.Success, err
		}
	}
	return wire.Success, nil
}

func (e *Evaluator) evalTypesize(body []byte) error {
	if err := e.lists.AttachTypesize(); err != nil {
		return err
	}
	t := wire.NewTokenizer(body)
	var vals []int32
	for t.More() && len(vals) < alists.TypesizeElements {
		v, err := t.Int()
		if err != nil {
			return err
		}
		vals = append(vals, int32(v))
	}
	e.lists.Typesize().SetAll(vals)
	return nil
}

func (e *Evaluator) evalCapabilities(body []byte) error {
	t := wire.NewTokenizer(body)
	v, err := t.Uint()
	if err != nil {
		return err
	}
	e.node.SetCapabilities(uint32(v))
	return nil
}

func (e *Evaluator) setChecked(body []byte, max int, set func(string), what string) {
	if len(body) >= max {
		e.logger.Info(what+" truncated", "length", len(body), "limit", max-1)
		body = body[:max-1]
	}
	set(string(body))
}

func clip(b []byte) string {
	const max = 64
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
