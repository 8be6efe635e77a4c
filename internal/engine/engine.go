package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/geomsync/geomsync/internal/dispatch"
	"github.com/geomsync/geomsync/internal/ipc"
	"github.com/geomsync/geomsync/internal/metrics"
	"github.com/geomsync/geomsync/internal/state"
	"github.com/geomsync/geomsync/internal/synth"
	"github.com/geomsync/geomsync/internal/util"
)

// DefaultDebounce is the trailing-edge delay between the first MarkDirty of a
// burst and the cycle it schedules.
const DefaultDebounce = 16 * time.Millisecond

const requestQueueSize = 16

type timer interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) timer

func realAfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

// SubscribeFunc opens the window manager event stream.
type SubscribeFunc func(ctx context.Context, logger *util.Logger) (<-chan ipc.Event, error)

// schedState is the debounce scheduler state held in one atomic.
type schedState int32

const (
	schedIdle schedState = iota
	schedScheduled
	schedRunning
)

func (s schedState) String() string {
	switch s {
	case schedIdle:
		return "idle"
	case schedScheduled:
		return "scheduled"
	case schedRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Options configures the engine and the components it owns.
type Options struct {
	Debounce     time.Duration
	HistoryLimit int
	Synth        synth.Options
	Dispatch     dispatch.Options
}

// DefaultOptions returns the nominal engine configuration.
func DefaultOptions() Options {
	return Options{
		Debounce:     DefaultDebounce,
		HistoryLimit: cycleHistoryLimit,
		Synth:        synth.DefaultOptions(),
		Dispatch:     dispatch.DefaultOptions(),
	}
}

type request struct {
	mode CycleMode
	// reconfigure requests carry new options instead of running a cycle
	opts *Options
	// done receives the record of the cycle the request ran
	done chan CycleRecord
}

// Engine debounces change notifications into synchronization cycles and runs
// them one at a time on its worker.
type Engine struct {
	src     state.DataSource
	secure  *state.SecureSurfaces
	logger  *util.Logger
	metrics *metrics.Collector

	// owned by the worker
	synth      *synth.Synthesizer
	dispatcher *dispatch.Dispatcher

	sched    atomic.Int32
	dirty    atomic.Bool
	debounce atomic.Int64
	queue    chan request
	stopped  chan struct{}
	stopOnce sync.Once
	runs     atomic.Int32

	mu         sync.Mutex
	lastWorld  *state.World
	lastResult synth.Result
	pending    timer
	history    *cycleHistory

	afterFunc afterFunc
	subscribe SubscribeFunc
	onCycle   func(CycleRecord)
	newID     func() string
}

// New creates an engine reading from src and delivering to router.
func New(src state.DataSource, secure *state.SecureSurfaces, router dispatch.InputRouter, opts Options, logger *util.Logger, collector *metrics.Collector) *Engine {
	if logger == nil {
		logger = util.NewLogger(util.LevelInfo)
	}
	if secure == nil {
		secure = state.NewSecureSurfaces()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	e := &Engine{
		src:        src,
		secure:     secure,
		logger:     logger,
		metrics:    collector,
		synth:      synth.New(opts.Synth, logger, collector),
		dispatcher: dispatch.New(router, opts.Dispatch, logger, collector),
		queue:      make(chan request, requestQueueSize),
		stopped:    make(chan struct{}),
		history:    newCycleHistory(opts.HistoryLimit),
		afterFunc:  realAfterFunc,
		newID:      uuid.NewString,
	}
	e.debounce.Store(int64(opts.Debounce))
	return e
}

// SetEventSource installs the event stream consumed by Run.
func (e *Engine) SetEventSource(fn SubscribeFunc) {
	e.subscribe = fn
}

// OnCycle installs fn to be called on the worker after every cycle. It must
// be set before Run.
func (e *Engine) OnCycle(fn func(CycleRecord)) {
	e.onCycle = fn
}

// SecureSurfaces returns the store fed by the compositor boundary.
func (e *Engine) SecureSurfaces() *state.SecureSurfaces {
	return e.secure
}

// MarkDirty records a geometry-relevant change and schedules a cycle after
// the debounce delay unless one is already pending. It never blocks.
func (e *Engine) MarkDirty(windowID int32, kind ChangeKind, flags ChangeFlag) {
	e.dirty.Store(true)
	if e.logger.TraceEnabled() {
		e.trace("change.marked", map[string]any{
			"window": windowID,
			"kind":   kind.String(),
			"flags":  uint32(flags),
		})
	}
	e.arm()
}

func (e *Engine) arm() {
	if !e.sched.CompareAndSwap(int32(schedIdle), int32(schedScheduled)) {
		return
	}
	e.metrics.Inc(metrics.CyclesScheduled)
	delay := time.Duration(e.debounce.Load())
	t := e.afterFunc(delay, e.fire)
	e.mu.Lock()
	e.pending = t
	e.mu.Unlock()
}

// fire runs on the timer goroutine and hands the cycle to the worker.
func (e *Engine) fire() {
	select {
	case e.queue <- request{mode: CycleModeDebounced}:
	case <-e.stopped:
	}
}

// ForceSynchronize enqueues a cycle immediately. Unchanged sets are still
// skipped.
func (e *Engine) ForceSynchronize() {
	e.enqueue(request{mode: CycleModeForced})
}

// Attach enqueues an unconditional delivery of the current set.
func (e *Engine) Attach() {
	e.enqueue(request{mode: CycleModeAttach})
}

// FlushEmpty enqueues an unconditional delivery of the displays with no
// windows.
func (e *Engine) FlushEmpty() {
	e.enqueue(request{mode: CycleModeFlushEmpty})
}

// Reconfigure applies new options on the worker between cycles. The
// dispatcher keeps its snapshot.
func (e *Engine) Reconfigure(opts Options) {
	e.enqueue(request{opts: &opts})
}

func (e *Engine) enqueue(req request) {
	select {
	case e.queue <- req:
	default:
		e.logger.Warnf("request queue full; dropping %s request", req.label())
	}
}

func (r request) label() string {
	if r.opts != nil {
		return "reconfigure"
	}
	return string(r.mode)
}

// SyncNow runs one cycle of the given mode on the worker and waits for it.
func (e *Engine) SyncNow(ctx context.Context, mode CycleMode) (CycleRecord, error) {
	done := make(chan CycleRecord, 1)
	select {
	case e.queue <- request{mode: mode, done: done}:
	case <-ctx.Done():
		return CycleRecord{}, ctx.Err()
	case <-e.stopped:
		return CycleRecord{}, state.ErrUnavailable
	}
	select {
	case rec := <-done:
		return rec, nil
	case <-ctx.Done():
		return CycleRecord{}, ctx.Err()
	}
}

// Run consumes cycle requests and events until ctx is cancelled. Every run
// after the first starts with an attach cycle, since changes raised while the
// event stream was down were never observed.
func (e *Engine) Run(ctx context.Context) error {
	defer e.stop()
	var events <-chan ipc.Event
	if e.subscribe != nil {
		ch, err := e.subscribe(ctx, e.logger)
		if err != nil {
			return fmt.Errorf("subscribe events: %w", err)
		}
		events = ch
	}
	if e.runs.Add(1) > 1 {
		e.logger.Infof("engine restarted; resynchronizing")
		e.Attach()
	}
	if e.dirty.Load() {
		e.arm()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-e.queue:
			e.handle(ctx, req)
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("event stream closed")
			}
			if e.logger.TraceEnabled() {
				e.trace("event.received", map[string]any{"kind": ev.Kind, "payload": ev.Payload})
			}
			if err := e.ApplyEvent(ev); err != nil {
				e.logger.Warnf("ignoring event %s: %v", ev.Kind, err)
			}
		}
	}
}

// Serve lets the engine run under a supervisor.
func (e *Engine) Serve(ctx context.Context) error {
	return e.Run(ctx)
}

func (e *Engine) String() string {
	return "engine"
}

// Close releases timer goroutines blocked on a stopped worker. The engine
// cannot be run again afterwards.
func (e *Engine) Close() {
	e.stopOnce.Do(func() { close(e.stopped) })
}

func (e *Engine) stop() {
	e.mu.Lock()
	if e.pending != nil {
		e.pending.Stop()
		e.pending = nil
	}
	e.mu.Unlock()
	// a supervisor restart gets a fresh worker; keep accepting requests
	e.sched.Store(int32(schedIdle))
}

func (e *Engine) handle(ctx context.Context, req request) {
	if req.opts != nil {
		e.applyOptions(*req.opts)
		return
	}
	debounced := req.mode == CycleModeDebounced
	if debounced {
		e.sched.Store(int32(schedRunning))
		e.mu.Lock()
		e.pending = nil
		e.mu.Unlock()
		e.dirty.Store(false)
	}
	rec := e.synchronize(ctx, req.mode)
	if req.done != nil {
		req.done <- rec
	}
	if debounced {
		e.sched.Store(int32(schedIdle))
		if e.dirty.Load() {
			e.arm()
		}
	}
}

func (e *Engine) applyOptions(opts Options) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	e.debounce.Store(int64(opts.Debounce))
	if opts.HistoryLimit > 0 {
		e.history.resize(opts.HistoryLimit)
	}
	e.synth = synth.New(opts.Synth, e.logger, e.metrics)
	e.dispatcher.SetOptions(opts.Dispatch)
	e.logger.Infof("engine reconfigured (debounce %s)", opts.Debounce)
}

// synchronize snapshots the world, synthesizes records and hands them to the
// dispatcher. Every outcome is recorded in the cycle history.
func (e *Engine) synchronize(ctx context.Context, mode CycleMode) (rec CycleRecord) {
	rec = CycleRecord{ID: e.newID(), Mode: mode, Started: time.Now()}
	defer func() {
		rec.Duration = time.Since(rec.Started)
		e.history.add(rec)
		e.trace("cycle.complete", map[string]any{
			"id":       rec.ID,
			"mode":     string(rec.Mode),
			"outcome":  string(rec.Outcome),
			"windows":  rec.Windows,
			"batches":  rec.Batches,
			"duration": rec.Duration.String(),
		})
		if e.onCycle != nil {
			e.onCycle(rec)
		}
	}()

	world, err := state.NewWorld(ctx, e.src, e.secure)
	if err != nil {
		if errors.Is(err, state.ErrUnavailable) {
			e.logger.Debugf("window directory unavailable; skipping cycle: %v", err)
		} else {
			e.logger.Warnf("snapshot failed; skipping cycle: %v", err)
		}
		e.metrics.Inc(metrics.CyclesNoOp)
		rec.Outcome = CycleOutcomeNoOp
		rec.Error = err.Error()
		return
	}
	e.mu.Lock()
	e.lastWorld = world
	e.mu.Unlock()

	res := e.synth.Build(world)
	if mode == CycleModeFlushEmpty {
		res = res.Empty()
	}
	e.mu.Lock()
	e.lastResult = res
	e.mu.Unlock()
	unconditional := mode == CycleModeAttach || mode == CycleModeFlushEmpty
	report := e.dispatcher.Deliver(ctx, res, unconditional)
	rec.Windows = len(res.Windows)
	rec.Displays = len(res.Displays)
	rec.Batches = report.Batches
	switch report.Outcome {
	case dispatch.OutcomeSkipped:
		e.metrics.Inc(metrics.CyclesSkipped)
		rec.Outcome = CycleOutcomeSkipped
	case dispatch.OutcomeDelivered:
		e.metrics.Inc(metrics.CyclesDelivered)
		rec.Outcome = CycleOutcomeDelivered
	default:
		rec.Outcome = CycleOutcomeFailed
		if report.Err != nil {
			rec.Error = report.Err.Error()
		}
	}
	return rec
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State     string       `json:"state"`
	Dirty     bool         `json:"dirty"`
	Debounce  string       `json:"debounce"`
	Windows   int          `json:"windows"`
	Displays  int          `json:"displays"`
	Secure    int          `json:"secureSurfaces"`
	LastCycle *CycleRecord `json:"lastCycle,omitempty"`
}

// Status reports the scheduler state and the most recent cycle.
func (e *Engine) Status() Status {
	st := Status{
		State:    schedState(e.sched.Load()).String(),
		Dirty:    e.dirty.Load(),
		Debounce: time.Duration(e.debounce.Load()).String(),
		Secure:   e.secure.Len(),
	}
	e.mu.Lock()
	if e.lastWorld != nil {
		st.Windows = len(e.lastWorld.Windows)
		st.Displays = len(e.lastWorld.Displays)
	}
	e.mu.Unlock()
	if last, ok := e.history.last(); ok {
		st.LastCycle = &last
	}
	return st
}

// LastWorld returns a copy of the most recent world snapshot.
func (e *Engine) LastWorld() *state.World {
	e.mu.Lock()
	defer e.mu.Unlock()
	return state.CloneWorld(e.lastWorld)
}

// LastRecords returns the most recently synthesized record set. The dispatcher
// never mutates a result it was handed, so the slices are shared read-only.
func (e *Engine) LastRecords() synth.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastResult
}

// CycleHistory returns completed cycles, oldest first.
func (e *Engine) CycleHistory() []CycleRecord {
	return e.history.snapshot()
}

func (e *Engine) trace(event string, fields map[string]any) {
	if e.logger == nil || !e.logger.TraceEnabled() {
		return
	}
	e.logger.With(fields).Trace(event)
}
