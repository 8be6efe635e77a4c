package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/geomsync/geomsync/internal/engine"
	"github.com/geomsync/geomsync/internal/synth"
	"github.com/geomsync/geomsync/internal/util"
)

// cycleWait bounds how long an event may take to produce its cycle.
const cycleWait = 5 * time.Second

// benchRouter counts the messages the dispatcher hands to the input router.
type benchRouter struct {
	mu       sync.Mutex
	messages int
	records  int
}

func (r *benchRouter) ReplaceAll(_ context.Context, _ []synth.DisplayRecord, windows []synth.WindowRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages++
	r.records += len(windows)
	return nil
}

func (r *benchRouter) ApplyIncremental(_ context.Context, _ uint64, windows []synth.WindowRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages++
	r.records += len(windows)
	return nil
}

func (r *benchRouter) Dispatches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages
}

type replayOptions struct {
	engine        engine.Options
	logger        *util.Logger
	respectDelays bool
	capture       bool
	trace         bool
	explain       bool
}

type iterationResult struct {
	duration   time.Duration
	dispatches int
	events     []time.Duration
	traces     []benchEventTrace
	cycles     benchCycleStats
}

// replayIteration runs one fresh engine over the fixture. Each event is
// applied to the directory, fed to the engine, and timed until the cycle it
// triggers completes.
func replayIteration(ctx context.Context, fixture benchFixture, opts replayOptions, iteration int) (iterationResult, error) {
	iterationStart := time.Now()
	dir := fixture.newDirectory()
	router := &benchRouter{}
	eng := engine.New(dir, nil, router, opts.engine, opts.logger, nil)
	cycles := make(chan engine.CycleRecord, 64)
	eng.OnCycle(func(rec engine.CycleRecord) {
		select {
		case cycles <- rec:
		default:
		}
	})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- eng.Run(runCtx) }()
	defer func() {
		cancel()
		<-done
		eng.Close()
	}()

	if _, err := eng.SyncNow(ctx, engine.CycleModeAttach); err != nil {
		return iterationResult{}, fmt.Errorf("initial attach: %w", err)
	}
	drain(cycles)

	var res iterationResult
	if opts.capture {
		res.events = make([]time.Duration, 0, len(fixture.Events))
		if opts.trace {
			res.traces = make([]benchEventTrace, 0, len(fixture.Events))
		}
	}
	baseline := router.Dispatches()

	for idx, ev := range fixture.Events {
		if opts.respectDelays && ev.Delay > 0 {
			time.Sleep(ev.Delay)
		}
		if err := dir.apply(ev.Event); err != nil {
			return iterationResult{}, fmt.Errorf("event %d (%s): %w", idx+1, ev.Event.Kind, err)
		}
		before := router.Dispatches()
		start := time.Now()
		if err := eng.ApplyEvent(ev.Event); err != nil {
			return iterationResult{}, fmt.Errorf("apply %s: %w", ev.Event.Kind, err)
		}
		var rec engine.CycleRecord
		if triggersCycle(ev.Event) {
			var err error
			if rec, err = awaitCycle(ctx, cycles); err != nil {
				return iterationResult{}, fmt.Errorf("event %d (%s): %w", idx+1, ev.Event.Kind, err)
			}
			res.cycles.add(rec.Outcome)
		}
		elapsed := time.Since(start)

		if opts.explain && rec.ID != "" {
			payload := strings.TrimSpace(ev.Event.Payload)
			opts.logger.Infof("explain iteration %d event %d (%s %s) cycle %s mode=%s outcome=%s windows=%d batches=%d",
				iteration, idx+1, ev.Event.Kind, payload, rec.ID, rec.Mode, rec.Outcome, rec.Windows, rec.Batches)
		}
		if opts.capture {
			res.events = append(res.events, elapsed)
			if opts.trace {
				res.traces = append(res.traces, benchEventTrace{
					Iteration:  iteration,
					EventIndex: idx + 1,
					Kind:       ev.Event.Kind,
					Payload:    ev.Event.Payload,
					DurationMs: toMillis(elapsed),
					Dispatches: router.Dispatches() - before,
					Outcome:    string(rec.Outcome),
				})
			}
		}
	}

	res.duration = time.Since(iterationStart)
	res.dispatches = router.Dispatches() - baseline
	return res, nil
}

func awaitCycle(ctx context.Context, cycles <-chan engine.CycleRecord) (engine.CycleRecord, error) {
	timer := time.NewTimer(cycleWait)
	defer timer.Stop()
	select {
	case rec := <-cycles:
		return rec, nil
	case <-timer.C:
		return engine.CycleRecord{}, fmt.Errorf("no cycle within %s", cycleWait)
	case <-ctx.Done():
		return engine.CycleRecord{}, ctx.Err()
	}
}

func drain(cycles <-chan engine.CycleRecord) {
	for {
		select {
		case <-cycles:
		default:
			return
		}
	}
}
