package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/geomsync/geomsync/internal/metrics"
	"github.com/geomsync/geomsync/internal/state"
	"github.com/geomsync/geomsync/internal/synth"
	"github.com/geomsync/geomsync/internal/util"
)

// SizeModel estimates serialized message sizes for batch derivation.
type SizeModel struct {
	MaxMessageBytes int
	DisplayBytes    int
	WindowBytes     int
	RectBytes       int
}

// Options control batch sizing and incremental keying.
type Options struct {
	DefaultBatchSize    int
	DefaultHotAreaCount int
	DefaultDisplayID    uint64
	Size                SizeModel
}

// DefaultOptions returns the nominal protocol limits.
func DefaultOptions() Options {
	return Options{
		DefaultBatchSize:    15,
		DefaultHotAreaCount: 10,
		Size: SizeModel{
			MaxMessageBytes: 16 * 1024,
			DisplayBytes:    128,
			WindowBytes:     512,
			RectBytes:       16,
		},
	}
}

// Outcome is the result of one Deliver call.
type Outcome int

const (
	OutcomeSkipped Outcome = iota + 1
	OutcomeDelivered
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDelivered:
		return "delivered"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Report summarizes one Deliver call.
type Report struct {
	Outcome Outcome
	Batches int
	Records int
	Err     error
}

var snapshotOpts = []cmp.Option{cmpopts.EquateEmpty()}

// Dispatcher compares each synthesized set with the previous one and delivers
// changed sets in size-bounded batches. It is not safe for concurrent use; the
// engine calls it from its single worker.
type Dispatcher struct {
	router  InputRouter
	opts    Options
	logger  *util.Logger
	metrics *metrics.Collector

	last    synth.Result
	hasLast bool
}

// New returns a dispatcher delivering to router.
func New(router InputRouter, opts Options, logger *util.Logger, collector *metrics.Collector) *Dispatcher {
	if logger == nil {
		logger = util.NewLogger(util.LevelInfo)
	}
	d := &Dispatcher{router: router, logger: logger, metrics: collector}
	d.SetOptions(opts)
	return d
}

// SetOptions replaces the batch options. The snapshot is kept.
func (d *Dispatcher) SetOptions(opts Options) {
	if opts.DefaultBatchSize <= 0 {
		opts.DefaultBatchSize = DefaultOptions().DefaultBatchSize
	}
	if opts.DefaultHotAreaCount <= 0 {
		opts.DefaultHotAreaCount = DefaultOptions().DefaultHotAreaCount
	}
	d.opts = opts
}

// Deliver sends res unless it equals the previous set and unconditional is
// false. The previous set is replaced in every case.
func (d *Dispatcher) Deliver(ctx context.Context, res synth.Result, unconditional bool) Report {
	unchanged := d.hasLast && cmp.Equal(d.last, res, snapshotOpts...)
	d.last, d.hasLast = res, true
	if unchanged && !unconditional {
		return Report{Outcome: OutcomeSkipped}
	}
	if d.router == nil {
		return Report{Outcome: OutcomeFailed, Err: state.ErrUnavailable}
	}
	msgs := d.Plan(res)
	report := Report{Outcome: OutcomeDelivered, Records: len(res.Windows)}
	if err := d.send(ctx, msgs, &report); err != nil {
		d.logger.Errorf("deliver records: %v", err)
		d.metrics.Inc(metrics.DeliveryErrors)
		report.Outcome = OutcomeFailed
		report.Err = err
		return report
	}
	d.metrics.Add(metrics.Batches, uint64(report.Batches))
	d.metrics.Add(metrics.Records, uint64(report.Records))
	for id, n := range recordsPerDisplay(res) {
		d.metrics.RecordDelivery(id, n)
	}
	return report
}

func (d *Dispatcher) send(ctx context.Context, msgs []Message, report *Report) error {
	if br, ok := d.router.(BatchRouter); ok {
		err := br.DeliverBatch(ctx, msgs)
		if err == nil {
			report.Batches = len(msgs)
			return nil
		}
		if !errors.Is(err, ErrBatchUnsupported) {
			return fmt.Errorf("deliver framed batch: %w", err)
		}
	}
	for i, m := range msgs {
		if err := m.Send(ctx, d.router); err != nil {
			return fmt.Errorf("deliver %s batch %d/%d: %w", m.Kind, i+1, len(msgs), err)
		}
		report.Batches++
	}
	return nil
}

// Plan partitions res into messages. The first message replaces everything;
// the rest are incremental under the default display. Only the last record of
// the cycle is marked ADD_END. res is not modified.
func (d *Dispatcher) Plan(res synth.Result) []Message {
	if len(res.Windows) == 0 {
		return []Message{{Kind: KindReplaceAll, Displays: res.Displays}}
	}
	windows := append([]synth.WindowRecord(nil), res.Windows...)
	var msgs []Message
	for start := 0; start < len(windows); {
		size := d.BatchSize(windows[start], len(res.Displays))
		end := util.Min(start+size, len(windows))
		batch := windows[start:end:end]
		if start == 0 {
			markAll(batch, synth.ActionAdd)
			msgs = append(msgs, Message{Kind: KindReplaceAll, Displays: res.Displays, Windows: batch})
		} else {
			markAll(batch, synth.ActionChange)
			msgs = append(msgs, Message{Kind: KindIncremental, DisplayID: d.opts.DefaultDisplayID, Windows: batch})
		}
		start = end
	}
	windows[len(windows)-1].Action = synth.ActionAddEnd
	return msgs
}

// BatchSize returns the number of records for a batch led by lead. Leads with
// more hot areas than the inline default, or with embedded records, get a size
// derived from the message size model.
func (d *Dispatcher) BatchSize(lead synth.WindowRecord, displays int) int {
	nominal := d.opts.DefaultBatchSize
	if lead.HotAreaCount() <= d.opts.DefaultHotAreaCount && len(lead.EmbeddedRecords) == 0 {
		return nominal
	}
	m := d.opts.Size
	perWindow := recordBytes(m, lead)
	if perWindow <= 0 || m.MaxMessageBytes <= 0 {
		return nominal
	}
	available := m.MaxMessageBytes - displays*m.DisplayBytes
	return util.Clamp(available/perWindow, 1, nominal)
}

// recordBytes estimates the encoded size of r, nested records included.
func recordBytes(m SizeModel, r synth.WindowRecord) int {
	n := m.WindowBytes + 2*r.HotAreaCount()*m.RectBytes
	for _, e := range r.EmbeddedRecords {
		n += recordBytes(m, e)
	}
	return n
}

func markAll(records []synth.WindowRecord, action synth.Action) {
	for i := range records {
		records[i].Action = action
	}
}

func recordsPerDisplay(res synth.Result) map[uint64]int {
	counts := make(map[uint64]int)
	for _, r := range res.Windows {
		counts[r.DisplayID]++
	}
	return counts
}
