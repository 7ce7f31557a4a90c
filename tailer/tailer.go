// Package tailer turns new change log rows into change events on the
// channel. The watermark only ever moves past events the channel has
// acknowledged, and it is checkpointed so a restart picks up from there.
package tailer

import (
	"context"
	"time"

	"bigcartel/trickle/changelog"
	"bigcartel/trickle/channel"
	"bigcartel/trickle/checkpoint"
	"bigcartel/trickle/stats"

	"github.com/pkg/errors"
	"github.com/siddontang/go-log/log"
	"go.uber.org/atomic"
)

type Config struct {
	Interval time.Duration
	// BatchSize caps rows per scan, 0 reads everything above the watermark.
	BatchSize      int
	CheckpointName string
}

type PublishResult struct {
	Event changelog.ChangeEvent
	Err   error
	// Skipped rows never reach the channel. The watermark still moves past
	// them since reading them again would fail the same way.
	Skipped bool
}

type ScanResult struct {
	Events []Row
	// Results has one entry per publish attempted. Publishing stops at the
	// first failure, so it can be shorter than Events.
	Results   []PublishResult
	Watermark int64
}

func (r ScanResult) Published() int {
	n := 0
	for _, p := range r.Results {
		if p.Err == nil {
			n++
		}
	}

	return n
}

type Tailer struct {
	source      Reader
	publisher   channel.Publisher
	checkpoints checkpoint.Store
	stats       *stats.Stats
	cfg         Config
	watermark   *atomic.Int64
}

func New(source Reader, publisher channel.Publisher, checkpoints checkpoint.Store, s *stats.Stats, cfg Config) *Tailer {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}

	return &Tailer{
		source:      source,
		publisher:   publisher,
		checkpoints: checkpoints,
		stats:       s,
		cfg:         cfg,
		watermark:   atomic.NewInt64(0),
	}
}

func (t *Tailer) Watermark() int64 {
	return t.watermark.Load()
}

// Restore loads the last checkpointed watermark. Without it the tailer
// starts from zero and republishes the whole change log.
func (t *Tailer) Restore(ctx context.Context) error {
	sequence, err := t.checkpoints.Load(ctx, t.cfg.CheckpointName)
	if err != nil {
		return errors.Wrap(err, "unable to restore tailer watermark")
	}

	t.watermark.Store(sequence)
	t.stats.SetWatermark(sequence)
	log.Infof("tailer resuming after sequence %d", sequence)

	return nil
}

// Scan reads everything above the watermark, publishes it in order and
// advances the watermark to the last event the channel accepted. A read
// failure leaves the watermark alone so the next scan retries the same rows.
// Rows that can't be encoded are logged, counted and stepped over.
func (t *Tailer) Scan(ctx context.Context) (ScanResult, error) {
	watermark := t.watermark.Load()
	result := ScanResult{Watermark: watermark}

	events, err := t.source.ReadSince(ctx, watermark, t.cfg.BatchSize)
	if err != nil {
		t.stats.IncrementScanFailures()
		return result, errors.Wrap(err, "unable to scan change log")
	}

	t.stats.AddScanned(uint64(len(events)))
	result.Events = events

	for _, r := range events {
		e := r.ChangeEvent

		payload, err := t.encode(r)
		if err != nil {
			t.stats.IncrementSkippedRows()
			log.Errorf("skipping change log row %d: %v", e.Sequence, err)
			result.Results = append(result.Results, PublishResult{Event: e, Err: err, Skipped: true})
			result.Watermark = e.Sequence
			continue
		}

		err = t.publisher.Publish(ctx, e.PartitionKey(), payload)
		result.Results = append(result.Results, PublishResult{Event: e, Err: err})

		if err != nil {
			// Later events may share a key with this one, publishing them
			// now would let them overtake it.
			t.stats.IncrementPublishFailures()
			log.Errorf("unable to publish %s, holding watermark at %d: %v", e, result.Watermark, err)
			break
		}

		t.stats.IncrementPublished()
		log.Debugf("published %s checksum %d", e, e.Snapshot.Checksum())
		result.Watermark = e.Sequence
	}

	if result.Watermark > watermark {
		t.advance(ctx, result.Watermark)
	}

	return result, nil
}

func (t *Tailer) encode(r Row) ([]byte, error) {
	if r.Err != nil {
		return nil, r.Err
	}

	return changelog.Marshal(r.ChangeEvent)
}

func (t *Tailer) advance(ctx context.Context, sequence int64) {
	t.watermark.Store(sequence)
	t.stats.SetWatermark(sequence)

	// The events are already on the channel. If this save is lost a restart
	// republishes them, which the apply engine absorbs.
	if err := t.checkpoints.Save(ctx, t.cfg.CheckpointName, sequence); err != nil {
		t.stats.IncrementCheckpointFailures()
		log.Errorf("unable to checkpoint watermark %d: %v", sequence, err)
	}
}

// Run scans every Interval until ctx is cancelled. Cancellation is only
// looked at between scans; a scan that has started publishes its whole
// batch first.
func (t *Tailer) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	log.Infof("tailing change log every %s", t.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			log.Infof("tailer stopping at watermark %d", t.Watermark())
			return nil
		case <-ticker.C:
		}

		result, err := t.Scan(context.WithoutCancel(ctx))
		if err != nil {
			log.Errorf("%v, retrying from %d next tick", err, result.Watermark)
			continue
		}

		if len(result.Events) > 0 {
			log.Infof("published %d of %d change events, watermark %d",
				result.Published(), len(result.Events), result.Watermark)
		}
	}
}
