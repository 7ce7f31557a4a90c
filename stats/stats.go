package stats

import (
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/siddontang/go-log/log"
)

type Stats struct {
	ScannedRows,
	PublishedEvents,
	PublishFailures,
	ScanFailures,
	SkippedRows,
	CheckpointFailures,
	AppliedEvents,
	ApplyFailures,
	MalformedEvents,
	UnknownActions,
	UpdateFallbacks,
	DeleteNoops,
	StaleEvents uint64

	promScannedRows,
	promPublishedEvents,
	promPublishFailures,
	promScanFailures,
	promSkippedRows,
	promCheckpointFailures,
	promAppliedEvents,
	promApplyFailures,
	promMalformedEvents,
	promUnknownActions,
	promUpdateFallbacks,
	promDeleteNoops,
	promStaleEvents prometheus.Counter

	promWatermark prometheus.Gauge
}

func newPrometheusCounter(name, description string, testing bool) prometheus.Counter {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: fmt.Sprintf("trickle_%s", name),
		Help: description,
	})

	if !testing {
		prometheus.MustRegister(counter)
	}

	return counter
}

func NewStats(testing bool) *Stats {
	watermark := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trickle_tailer_watermark",
		Help: "Highest change log sequence the tailer has published",
	})

	if !testing {
		prometheus.MustRegister(watermark)
	}

	return &Stats{
		promScannedRows:        newPrometheusCounter("scanned_rows", "Total number of change log rows read by the tailer", testing),
		promPublishedEvents:    newPrometheusCounter("published_events", "Total number of change events acknowledged by the channel", testing),
		promPublishFailures:    newPrometheusCounter("publish_failures", "Total number of change events the channel failed to accept", testing),
		promScanFailures:       newPrometheusCounter("scan_failures", "Total number of scans abandoned because the change log couldn't be read", testing),
		promSkippedRows:        newPrometheusCounter("skipped_rows", "Total number of change log rows skipped because they couldn't be turned into change events", testing),
		promCheckpointFailures: newPrometheusCounter("checkpoint_failures", "Total number of watermark checkpoints that failed to persist", testing),
		promAppliedEvents:      newPrometheusCounter("applied_events", "Total number of change events applied to the replica", testing),
		promApplyFailures:      newPrometheusCounter("apply_failures", "Total number of change events skipped because the replica write failed", testing),
		promMalformedEvents:    newPrometheusCounter("malformed_events", "Total number of deliveries skipped because they couldn't be decoded", testing),
		promUnknownActions:     newPrometheusCounter("unknown_actions", "Total number of change events skipped because of an unknown action", testing),
		promUpdateFallbacks:    newPrometheusCounter("update_fallbacks", "Total number of updates applied as inserts because the replica row was missing", testing),
		promDeleteNoops:        newPrometheusCounter("delete_noops", "Total number of deletes for rows already absent from the replica", testing),
		promStaleEvents:        newPrometheusCounter("stale_events", "Total number of change events skipped because a later one for the key was already applied", testing),
		promWatermark:          watermark,
	}
}

func (s *Stats) AddScanned(n uint64) {
	atomic.AddUint64(&s.ScannedRows, n)
	s.promScannedRows.Add(float64(n))
}

func (s *Stats) IncrementPublished() {
	s.incrementStat(&s.PublishedEvents)
	s.promPublishedEvents.Add(1)
}

func (s *Stats) IncrementPublishFailures() {
	s.incrementStat(&s.PublishFailures)
	s.promPublishFailures.Add(1)
}

func (s *Stats) IncrementScanFailures() {
	s.incrementStat(&s.ScanFailures)
	s.promScanFailures.Add(1)
}

func (s *Stats) IncrementSkippedRows() {
	s.incrementStat(&s.SkippedRows)
	s.promSkippedRows.Add(1)
}

func (s *Stats) IncrementCheckpointFailures() {
	s.incrementStat(&s.CheckpointFailures)
	s.promCheckpointFailures.Add(1)
}

func (s *Stats) IncrementApplied() {
	s.incrementStat(&s.AppliedEvents)
	s.promAppliedEvents.Add(1)
}

func (s *Stats) IncrementApplyFailures() {
	s.incrementStat(&s.ApplyFailures)
	s.promApplyFailures.Add(1)
}

func (s *Stats) IncrementMalformed() {
	s.incrementStat(&s.MalformedEvents)
	s.promMalformedEvents.Add(1)
}

func (s *Stats) IncrementUnknownActions() {
	s.incrementStat(&s.UnknownActions)
	s.promUnknownActions.Add(1)
}

func (s *Stats) IncrementUpdateFallbacks() {
	s.incrementStat(&s.UpdateFallbacks)
	s.promUpdateFallbacks.Add(1)
}

func (s *Stats) IncrementDeleteNoops() {
	s.incrementStat(&s.DeleteNoops)
	s.promDeleteNoops.Add(1)
}

func (s *Stats) IncrementStaleEvents() {
	s.incrementStat(&s.StaleEvents)
	s.promStaleEvents.Add(1)
}

func (s *Stats) SetWatermark(sequence int64) {
	s.promWatermark.Set(float64(sequence))
}

func (s *Stats) incrementStat(counter *uint64) {
	atomic.AddUint64(counter, 1)
}

// Load reads a counter while the loops may still be writing it.
func Load(counter *uint64) uint64 {
	return atomic.LoadUint64(counter)
}

func (s *Stats) Print() {
	log.Infoln(Load(&s.ScannedRows), "scanned change log rows")
	log.Infoln(Load(&s.PublishedEvents), "published events")
	log.Infoln(Load(&s.PublishFailures), "failed publishes")
	log.Infoln(Load(&s.ScanFailures), "failed scans")
	log.Infoln(Load(&s.SkippedRows), "skipped change log rows")
	log.Infoln(Load(&s.CheckpointFailures), "failed checkpoints")
	log.Infoln(Load(&s.AppliedEvents), "applied events")
	log.Infoln(Load(&s.ApplyFailures), "failed applies")
	log.Infoln(Load(&s.MalformedEvents), "skipped malformed events")
	log.Infoln(Load(&s.UnknownActions), "skipped unknown actions")
	log.Infoln(Load(&s.UpdateFallbacks), "updates applied as inserts")
	log.Infoln(Load(&s.DeleteNoops), "deletes of absent rows")
	log.Infoln(Load(&s.StaleEvents), "skipped stale events")
}
