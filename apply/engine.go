// Package apply consumes change events and replays them against the
// replica. Applying is idempotent: an event at or below the last sequence
// applied for its key is skipped, updates of missing rows insert them and
// deletes of missing rows succeed.
package apply

import (
	"context"
	"strings"
	"time"

	"bigcartel/trickle/changelog"
	"bigcartel/trickle/channel"
	"bigcartel/trickle/stats"

	"github.com/pkg/errors"
	"github.com/siddontang/go-log/log"
)

// AckPolicy decides when a delivery is committed back to the channel.
type AckPolicy string

const (
	// AckAfterApply commits once the apply attempt returned. A crash in
	// between redelivers the event.
	AckAfterApply AckPolicy = "after-apply"
	// AckBeforeApply commits as soon as the event is fetched. A crash in
	// between loses the event.
	AckBeforeApply AckPolicy = "before-apply"
)

func ParseAckPolicy(s string) (AckPolicy, error) {
	switch p := AckPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case AckAfterApply, AckBeforeApply:
		return p, nil
	case "":
		return AckAfterApply, nil
	default:
		return "", errors.Errorf("unknown ack policy %q, expected %s or %s", s, AckAfterApply, AckBeforeApply)
	}
}

type Config struct {
	AckPolicy         AckPolicy
	RetryReadInterval time.Duration
}

type Engine struct {
	replica Replica
	stats   *stats.Stats
	cfg     Config
}

func NewEngine(replica Replica, s *stats.Stats, cfg Config) *Engine {
	if cfg.AckPolicy == "" {
		cfg.AckPolicy = AckAfterApply
	}

	if cfg.RetryReadInterval <= 0 {
		cfg.RetryReadInterval = time.Second
	}

	return &Engine{replica: replica, stats: s, cfg: cfg}
}

// Apply performs the mutation for one event in a single replica
// transaction. Unknown actions and stale events leave the replica alone
// and are not errors.
func (e *Engine) Apply(ctx context.Context, event changelog.ChangeEvent) error {
	if !event.Action.Valid() {
		e.stats.IncrementUnknownActions()
		log.Warnf("skipping change event with unknown action %q key=%d seq=%d", event.Action, event.EntityKey, event.Sequence)
		return nil
	}

	applied := false

	err := e.replica.Within(ctx, func(w Writer) error {
		last, err := w.AppliedSequence(ctx, event.EntityKey)
		if err != nil {
			return err
		}

		if event.Sequence <= last {
			e.stats.IncrementStaleEvents()
			log.Debugf("skipping %s, sequence %d already applied", event, last)
			return nil
		}

		if err := e.mutate(ctx, w, event); err != nil {
			return err
		}

		applied = true

		return w.MarkApplied(ctx, event.EntityKey, event.Sequence)
	})

	if err != nil {
		return err
	}

	if applied {
		e.stats.IncrementApplied()
	}

	return nil
}

func (e *Engine) mutate(ctx context.Context, w Writer, event changelog.ChangeEvent) error {
	switch event.Action {
	case changelog.Create:
		return w.Upsert(ctx, event.EntityKey, event.Snapshot)
	case changelog.Update:
		n, err := w.Update(ctx, event.EntityKey, event.Snapshot)
		if err != nil {
			return err
		}

		if n == 0 {
			// the create hasn't arrived (or never will), insert from the snapshot
			e.stats.IncrementUpdateFallbacks()
			log.Debugf("%s matched no row, inserting", event)
			return w.Upsert(ctx, event.EntityKey, event.Snapshot)
		}

		return nil
	case changelog.Delete:
		n, err := w.Delete(ctx, event.EntityKey)
		if err != nil {
			return err
		}

		if n == 0 {
			e.stats.IncrementDeleteNoops()
			log.Debugf("%s matched no row", event)
		}

		return nil
	default:
		return errors.Errorf("unhandled action %q", event.Action)
	}
}

// Handle decodes and applies one delivery. Nothing it runs into stops the
// engine: malformed payloads are skipped and replica errors are logged with
// the event's key and action, then returned for the caller's information.
func (e *Engine) Handle(ctx context.Context, d channel.Delivery) error {
	event, err := changelog.Unmarshal(d.Value)
	if err != nil {
		e.stats.IncrementMalformed()
		log.Errorf("skipping malformed delivery partition=%d offset=%d key=%s: %v", d.Partition, d.Offset, d.Key, err)
		return nil
	}

	if err := e.Apply(ctx, event); err != nil {
		e.stats.IncrementApplyFailures()
		log.Errorf("unable to apply %s key=%d action=%s: %v", event, event.EntityKey, event.Action, err)
		log.Debugf("failed snapshot checksum for key=%d: %d", event.EntityKey, event.Snapshot.Checksum())
		return err
	}

	log.Debugf("applied %s checksum %d", event, event.Snapshot.Checksum())

	return nil
}

// Run consumes until ctx is cancelled. Deliveries are handled one at a time
// in the order the channel hands them out; a delivery already fetched is
// handled and committed even if ctx is cancelled meanwhile.
func (e *Engine) Run(ctx context.Context, consumer channel.Consumer) error {
	log.Infof("applying change events, ack policy %s", e.cfg.AckPolicy)

	for {
		if ctx.Err() != nil {
			log.Infoln("apply engine stopping")
			return nil
		}

		d, err := consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}

			log.Errorf("unable to read from channel, retrying in %s: %v", e.cfg.RetryReadInterval, err)

			select {
			case <-ctx.Done():
			case <-time.After(e.cfg.RetryReadInterval):
			}

			continue
		}

		e.process(context.WithoutCancel(ctx), consumer, d)
	}
}

func (e *Engine) process(ctx context.Context, consumer channel.Consumer, d channel.Delivery) {
	if e.cfg.AckPolicy == AckBeforeApply {
		e.commit(ctx, consumer, d)
	}

	// already logged and counted
	_ = e.Handle(ctx, d)

	if e.cfg.AckPolicy == AckAfterApply {
		e.commit(ctx, consumer, d)
	}
}

func (e *Engine) commit(ctx context.Context, consumer channel.Consumer, d channel.Delivery) {
	if err := consumer.Commit(ctx, d); err != nil {
		log.Errorf("unable to commit partition=%d offset=%d: %v", d.Partition, d.Offset, err)
	}
}
