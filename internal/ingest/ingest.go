// Package ingest implements the footprint processing pipeline: persist the
// raw footprint, deduplicate error footprints into incidences, and drive
// the notification fan-out when the gate allows it.
package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/insiderhq/insider/internal/dispatch"
	"github.com/insiderhq/insider/internal/errors"
	"github.com/insiderhq/insider/internal/footprint"
	"github.com/insiderhq/insider/internal/incidence"
)

// Notifier drives the integration fan-out for one footprint.
// *dispatch.Dispatcher is the production implementation.
type Notifier interface {
	Dispatch(ctx context.Context, fp *footprint.Footprint, title string) (dispatch.Result, error)
}

// Pipeline processes one footprint payload at a time. It is safe for
// concurrent use by multiple queue workers.
type Pipeline struct {
	store    *incidence.Store
	notifier Notifier
	cooldown atomic.Int64
	logger   zerolog.Logger
	metrics  *PipelineMetrics
}

// NewPipeline wires the pipeline. cooldown is the minimum interval between
// repeat notifications for the same incidence.
func NewPipeline(store *incidence.Store, notifier Notifier, cooldown time.Duration, logger zerolog.Logger) *Pipeline {
	p := &Pipeline{
		store:    store,
		notifier: notifier,
		logger:   logger,
		metrics:  Metrics(),
	}
	p.cooldown.Store(int64(cooldown))
	return p
}

// SetCooldown applies a new cooldown, used by config hot-reload.
func (p *Pipeline) SetCooldown(cooldown time.Duration) {
	p.cooldown.Store(int64(cooldown))
}

// Ingest runs the full pipeline for one raw payload. Every footprint is
// persisted; only error footprints (status >= 400) go through
// fingerprinting, deduplication and the notification gate. Integration
// failures during fan-out are absorbed there and never fail the ingest.
func (p *Pipeline) Ingest(ctx context.Context, payload map[string]any) error {
	start := time.Now()
	fp := footprint.FromPayload(payload)

	if !fp.IsError() {
		if err := p.store.InsertFootprint(fp); err != nil {
			p.metrics.observeFootprint("error")
			return errors.WrapPersistenceError("insert_footprint", err)
		}
		p.metrics.observeFootprint("ok")
		p.metrics.observeDuration(time.Since(start).Seconds())
		return nil
	}

	// Footprint insert, incidence upsert, back-link and the notified mark
	// commit or roll back together; a retried payload never leaves an
	// orphan footprint behind. The fan-out stays outside the transaction.
	fingerprint := footprint.Fingerprint(fp)
	rec, err := p.store.RecordError(fp, fingerprint, time.Now().UTC(), time.Duration(p.cooldown.Load()))
	if err != nil {
		p.metrics.observeFootprint("error")
		return errors.WrapPersistenceError("record_footprint", err)
	}
	p.metrics.observeFootprint("error_footprint")

	inc, decision := rec.Incidence, rec.Decision
	if rec.Created {
		p.metrics.observeIncidenceCreated()
		p.logger.Info().
			Int64("incidenceId", inc.ID).
			Str("fingerprint", fingerprint).
			Str("title", inc.Title).
			Msg("New incidence opened")
	}

	if !decision.Notify {
		p.metrics.observeNotification("suppressed")
		p.logger.Debug().
			Int64("incidenceId", inc.ID).
			Str("reason", decision.Reason).
			Msg("Notification suppressed")
		p.metrics.observeDuration(time.Since(start).Seconds())
		return nil
	}
	if decision.Reopen {
		p.logger.Info().Int64("incidenceId", inc.ID).Msg("Resolved incidence reopened by regression")
	}

	result, err := p.notifier.Dispatch(ctx, fp, inc.Title)
	if err != nil {
		p.metrics.observeNotification("failed")
		return err
	}

	p.metrics.observeNotification("sent")
	p.metrics.observeBackendFailures(result.Failed)
	p.metrics.observeDuration(time.Since(start).Seconds())

	p.logger.Info().
		Int64("incidenceId", inc.ID).
		Str("reason", decision.Reason).
		Int("backends", result.Ran).
		Int("backendFailures", result.Failed).
		Msg("Notification fan-out complete")
	return nil
}
