// Package dispatch runs the configured integration backends for one error
// footprint: issue publishers first, human notifiers second, each isolated
// from the failures of the others.
package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/insiderhq/insider/internal/footprint"
	"github.com/insiderhq/insider/internal/integrations"
)

// BackendSource resolves the active backends for a phase in fan-out order.
// *integrations.Registry is the production implementation.
type BackendSource interface {
	Active(phase integrations.Phase) ([]integrations.Backend, error)
}

// Result summarizes one fan-out cycle.
type Result struct {
	Ran    int
	Failed int
	// Context is the final shared state after every backend ran, kept for
	// logging and tests. It does not outlive the cycle.
	Context integrations.Context
}

// Dispatcher owns the fan-out policy. A single instance is shared by all
// ingest workers; it carries no per-cycle state.
type Dispatcher struct {
	source  BackendSource
	timeout atomic.Int64
	logger  zerolog.Logger
}

// New creates a dispatcher. timeout bounds each individual backend run.
func New(source BackendSource, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{source: source, logger: logger}
	d.timeout.Store(int64(timeout))
	return d
}

// SetTimeout applies a new per-backend deadline, used by config hot-reload.
func (d *Dispatcher) SetTimeout(timeout time.Duration) {
	d.timeout.Store(int64(timeout))
}

// Dispatch runs the fan-out for one footprint. Publishers only fire for
// server faults; notifiers fire for every call. Backends run sequentially
// in configured order over a fresh shared context, so a notifier can link
// to issues a publisher created moments earlier. A failing backend is
// logged and skipped; it never stops the chain. The only terminal error is
// being unable to load the backend configuration at all.
func (d *Dispatcher) Dispatch(ctx context.Context, fp *footprint.Footprint, title string) (Result, error) {
	shared := integrations.Context{}
	if title != "" {
		shared["title"] = title
	}

	result := Result{Context: shared}

	if fp.IsServerFault() {
		publishers, err := d.source.Active(integrations.PhasePublish)
		if err != nil {
			return result, err
		}
		d.runPhase(ctx, publishers, fp, shared, &result)
	}

	notifiers, err := d.source.Active(integrations.PhaseNotify)
	if err != nil {
		return result, err
	}
	d.runPhase(ctx, notifiers, fp, shared, &result)

	d.logger.Debug().
		Str("footprintId", fp.ID).
		Int("ran", result.Ran).
		Int("failed", result.Failed).
		Msg("Dispatch cycle complete")
	return result, nil
}

func (d *Dispatcher) runPhase(ctx context.Context, backends []integrations.Backend, fp *footprint.Footprint, shared integrations.Context, result *Result) {
	for _, backend := range backends {
		result.Ran++
		if err := d.runOne(ctx, backend, fp, shared); err != nil {
			result.Failed++
			d.logger.Error().
				Err(err).
				Str("integration", backend.Identifier()).
				Str("footprintId", fp.ID).
				Msg("Integration backend failed")
		}
	}
}

func (d *Dispatcher) runOne(ctx context.Context, backend integrations.Backend, fp *footprint.Footprint, shared integrations.Context) (err error) {
	runCtx := ctx
	if timeout := time.Duration(d.timeout.Load()); timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// A panicking backend must not take the worker down with it.
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{backend: backend.Identifier(), value: r}
		}
	}()

	partial, err := backend.Run(runCtx, fp, shared)
	if err != nil {
		return err
	}
	if partial != nil {
		shared.Merge(partial)
	}
	return nil
}

type panicError struct {
	backend string
	value   any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("integration %s panicked: %v", p.backend, p.value)
}
