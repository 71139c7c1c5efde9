package engine

import (
	"context"
	"time"

	"github.com/mmynk/splitledger/internal/balance"
	"github.com/mmynk/splitledger/internal/models"
)

// IntegrityReport describes one Rebuild run.
type IntegrityReport struct {
	Expenses int
	// Repaired is set when incremental balances diverged from a full
	// recompute and were replaced by it.
	Repaired bool
	Duration time.Duration
}

// Rebuild recomputes balances from the full ledger and compares them with the
// incrementally maintained state. Writers are paused while it runs. A
// divergence is repaired and reported as ErrConsistency. Concurrent calls
// share one run.
func (e *Engine) Rebuild(ctx context.Context) (IntegrityReport, error) {
	v, err, shared := e.rebuilds.Do("rebuild", func() (any, error) {
		return e.rebuild(ctx)
	})
	if shared {
		e.logger.Debug("Rebuild coalesced with a running one")
	}
	report, _ := v.(IntegrityReport)
	return report, err
}

func (e *Engine) rebuild(ctx context.Context) (IntegrityReport, error) {
	e.epoch.Lock()
	defer e.epoch.Unlock()

	start := time.Now()
	var report IntegrityReport
	for range e.ledger.All() {
		report.Expenses++
	}

	fresh, err := balance.Recompute(e.ledger.All())
	if err != nil {
		e.metrics.IntegrityCheck(false)
		report.Duration = time.Since(start)
		return report, e.consistency(ctx, "recompute balances", err)
	}

	current := e.aggregator()
	checkErr := current.Check()
	if checkErr == nil && current.Equal(fresh) {
		e.metrics.IntegrityCheck(true)
		report.Duration = time.Since(start)
		e.logger.DebugContext(ctx, "Integrity check passed", "expenses", report.Expenses, "duration_ms", report.Duration.Milliseconds())
		return report, nil
	}

	e.balances.Store(fresh)
	e.metrics.IntegrityCheck(false)
	report.Repaired = true
	report.Duration = time.Since(start)
	if checkErr == nil {
		checkErr = models.Consistencyf("incremental balances diverged from recompute")
	}
	return report, e.consistency(ctx, "integrity check", checkErr)
}
