package authstate

import (
	"context"
	"sync"
	"time"

	"github.com/keramy/formulapmv2-sub016/storage"
)

// circuitBreaker is the two-tier liveness safeguard. Tier one trips after a
// ceiling longer than the session core's own init ceiling, permanently
// relaxing the composer's loading rules and sweeping session-like storage.
// Tier two, a further fixed window later, clears all persisted auth storage
// and invokes the host's reload hook. The cheapest intervention always runs
// first.
type circuitBreaker struct {
	cfg      RecoveryConfig
	store    storage.Store
	prefixes []string
	logger   Logger
	audit    *auditDispatcher
	metrics  *Metrics
	notify   func()

	// stillStuck reports whether the session core or profile loader is still
	// loading; hard recovery only fires while it returns true.
	stillStuck func() bool

	mu        sync.Mutex
	startedAt time.Time
	tripped   bool
	stopped   bool
	tripTimer *time.Timer
	hardTimer *time.Timer
}

func newCircuitBreaker(cfg RecoveryConfig, store storage.Store, prefixes []string, logger Logger, audit *auditDispatcher, metrics *Metrics) *circuitBreaker {
	return &circuitBreaker{
		cfg:      cfg,
		store:    store,
		prefixes: prefixes,
		logger:   logger,
		audit:    audit,
		metrics:  metrics,
	}
}

func (b *circuitBreaker) start() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped || b.tripTimer != nil {
		return
	}
	b.startedAt = time.Now()
	b.tripTimer = time.AfterFunc(b.cfg.BreakerCeiling, b.fire)
}

func (b *circuitBreaker) fire() {
	b.mu.Lock()
	if b.stopped || b.tripped {
		b.mu.Unlock()
		return
	}
	b.tripped = true
	b.hardTimer = time.AfterFunc(b.cfg.HardRecoveryDelay, b.hardRecover)
	elapsed := time.Since(b.startedAt)
	b.mu.Unlock()

	b.logger.Errorf("authstate: circuit breaker tripped after %v, forcing loading resolution", elapsed)
	b.metrics.Inc(MetricBreakerTripped)
	b.audit.Emit(context.Background(), AuditEvent{
		EventType: auditBreakerTripped,
		Success:   true,
		Metadata:  map[string]string{"elapsed": elapsed.String()},
	})

	sweepStorage(context.Background(), b.store, b.prefixes, b.logger)
	b.metrics.Inc(MetricStorageSweep)

	if b.notify != nil {
		b.notify()
	}
}

// hardRecover is the destructive last resort: it runs only when the soft
// trip's relaxed rules still failed to unstick the caller.
func (b *circuitBreaker) hardRecover() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	if b.stillStuck == nil || !b.stillStuck() {
		return
	}

	b.logger.Errorf("authstate: hard recovery engaged, clearing persisted auth storage")
	b.metrics.Inc(MetricHardRecovery)
	b.audit.Emit(context.Background(), AuditEvent{
		EventType: auditHardRecovery,
		Success:   true,
	})

	sweepStorage(context.Background(), b.store, b.prefixes, b.logger)

	if b.cfg.ReloadFunc != nil {
		b.cfg.ReloadFunc()
	}
}

// resolve cancels the pending trip once the watched subsystems report
// not-loading. A trip that already fired stays tripped; only its hard-
// recovery follow-up is disarmed.
func (b *circuitBreaker) resolve() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tripTimer != nil && !b.tripped {
		b.tripTimer.Stop()
		b.tripTimer = nil
	}
	if b.hardTimer != nil {
		b.hardTimer.Stop()
		b.hardTimer = nil
	}
}

func (b *circuitBreaker) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopped = true
	if b.tripTimer != nil {
		b.tripTimer.Stop()
		b.tripTimer = nil
	}
	if b.hardTimer != nil {
		b.hardTimer.Stop()
		b.hardTimer = nil
	}
}

func (b *circuitBreaker) isTripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}
