// Package worker runs the background snapshot poller.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vault-snapshots/internal/config"
	"github.com/vault-snapshots/internal/logging"
	"github.com/vault-snapshots/internal/service"
	"github.com/vault-snapshots/internal/types"
)

// Pipeline is the acquisition-and-persist cycle the poller drives.
type Pipeline interface {
	ResolveTarget(chainID string) (rpcURL string, vaultAddress string, err error)
	Ingest(ctx context.Context, chainID string, source types.TriggerSource) (*service.IngestResult, error)
}

// Closer releases the store the poller owns.
type Closer interface {
	Close() error
}

// PollerConfig holds configuration for the poller
type PollerConfig struct {
	Vault    config.VaultConfig
	Pipeline Pipeline
	// Store is closed on Stop when set. Leave nil when the store is shared with other components.
	Store  Closer
	Logger *logging.Logger
}

// PollerStatus is a point-in-time view of the poller
type PollerStatus struct {
	State          types.PollerState `json:"state"`
	ChainID        string            `json:"chainId"`
	VaultAddress   string            `json:"vaultAddress,omitempty"`
	Interval       string            `json:"interval"`
	DisabledReason string            `json:"disabledReason,omitempty"`
	Runs           int64             `json:"runs"`
	Skips          int64             `json:"skips"`
	Failures       int64             `json:"failures"`
	LastRunAt      *time.Time        `json:"lastRunAt,omitempty"`
	LastSuccessAt  *time.Time        `json:"lastSuccessAt,omitempty"`
	LastFailureAt  *time.Time        `json:"lastFailureAt,omitempty"`
	LastError      string            `json:"lastError,omitempty"`
	LastBlock      uint64            `json:"lastBlock,omitempty"`
}

// Poller ticks the snapshot pipeline on a fixed interval.
// At most one tick runs at a time: a tick that fires while the previous one is still running is skipped.
// Stop cancels the timer and waits for a running tick to finish; it never interrupts one.
type Poller struct {
	pipeline Pipeline
	store    Closer
	logger   *logging.Logger
	chainID  string
	vault    string
	interval time.Duration

	mu             sync.RWMutex
	state          types.PollerState
	disabledReason string
	started        bool
	lastRunAt      time.Time
	lastSuccessAt  time.Time
	lastFailureAt  time.Time
	lastError      string
	lastBlock      uint64

	inFlight atomic.Bool
	runs     atomic.Int64
	skips    atomic.Int64
	failures atomic.Int64

	running  sync.WaitGroup
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewPoller resolves configuration once. A poller that is switched off or lacks an RPC
// endpoint or vault address stays Disabled for the life of the process.
func NewPoller(cfg PollerConfig) *Poller {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	p := &Poller{
		pipeline: cfg.Pipeline,
		store:    cfg.Store,
		chainID:  cfg.Vault.ChainID,
		interval: cfg.Vault.PollInterval(),
		state:    types.PollerIdle,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	p.logger = logger.WithFields(map[string]interface{}{
		"component": "poller",
		"chainId":   p.chainID,
	})

	switch {
	case !cfg.Vault.PollerEnabled:
		p.disable("disabled by configuration")
	case cfg.Pipeline == nil:
		p.disable("no pipeline configured")
	default:
		_, vault, err := cfg.Pipeline.ResolveTarget(p.chainID)
		if err != nil {
			p.disable(err.Error())
		} else {
			p.vault = vault
		}
	}

	return p
}

func (p *Poller) disable(reason string) {
	p.state = types.PollerDisabled
	p.disabledReason = reason
	p.logger.WithField("reason", reason).Info("Poller disabled")
}

// Start fires one tick immediately and then one per interval. Calling Start again, or on a
// disabled or stopped poller, does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.state == types.PollerDisabled || p.state == types.PollerStopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.logger.WithFields(map[string]interface{}{
		"vault":    p.vault,
		"interval": p.interval.String(),
	}).Info("Poller started")

	go p.loop(ctx)
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.doneCh)

	p.Tick(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick starts one pipeline run in the background unless one is already running.
// It reports whether a run was started.
func (p *Poller) Tick(ctx context.Context) bool {
	if p.State() != types.PollerIdle && p.State() != types.PollerRunning {
		return false
	}

	if !p.inFlight.CompareAndSwap(false, true) {
		p.skips.Add(1)
		p.logger.Info("Poller tick skipped, previous tick still running")
		return false
	}

	p.mu.Lock()
	if p.state == types.PollerStopped {
		p.mu.Unlock()
		p.inFlight.Store(false)
		return false
	}
	p.state = types.PollerRunning
	p.lastRunAt = time.Now().UTC()
	p.running.Add(1)
	p.mu.Unlock()

	// in-flight work is allowed to finish after shutdown
	runCtx := context.WithoutCancel(ctx)
	go p.run(runCtx)
	return true
}

func (p *Poller) run(ctx context.Context) {
	defer p.running.Done()

	p.runs.Add(1)
	start := time.Now()
	p.logger.Debug("Poller tick started")

	result, err := p.pipeline.Ingest(ctx, p.chainID, types.TriggerPoller)

	now := time.Now().UTC()
	p.mu.Lock()
	if p.state == types.PollerRunning {
		p.state = types.PollerIdle
	}
	// cleared with the state so an Idle poller never reports a tick in flight
	p.inFlight.Store(false)
	if err != nil {
		p.lastFailureAt = now
		p.lastError = err.Error()
	} else {
		p.lastSuccessAt = now
		p.lastError = ""
		p.lastBlock = result.Snapshot.BlockNumber
	}
	p.mu.Unlock()

	if err != nil {
		p.failures.Add(1)
		p.logger.WithError(err).WithFields(map[string]interface{}{
			"timestamp":   now.Format(time.RFC3339),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Error("Poller tick failed")
		return
	}

	p.logger.WithFields(map[string]interface{}{
		"block":       result.Snapshot.BlockNumber,
		"growthPct":   result.Snapshot.GrowthPct,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Poller tick completed")
}

// RunOnce runs the pipeline synchronously, outside the timer and the single-flight guard.
// It ignores the enable flag; configuration errors surface from the pipeline.
func (p *Poller) RunOnce(ctx context.Context) (*service.IngestResult, error) {
	if p.pipeline == nil {
		return nil, fmt.Errorf("poller has no pipeline")
	}
	return p.pipeline.Ingest(ctx, p.chainID, types.TriggerManual)
}

// Stop cancels the timer, waits for a running tick to finish and releases the store.
// If ctx expires before the tick drains it returns ctx.Err() and leaves the store open,
// since the tick still uses it.
func (p *Poller) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		p.mu.Lock()
		started := p.started
		p.state = types.PollerStopped
		p.mu.Unlock()

		close(p.stopCh)
		if started {
			<-p.doneCh
		}

		drained := make(chan struct{})
		go func() {
			p.running.Wait()
			close(drained)
		}()

		select {
		case <-drained:
			p.logger.Info("Poller stopped")
		case <-ctx.Done():
			err = ctx.Err()
			p.logger.WithError(err).Warn("Poller stop timed out waiting for running tick, store left open")
			return
		}

		if p.store != nil {
			err = p.store.Close()
		}
	})
	return err
}

// State returns the current lifecycle state
func (p *Poller) State() types.PollerState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Status returns a snapshot of the poller's counters and last results
func (p *Poller) Status() *PollerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := &PollerStatus{
		State:          p.state,
		ChainID:        p.chainID,
		VaultAddress:   p.vault,
		Interval:       p.interval.String(),
		DisabledReason: p.disabledReason,
		Runs:           p.runs.Load(),
		Skips:          p.skips.Load(),
		Failures:       p.failures.Load(),
		LastError:      p.lastError,
		LastBlock:      p.lastBlock,
	}
	s.LastRunAt = timePtr(p.lastRunAt)
	s.LastSuccessAt = timePtr(p.lastSuccessAt)
	s.LastFailureAt = timePtr(p.lastFailureAt)
	return s
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var (
	ensureOnce sync.Once
	instance   *Poller
)

// Ensure returns the process-wide poller, constructing it from cfg on first use.
// Later calls return the same instance and ignore cfg.
func Ensure(cfg PollerConfig) *Poller {
	ensureOnce.Do(func() {
		instance = NewPoller(cfg)
	})
	return instance
}
