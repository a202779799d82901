package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vault-snapshots/internal/config"
	apperrors "github.com/vault-snapshots/internal/errors"
	"github.com/vault-snapshots/internal/logging"
	"github.com/vault-snapshots/internal/models"
	"github.com/vault-snapshots/internal/service"
	"github.com/vault-snapshots/internal/types"
)

const testVault = "0x1111111111111111111111111111111111111111"

// fakePipeline counts Ingest calls and blocks each one until release is closed (when set).
type fakePipeline struct {
	resolveErr error
	ingestErr  error
	release    chan struct{}
	entered    chan struct{}
	calls      atomic.Int64
}

func (f *fakePipeline) ResolveTarget(chainID string) (string, string, error) {
	if f.resolveErr != nil {
		return "", "", f.resolveErr
	}
	return "http://rpc.invalid", testVault, nil
}

func (f *fakePipeline) Ingest(ctx context.Context, chainID string, source types.TriggerSource) (*service.IngestResult, error) {
	f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	return &service.IngestResult{
		Snapshot:  &models.Snapshot{ChainID: chainID, BlockNumber: 42, GrowthPct: "0.00000000"},
		NetworkID: "1",
	}, nil
}

type fakeCloser struct{ closed atomic.Bool }

func (f *fakeCloser) Close() error {
	f.closed.Store(true)
	return nil
}

func enabledVault() config.VaultConfig {
	return config.VaultConfig{
		RPCURL:         "http://rpc.invalid",
		Address:        testVault,
		ChainID:        "1",
		PollIntervalMs: config.DefaultPollIntervalMs,
		PollerEnabled:  true,
	}
}

func observedLogger() (*logging.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logging.NewWithZap(zap.New(core)), logs
}

func waitIdle(t *testing.T, p *Poller) {
	t.Helper()
	require.Eventually(t, func() bool { return p.State() == types.PollerIdle }, 2*time.Second, 5*time.Millisecond)
}

func TestPoller_SkipsTickWhileRunning(t *testing.T) {
	logger, logs := observedLogger()
	pipeline := &fakePipeline{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	p := NewPoller(PollerConfig{Vault: enabledVault(), Pipeline: pipeline, Logger: logger})

	require.True(t, p.Tick(context.Background()))
	<-pipeline.entered
	assert.Equal(t, types.PollerRunning, p.State())

	assert.False(t, p.Tick(context.Background()))
	assert.Equal(t, int64(1), pipeline.calls.Load())
	assert.Equal(t, 1, logs.FilterMessage("Poller tick skipped, previous tick still running").Len())

	close(pipeline.release)
	waitIdle(t, p)

	status := p.Status()
	assert.Equal(t, int64(1), status.Runs)
	assert.Equal(t, int64(1), status.Skips)
	assert.Equal(t, uint64(42), status.LastBlock)
	require.NotNil(t, status.LastSuccessAt)
}

func TestPoller_IdleStateAcceptsNextTick(t *testing.T) {
	pipeline := &fakePipeline{}
	p := NewPoller(PollerConfig{Vault: enabledVault(), Pipeline: pipeline, Logger: logging.NewNop()})

	for i := 1; i <= 20; i++ {
		require.True(t, p.Tick(context.Background()))
		waitIdle(t, p)
		require.Eventually(t, func() bool { return p.Status().Runs == int64(i) }, 2*time.Second, time.Millisecond)
		require.Equal(t, types.PollerIdle, p.State())
		assert.False(t, p.inFlight.Load(), "run %d", i)
	}
	assert.Equal(t, int64(0), p.Status().Skips)
	assert.Equal(t, int64(20), pipeline.calls.Load())
}

func TestPoller_FailureReturnsToIdle(t *testing.T) {
	logger, logs := observedLogger()
	pipeline := &fakePipeline{ingestErr: apperrors.NewChainReadError(errors.New("rpc timeout"))}
	p := NewPoller(PollerConfig{Vault: enabledVault(), Pipeline: pipeline, Logger: logger})

	require.True(t, p.Tick(context.Background()))
	require.Eventually(t, func() bool { return p.Status().Failures == 1 }, 2*time.Second, 5*time.Millisecond)
	waitIdle(t, p)

	assert.Equal(t, 1, logs.FilterMessage("Poller tick failed").Len())
	assert.NotEmpty(t, p.Status().LastError)

	require.True(t, p.Tick(context.Background()))
	require.Eventually(t, func() bool { return pipeline.calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestPoller_DisabledByConfiguration(t *testing.T) {
	vault := enabledVault()
	vault.PollerEnabled = false
	pipeline := &fakePipeline{}
	p := NewPoller(PollerConfig{Vault: vault, Pipeline: pipeline, Logger: logging.NewNop()})

	assert.Equal(t, types.PollerDisabled, p.State())
	p.Start(context.Background())
	assert.False(t, p.Tick(context.Background()))
	assert.Zero(t, pipeline.calls.Load())
	assert.Equal(t, "disabled by configuration", p.Status().DisabledReason)
}

func TestPoller_DisabledWhenUnconfigured(t *testing.T) {
	pipeline := &fakePipeline{resolveErr: apperrors.NewMissingRPCURLError()}
	p := NewPoller(PollerConfig{Vault: enabledVault(), Pipeline: pipeline, Logger: logging.NewNop()})

	assert.Equal(t, types.PollerDisabled, p.State())
	assert.False(t, p.Tick(context.Background()))
	assert.Zero(t, pipeline.calls.Load())
}

func TestPoller_StartTicksImmediatelyAndIsIdempotent(t *testing.T) {
	pipeline := &fakePipeline{}
	store := &fakeCloser{}
	p := NewPoller(PollerConfig{Vault: enabledVault(), Pipeline: pipeline, Store: store, Logger: logging.NewNop()})

	ctx := context.Background()
	p.Start(ctx)
	p.Start(ctx)

	require.Eventually(t, func() bool { return pipeline.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(stopCtx))

	assert.Equal(t, types.PollerStopped, p.State())
	assert.True(t, store.closed.Load())
	assert.Equal(t, int64(1), pipeline.calls.Load())
	assert.False(t, p.Tick(ctx))
	assert.NoError(t, p.Stop(stopCtx))
}

func TestPoller_StopDrainsRunningTick(t *testing.T) {
	pipeline := &fakePipeline{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	store := &fakeCloser{}
	p := NewPoller(PollerConfig{Vault: enabledVault(), Pipeline: pipeline, Store: store, Logger: logging.NewNop()})

	require.True(t, p.Tick(context.Background()))
	<-pipeline.entered

	stopped := make(chan error, 1)
	go func() { stopped <- p.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the running tick finished")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, store.closed.Load())

	close(pipeline.release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the tick finished")
	}
	assert.Equal(t, types.PollerStopped, p.State())
	require.NotNil(t, p.Status().LastSuccessAt)
	assert.True(t, store.closed.Load())
}

func TestPoller_StopTimesOutAndLeavesStoreOpen(t *testing.T) {
	logger, logs := observedLogger()
	pipeline := &fakePipeline{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	store := &fakeCloser{}
	p := NewPoller(PollerConfig{Vault: enabledVault(), Pipeline: pipeline, Store: store, Logger: logger})

	require.True(t, p.Tick(context.Background()))
	<-pipeline.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Stop(ctx), context.DeadlineExceeded)
	assert.False(t, store.closed.Load())
	assert.Equal(t, 1, logs.FilterMessage("Poller stop timed out waiting for running tick, store left open").Len())

	close(pipeline.release)
	require.Eventually(t, func() bool { return p.Status().LastSuccessAt != nil }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, store.closed.Load())
}

func TestPoller_RunOnce(t *testing.T) {
	vault := enabledVault()
	vault.PollerEnabled = false
	pipeline := &fakePipeline{}
	p := NewPoller(PollerConfig{Vault: vault, Pipeline: pipeline, Logger: logging.NewNop()})

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), res.Snapshot.BlockNumber)
}

func TestPoller_IntervalFloor(t *testing.T) {
	vault := enabledVault()
	vault.PollIntervalMs = 10_000
	p := NewPoller(PollerConfig{Vault: vault, Pipeline: &fakePipeline{}, Logger: logging.NewNop()})

	assert.Equal(t, "15m0s", p.Status().Interval)
}

func TestEnsure_ReturnsSingleton(t *testing.T) {
	first := Ensure(PollerConfig{Vault: enabledVault(), Pipeline: &fakePipeline{}, Logger: logging.NewNop()})
	second := Ensure(PollerConfig{Logger: logging.NewNop()})

	assert.Same(t, first, second)
}
