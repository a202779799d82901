package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-snapshots/internal/config"
	apperrors "github.com/vault-snapshots/internal/errors"
	"github.com/vault-snapshots/internal/logging"
	"github.com/vault-snapshots/internal/models"
	"github.com/vault-snapshots/internal/service"
	"github.com/vault-snapshots/internal/storage"
	"github.com/vault-snapshots/internal/types"
	"github.com/vault-snapshots/internal/worker"
)

const testVault = "0x1111111111111111111111111111111111111111"

type fakeIngest struct {
	calls   atomic.Int32
	chainID atomic.Value
	fn      func(ctx context.Context) (*service.IngestResult, error)
}

func (f *fakeIngest) Ingest(ctx context.Context, chainID string, source types.TriggerSource) (*service.IngestResult, error) {
	f.calls.Add(1)
	f.chainID.Store(chainID)
	if f.fn != nil {
		return f.fn(ctx)
	}
	return &service.IngestResult{
		NetworkID: "1",
		Snapshot: &models.Snapshot{
			ChainID:      "1",
			VaultAddress: testVault,
			BlockNumber:  42,
			GrowthPct:    "0.00000000",
		},
	}, nil
}

type fakePoller struct{ status *worker.PollerStatus }

func (f *fakePoller) Status() *worker.PollerStatus { return f.status }

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

func newTestServer(cfg *ServerConfig, ingest IngestServiceInterface, store storage.SnapshotStore) *Server {
	if store == nil {
		store = storage.NewMemorySnapshotStore()
	}
	query := service.NewSnapshotQueryService(store, config.NewVaultDirectory(config.VaultConfig{ChainID: "1", Address: testVault}))
	return NewServer(cfg, ingest, query, nil, store, logging.NewNop())
}

func doRequest(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) types.ServiceError {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestIngest_RejectsMissingSecretWithoutChainRead(t *testing.T) {
	ingest := &fakeIngest{}
	s := newTestServer(&ServerConfig{IngestSecret: "s3cret"}, ingest, nil)

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/ingest", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperrors.CodeUnauthorized, decodeError(t, rec).Code)

	req := httptest.NewRequest(http.MethodGet, "/ingest", nil)
	req.Header.Set(CronSecretHeader, "wrong")
	rec = doRequest(t, s, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, int32(0), ingest.calls.Load())
}

func TestIngest_AcceptsHeaderAndBearer(t *testing.T) {
	ingest := &fakeIngest{}
	s := newTestServer(&ServerConfig{IngestSecret: "s3cret"}, ingest, nil)

	req := httptest.NewRequest(http.MethodGet, "/ingest?chainId=1", nil)
	req.Header.Set(CronSecretHeader, "s3cret")
	rec := doRequest(t, s, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.OK)
	assert.Equal(t, "1", body.NetworkID)
	require.NotNil(t, body.Snapshot)
	assert.Equal(t, uint64(42), body.Snapshot.BlockNumber)

	req = httptest.NewRequest(http.MethodGet, "/ingest", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = doRequest(t, s, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, int32(2), ingest.calls.Load())
	assert.Equal(t, "", ingest.chainID.Load())
}

func TestIngest_OpenWithoutSecret(t *testing.T) {
	ingest := &fakeIngest{}
	s := newTestServer(&ServerConfig{}, ingest, nil)

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/ingest", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestIngest_ErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"missing rpc", apperrors.NewMissingRPCURLError(), http.StatusInternalServerError, apperrors.CodeMissingRPCURL},
		{"missing vault", apperrors.NewMissingVaultAddressError("10"), http.StatusBadRequest, apperrors.CodeMissingVaultAddress},
		{"chain read", apperrors.NewChainReadError(errors.New("dial tcp: refused")), http.StatusInternalServerError, apperrors.CodeChainReadFailed},
		{"uncategorized", errors.New("boom"), http.StatusInternalServerError, apperrors.CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ingest := &fakeIngest{fn: func(context.Context) (*service.IngestResult, error) { return nil, tt.err }}
			s := newTestServer(&ServerConfig{}, ingest, nil)

			rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/ingest", nil))
			assert.Equal(t, tt.status, rec.Code)
			svcErr := decodeError(t, rec)
			assert.Equal(t, tt.code, svcErr.Code)
			assert.NotContains(t, rec.Body.String(), "refused")
			assert.NotContains(t, rec.Body.String(), "boom")
		})
	}
}

func TestIngest_TimeoutLeavesPipelineRunning(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan error, 1)
	ingest := &fakeIngest{fn: func(ctx context.Context) (*service.IngestResult, error) {
		<-release
		finished <- ctx.Err()
		return nil, errors.New("late")
	}}
	s := newTestServer(&ServerConfig{IngestTimeout: 20 * time.Millisecond}, ingest, nil)

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/ingest", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, apperrors.CodeIngestTimeout, decodeError(t, rec).Code)

	close(release)
	select {
	case err := <-finished:
		assert.NoError(t, err, "pipeline context must not be cancelled by the request")
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not finish")
	}
}

func TestIngest_RateLimited(t *testing.T) {
	ingest := &fakeIngest{}
	s := newTestServer(&ServerConfig{IngestRPS: 0.001}, ingest, nil)

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ingest", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		statuses = append(statuses, doRequest(t, s, req).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)

	req := httptest.NewRequest(http.MethodGet, "/ingest", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	assert.Equal(t, http.StatusOK, doRequest(t, s, req).Code)
	assert.Equal(t, int32(3), ingest.calls.Load())
}

func TestListSnapshots(t *testing.T) {
	store := storage.NewMemorySnapshotStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Upsert(context.Background(), &models.Snapshot{
			ChainID:        "1",
			VaultAddress:   testVault,
			BlockNumber:    uint64(100 + i),
			BlockTimestamp: base.Add(time.Duration(i) * time.Hour),
			TotalAssets:    "1.0",
			SharePrice:     "1.0",
			GrowthPct:      fmt.Sprintf("%d.00000000", i),
		}))
	}
	s := newTestServer(&ServerConfig{}, &fakeIngest{}, store)

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/snapshots?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var listing service.SnapshotListing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Snapshots, 2)
	assert.Equal(t, uint64(103), listing.Snapshots[0].BlockNumber)
	assert.Equal(t, uint64(104), listing.Snapshots[1].BlockNumber)
	assert.Equal(t, "4.00000000", listing.Summary.LatestGrowthPct)
	require.NotNil(t, listing.Summary.FirstBlock)
	assert.Equal(t, uint64(103), *listing.Summary.FirstBlock)

	rec = doRequest(t, s, httptest.NewRequest(http.MethodGet, "/snapshots?limit=junk", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Len(t, listing.Snapshots, 5)
}

func TestListSnapshots_UnknownChain(t *testing.T) {
	s := newTestServer(&ServerConfig{}, &fakeIngest{}, nil)

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/snapshots?chainId=999", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "the configured address applies to any chain")

	query := service.NewSnapshotQueryService(storage.NewMemorySnapshotStore(), config.NewVaultDirectory(config.VaultConfig{ChainID: "1", DeploymentsDir: t.TempDir()}))
	s = NewServer(&ServerConfig{}, &fakeIngest{}, query, nil, nil, logging.NewNop())
	rec = doRequest(t, s, httptest.NewRequest(http.MethodGet, "/snapshots", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.CodeMissingVaultAddress, decodeError(t, rec).Code)
}

func TestChainIDMustBeDecimal(t *testing.T) {
	ingest := &fakeIngest{}
	s := newTestServer(&ServerConfig{}, ingest, nil)

	for _, target := range []string{"/ingest?chainId=abc", "/ingest?chainId=-1", "/snapshots?chainId=0x1", "/snapshots?chainId=1.5"} {
		rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		body := decodeError(t, rec)
		assert.Equal(t, apperrors.CodeInvalidParameter, body.Code, target)
		assert.Equal(t, "chainId", body.Details["parameter"], target)
	}
	assert.Equal(t, int32(0), ingest.calls.Load())

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/snapshots?chainId=1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	query := service.NewSnapshotQueryService(storage.NewMemorySnapshotStore(), config.NewVaultDirectory(config.VaultConfig{}))
	poller := &fakePoller{status: &worker.PollerStatus{State: types.PollerIdle}}

	s := NewServer(&ServerConfig{}, &fakeIngest{}, query, poller, &fakePinger{}, logging.NewNop())
	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, types.PollerIdle, health.PollerState)

	s = NewServer(&ServerConfig{}, &fakeIngest{}, query, poller, &fakePinger{err: errors.New("conn refused")}, logging.NewNop())
	rec = doRequest(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "conn refused")
}

func TestPollerStatus(t *testing.T) {
	query := service.NewSnapshotQueryService(storage.NewMemorySnapshotStore(), config.NewVaultDirectory(config.VaultConfig{}))

	s := NewServer(&ServerConfig{}, &fakeIngest{}, query, nil, nil, logging.NewNop())
	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/poller/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status worker.PollerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, types.PollerDisabled, status.State)

	poller := &fakePoller{status: &worker.PollerStatus{State: types.PollerRunning, Runs: 3, LastBlock: 77}}
	s = NewServer(&ServerConfig{}, &fakeIngest{}, query, poller, nil, logging.NewNop())
	rec = doRequest(t, s, httptest.NewRequest(http.MethodGet, "/poller/status", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, types.PollerRunning, status.State)
	assert.Equal(t, int64(3), status.Runs)
	assert.Equal(t, uint64(77), status.LastBlock)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("kaboom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
