package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	apperrors "github.com/vault-snapshots/internal/errors"
	"github.com/vault-snapshots/internal/logging"
)

func TestRespondServiceError_LogLevel(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		level   zapcore.Level
		message string
	}{
		{"user error", apperrors.NewInvalidParameterError("chainId", "bad"), zapcore.WarnLevel, "Request rejected"},
		{"configuration error", apperrors.NewMissingRPCURLError(), zapcore.ErrorLevel, "Request failed on missing configuration"},
		{"system error", errors.New("boom"), zapcore.ErrorLevel, "Request failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			req := httptest.NewRequest(http.MethodGet, "/ingest", nil)
			req = req.WithContext(logging.WithLogger(req.Context(), logging.NewWithZap(zap.New(core))))

			rec := httptest.NewRecorder()
			respondServiceError(rec, req, tt.err)

			require.Equal(t, 1, logs.Len())
			entry := logs.All()[0]
			assert.Equal(t, tt.level, entry.Level)
			assert.Equal(t, tt.message, entry.Message)
			assert.Equal(t, apperrors.GetHTTPStatusCode(tt.err), rec.Code)
		})
	}
}
