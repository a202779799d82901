// Package main provides the external ingest caller. It requests GET /ingest on a fixed
// interval with a bounded timeout. Failures are logged and left to the next interval.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/vault-snapshots/internal/config"
	"github.com/vault-snapshots/internal/logging"
)

const maxErrorBody = 2048

// caller issues ingest requests against the API server
type caller struct {
	client    *http.Client
	targetURL string
	chainID   string
	secret    string
	logger    *logging.Logger
}

type ingestReply struct {
	OK        bool   `json:"ok"`
	NetworkID string `json:"networkId"`
	Snapshot  struct {
		BlockNumber uint64 `json:"blockNumber"`
		GrowthPct   string `json:"growthPct"`
	} `json:"snapshot"`
}

func newCaller(cfg config.CronConfig, logger *logging.Logger) *caller {
	return &caller{
		client:    &http.Client{Timeout: cfg.Timeout},
		targetURL: cfg.TargetURL,
		chainID:   cfg.ChainID,
		secret:    cfg.Secret,
		logger:    logger,
	}
}

func (c *caller) requestURL() (string, error) {
	u, err := url.Parse(c.targetURL)
	if err != nil {
		return "", fmt.Errorf("invalid target url: %w", err)
	}
	if c.chainID != "" {
		q := u.Query()
		q.Set("chainId", c.chainID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// call performs one ingest request. There is no retry within a call.
func (c *caller) call(ctx context.Context) error {
	target, err := c.requestURL()
	if err != nil {
		return err
	}

	requestID := uuid.NewString()
	logger := c.logger.WithFields(map[string]interface{}{
		"requestId": requestID,
		"target":    target,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-Request-ID", requestID)
	if c.secret != "" {
		req.Header.Set("X-Cron-Secret", c.secret)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ingest request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("ingest returned %d: %s", resp.StatusCode, string(body))
	}

	var reply ingestReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("failed to decode ingest response: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"networkId":   reply.NetworkID,
		"block":       reply.Snapshot.BlockNumber,
		"growthPct":   reply.Snapshot.GrowthPct,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Ingest succeeded")
	return nil
}

// run calls once immediately and then once per interval until ctx is done
func (c *caller) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := c.call(ctx); err != nil {
			c.logger.WithError(err).Warn("Ingest call failed, waiting for next interval")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().WithField("component", "cron")
	defer func() { _ = logger.Sync() }()

	logger.WithFields(map[string]interface{}{
		"target":   cfg.Cron.TargetURL,
		"interval": cfg.Cron.Interval.String(),
		"timeout":  cfg.Cron.Timeout.String(),
	}).Info("Ingest caller starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	newCaller(cfg.Cron, logger).run(ctx, cfg.Cron.Interval)

	logger.Info("Ingest caller stopped")
}
