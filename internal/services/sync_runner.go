package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrchestratorRunner runs syncs in-process.
type OrchestratorRunner struct {
	Orchestrator *SyncOrchestrator
}

func (r OrchestratorRunner) Run(ctx context.Context, tenantID uuid.UUID) error {
	_, err := r.Orchestrator.RunSync(ctx, tenantID, SyncOptions{})
	return err
}

// HTTPSyncRunner triggers syncs through the server's POST /api/sync endpoint.
type HTTPSyncRunner struct {
	baseURL    string
	token      string
	httpClient *http.Client
	now        func() time.Time
}

// NewHTTPSyncRunner creates a runner for the server at baseURL. token is sent
// as a bearer token.
func NewHTTPSyncRunner(baseURL, token string, httpClient *http.Client) *HTTPSyncRunner {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &HTTPSyncRunner{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
		now:        time.Now,
	}
}

type syncRequestBody struct {
	TenantID uuid.UUID `json:"tenant_id"`
}

type syncResponseBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (r *HTTPSyncRunner) Run(ctx context.Context, tenantID uuid.UUID) error {
	payload, err := json.Marshal(syncRequestBody{TenantID: tenantID})
	if err != nil {
		return fmt.Errorf("marshal sync request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/sync", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sync request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitedError{RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), r.now())}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read sync response: status %d: %w", resp.StatusCode, err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	var result syncResponseBody
	if err := json.Unmarshal(body, &result); err != nil && ok {
		return fmt.Errorf("decode sync response: status %d: %w", resp.StatusCode, err)
	}

	if !ok || !result.Success {
		msg := result.Error
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return fmt.Errorf("sync failed: status %d: %s", resp.StatusCode, msg)
	}
	return nil
}
