package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
	"github.com/eliteGoblin/focusd/lab_mon/internal/metrics"
)

const (
	defaultAdminTimeout = 5 * time.Second
	maxErrorBody        = 512
)

type registerRequest struct {
	LabCode    string `json:"labCode"`
	ClientName string `json:"clientName"`
}

type registerResponse struct {
	ClientID  string `json:"clientId"`
	LabPrompt string `json:"labPrompt"`
}

type heartbeatRequest struct {
	ClientID string `json:"clientId"`
}

type alertRequest struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type logsRequest struct {
	Logs []string `json:"logs"`
}

// AdminHTTPClient implements domain.AdminClient over HTTP+JSON.
// Every call carries its own timeout; no call blocks indefinitely.
type AdminHTTPClient struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger
}

// NewAdminClient creates a client for the admin server at baseURL.
func NewAdminClient(baseURL string, timeout time.Duration, logger *zap.Logger) *AdminHTTPClient {
	if timeout <= 0 {
		timeout = defaultAdminTimeout
	}
	return &AdminHTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Probe returns true when GET / answers 200.
func (c *AdminHTTPClient) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("admin server probe failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

// Register obtains a client id and the optional lab prompt. The server
// answers 201 Created; any other status is a rejection.
func (c *AdminHTTPClient) Register(ctx context.Context, labCode, clientName string) (*domain.Session, domain.DeliveryResult) {
	var out registerResponse
	result := c.postJSON(ctx, "register", "/api/clients/register",
		registerRequest{LabCode: labCode, ClientName: clientName},
		statusIs(http.StatusCreated), &out)
	if !result.OK() {
		return nil, result
	}
	if out.ClientID == "" {
		return nil, domain.DeliveryResult{
			Status:     domain.ServerRejected,
			StatusCode: result.StatusCode,
			Err:        fmt.Errorf("register response has no clientId"),
		}
	}
	return &domain.Session{ClientID: out.ClientID, PolicyPrompt: out.LabPrompt}, result
}

// Heartbeat reports this client as alive. Only 200 counts as delivered.
func (c *AdminHTTPClient) Heartbeat(ctx context.Context, clientID string) domain.DeliveryResult {
	return c.postJSON(ctx, "heartbeat", "/api/clients/heartbeat",
		heartbeatRequest{ClientID: clientID}, statusIs(http.StatusOK), nil)
}

// SendAlert pushes one violation.
func (c *AdminHTTPClient) SendAlert(ctx context.Context, labCode, clientID string, ev domain.ViolationEvent) domain.DeliveryResult {
	path := "/api/alerts/" + url.PathEscape(labCode) + "/" + url.PathEscape(clientID)
	return c.postJSON(ctx, "alert", path, alertRequest{
		Message:   ev.Message(),
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}, isSuccess, nil)
}

// SendLogs uploads raw buffer records as strings.
func (c *AdminHTTPClient) SendLogs(ctx context.Context, clientID string, records [][]byte) domain.DeliveryResult {
	logs := make([]string, len(records))
	for i, r := range records {
		logs[i] = string(r)
	}
	return c.postJSON(ctx, "logs", "/api/alerts/"+url.PathEscape(clientID),
		logsRequest{Logs: logs}, isSuccess, nil)
}

func (c *AdminHTTPClient) postJSON(ctx context.Context, call, path string, body any, accept func(int) bool, out any) domain.DeliveryResult {
	result := c.doPost(ctx, path, body, accept, out)
	metrics.Deliveries.WithLabelValues(call, result.Status.String()).Inc()
	return result
}

func (c *AdminHTTPClient) doPost(ctx context.Context, path string, body any, accept func(int) bool, out any) domain.DeliveryResult {
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.DeliveryResult{Status: domain.TransportError, Err: fmt.Errorf("marshal request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return domain.DeliveryResult{Status: domain.TransportError, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "labmon")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.DeliveryResult{Status: domain.TransportError, Err: err}
	}
	defer resp.Body.Close()

	if !accept(resp.StatusCode) {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.DeliveryResult{
			Status:     domain.ServerRejected,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("admin server responded %s: %s", resp.Status, strings.TrimSpace(string(snippet))),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return domain.DeliveryResult{
				Status:     domain.ServerRejected,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("decode response: %w", err),
			}
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	return domain.DeliveryResult{Status: domain.Delivered, StatusCode: resp.StatusCode}
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func statusIs(want int) func(int) bool {
	return func(code int) bool { return code == want }
}

// Ensure AdminHTTPClient implements domain.AdminClient.
var _ domain.AdminClient = (*AdminHTTPClient)(nil)
