package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultRelayURL = "http://127.0.0.1:5000"

	traceHeader = "X-Trace-ID"
)

var ErrRelayUnauthorized = errors.New("relay: authentication failed")

// RelayResponse — ответ ретранслятора как есть.
type RelayResponse struct {
	Status int
	Body   []byte
}

type traceKey struct{}

// WithTrace привязывает trace-id сессии к исходящим запросам.
func WithTrace(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// RelayClient — HTTP-клиент локального ретранслятора.
type RelayClient struct {
	baseURL string
	http    *http.Client
}

func NewRelayClient(baseURL string, client *http.Client) *RelayClient {
	if baseURL == "" {
		baseURL = DefaultRelayURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &RelayClient{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

func (c *RelayClient) LivenessURL() string {
	return c.baseURL + "/liveness"
}

func (c *RelayClient) CheckQR(ctx context.Context, value string) (*RelayResponse, error) {
	return c.post(ctx, "/query/qr/check", map[string]string{"value": value})
}

func (c *RelayClient) QueryQR(ctx context.Context, value, livenessID string) (*RelayResponse, error) {
	return c.post(ctx, "/query/qr", map[string]string{
		"value":                    value,
		"face_liveness_session_id": livenessID,
	})
}

func (c *RelayClient) Query(ctx context.Context, q QueryFields, livenessID string) (*RelayResponse, error) {
	return c.post(ctx, "/query", map[string]string{
		"first_name":               q.FirstName,
		"middle_name":              q.MiddleName,
		"last_name":                q.LastName,
		"suffix":                   q.Suffix,
		"birth_date":               q.BirthDate,
		"face_liveness_session_id": livenessID,
	})
}

// StoreVerification отдает ответ внешнего API ретранслятору на сохранение.
func (c *RelayClient) StoreVerification(ctx context.Context, data json.RawMessage) error {
	resp, err := c.post(ctx, "/store_verification", map[string]json.RawMessage{"data": data})
	if err != nil {
		return err
	}
	if resp.Status != http.StatusOK {
		return fmt.Errorf("relay: store verification: status %d", resp.Status)
	}
	return nil
}

// Liveness читает слот без очистки.
func (c *RelayClient) Liveness(ctx context.Context) (string, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/liveness_result", nil)
	if err != nil {
		return "", false, err
	}
	switch resp.Status {
	case http.StatusNoContent:
		return "", false, nil
	case http.StatusOK:
		var body struct {
			SessionID string `json:"face_liveness_session_id"`
		}
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			return "", false, fmt.Errorf("relay: decode liveness: %w", err)
		}
		return body.SessionID, body.SessionID != "", nil
	default:
		return "", false, fmt.Errorf("relay: liveness: status %d", resp.Status)
	}
}

func (c *RelayClient) ClearLiveness(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodDelete, "/liveness_result", nil)
	if err != nil {
		return err
	}
	if resp.Status != http.StatusOK && resp.Status != http.StatusNoContent {
		return fmt.Errorf("relay: clear liveness: status %d", resp.Status)
	}
	return nil
}

func (c *RelayClient) post(ctx context.Context, path string, payload any) (*RelayResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("relay: marshal %s: %w", path, err)
	}
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *RelayClient) do(ctx context.Context, method, path string, body []byte) (*RelayResponse, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("relay: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id, ok := ctx.Value(traceKey{}).(string); ok {
		req.Header.Set(traceHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("relay: read %s: %w", path, err)
	}
	return &RelayResponse{Status: resp.StatusCode, Body: raw}, nil
}
