package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/common"
	"github.com/dmitrijs2005/gardenkeeper/internal/netx"
	"github.com/dmitrijs2005/gardenkeeper/internal/syncproto"
)

const (
	SyncPath = "/api/v1/sync"
	PingPath = "/api/v1/ping"
)

// HTTPClient talks to the remote's HTTP endpoint. A 409 response carries a
// conflict body and is not an error.
type HTTPClient struct {
	baseURL  string
	clientID string
	http     *http.Client
}

func NewHTTPClient(baseURL, clientID string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	code, body, err := netx.DoJSON(ctx, c.http, http.MethodGet, c.baseURL+PingPath, c.headers(""), nil)
	if err != nil {
		return mapTransportError(err)
	}
	if code != http.StatusOK {
		return ErrUnavailable
	}
	var resp syncproto.PingResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Status != syncproto.StatusOK {
		return ErrUnavailable
	}
	return nil
}

func (c *HTTPClient) Push(ctx context.Context, req *syncproto.PushRequest) (*syncproto.PushResponse, error) {
	code, body, err := netx.DoJSON(ctx, c.http, http.MethodPost, c.baseURL+SyncPath, c.headers(req.IdempotencyKey), req)
	if err != nil {
		return nil, mapTransportError(err)
	}

	switch {
	case code == http.StatusOK || code == http.StatusConflict:
		var resp syncproto.PushResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode sync response: %w", err)
		}
		return &resp, nil
	case code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout:
		return nil, fmt.Errorf("%w: http status %d", common.ErrNetwork, code)
	default:
		return nil, fmt.Errorf("sync rejected: http status %d: %s", code, strings.TrimSpace(string(body)))
	}
}

func (c *HTTPClient) headers(idempotencyKey string) map[string]string {
	h := map[string]string{common.ClientIDHeaderName: c.clientID}
	if idempotencyKey != "" {
		h[common.IdempotencyHeaderName] = idempotencyKey
	}
	return h
}

func mapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return fmt.Errorf("%w: %v", common.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", common.ErrNetwork, err)
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
