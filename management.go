package authzero

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trisongz/authzero/flows"
)

// ManagementClient talks to the provider's management API, authenticating
// with a cached client-credentials token scoped to the management audience.
type ManagementClient struct {
	baseURL string
	http    *http.Client
	tokens  *flows.ClientCredentials
}

func NewManagementClient(baseURL string, httpClient *http.Client, tokens *flows.ClientCredentials) *ManagementClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &ManagementClient{baseURL: baseURL, http: httpClient, tokens: tokens}
}

// GetUser fetches the provider record for one subject.
func (m *ManagementClient) GetUser(ctx context.Context, userID string) (flows.UserRecord, error) {
	var rec flows.UserRecord
	body, err := m.Get(ctx, "users/"+url.PathEscape(userID))
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(body, &rec); err != nil {
		return rec, fmt.Errorf("authzero: decoding user record: %w", err)
	}
	if rec.UserID == "" {
		rec.UserID = userID
	}
	return rec, nil
}

// Get performs an authenticated GET against the management API. A provider
// 404 surfaces as ErrNotFound and a 400 as ErrBadRequest so callers can
// special-case them; every other non-2xx response is ErrInvalidOperation.
func (m *ManagementClient) Get(ctx context.Context, path string) ([]byte, error) {
	return m.do(ctx, http.MethodGet, path, nil)
}

func (m *ManagementClient) do(ctx context.Context, method, path string, payload io.Reader) ([]byte, error) {
	auth, err := m.tokens.AuthHeader(ctx)
	if err != nil {
		return nil, fmt.Errorf("authzero: obtaining management token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", ErrBadRequest, strings.TrimSpace(string(body)))
	default:
		log.Printf("authzero: management api %s %s returned %d", method, path, resp.StatusCode)
		return nil, fmt.Errorf("%w: [%d] error doing %s %s", ErrInvalidOperation, resp.StatusCode, method, path)
	}
}
