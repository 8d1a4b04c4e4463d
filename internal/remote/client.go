// Package remote implements the HTTP client for the synchronization service,
// the inference client for leaf-disease analysis, and the websocket change
// feed that nudges the sync engine when the server has news.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/arborsense/leafvault/pkg/types"
)

// RejectedError marks a write the server refused for contract reasons.
// Retrying the identical request cannot succeed, so the pending machinery
// treats it as terminal. Wraps types.ErrRejected.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("remote rejected request: status %d: %s", e.StatusCode, e.Body)
}

func (e *RejectedError) Unwrap() error { return types.ErrRejected }

// Client talks to the synchronization service. It implements
// types.RemoteStore. Transport failures and 5xx responses come back as plain
// errors the caller may retry; 400/409/422 come back as *RejectedError.
type Client struct {
	baseURL string
	userID  int64
	http    *http.Client
	logger  *log.Logger
}

var _ types.RemoteStore = (*Client)(nil)

// NewClient creates a sync-service client. baseURL is the service root
// without a trailing slash. If logger is nil, a default logger writing to
// stderr is used.
func NewClient(baseURL string, userID int64, timeout time.Duration, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Ping checks service health. Used as the connectivity probe.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	return nil
}

// Changes returns every entity in the collection modified strictly after
// since, ordered by update time. A zero since asks for the full collection.
func (c *Client) Changes(ctx context.Context, collection string, since time.Time) ([]*types.Entity, error) {
	endpoint := fmt.Sprintf("%s/api/v1/%s", c.baseURL, url.PathEscape(collection))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	q.Set("user_id", strconv.FormatInt(c.userID, 10))
	req.URL.RawQuery = q.Encode()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}
	var entities []*types.Entity
	if err := json.NewDecoder(resp.Body).Decode(&entities); err != nil {
		return nil, fmt.Errorf("decoding %s changes: %w", collection, err)
	}
	return entities, nil
}

// Put writes the entity to the server, creating or replacing by id.
func (c *Client) Put(ctx context.Context, e *types.Entity) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/api/v1/%s/%s",
		c.baseURL, url.PathEscape(e.Collection), url.PathEscape(e.ID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkStatus(resp)
}

// Delete removes the entity on the server. Deleting an id the server does not
// know is treated as success.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	endpoint := fmt.Sprintf("%s/api/v1/%s/%s",
		c.baseURL, url.PathEscape(collection), url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return c.checkStatus(resp)
}

// checkStatus maps a response status to nil, a terminal *RejectedError, or a
// retryable error. The body is drained so connections can be reused.
func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return &RejectedError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return fmt.Errorf("remote request failed: status %d: %s",
		resp.StatusCode, strings.TrimSpace(string(body)))
}
