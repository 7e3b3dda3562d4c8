package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/yourusername/gqlsync/internal/logging"
	"github.com/yourusername/gqlsync/internal/models"
)

// HTTPClient executes queries and mutations with GraphQL over HTTP POST.
// Each operation yields at most one data callback followed by completion.
// Responses are dispatched one at a time, like envelopes on a socket.
type HTTPClient struct {
	url    string
	http   *http.Client
	Header http.Header

	mu     sync.Mutex
	active map[string]context.CancelFunc
	ctx    context.Context
	cancel context.CancelFunc

	dispatchMu sync.Mutex
	wg         sync.WaitGroup
}

type httpResponse struct {
	Data   json.RawMessage  `json:"data"`
	Errors models.ErrorList `json:"errors,omitempty"`
}

// NewHTTPClient creates an HTTP network for url
func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPClient{
		url:    url,
		http:   &http.Client{Timeout: timeout},
		Header: make(http.Header),
		active: make(map[string]context.CancelFunc),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Execute posts the operation in the background
func (c *HTTPClient) Execute(h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx.Err() != nil {
		return ErrShutdown
	}
	id := h.ID()
	if _, ok := c.active[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.active[id] = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx, h)
	}()
	return nil
}

// Complete cancels an in-flight request. Its callbacks will not run.
func (c *HTTPClient) Complete(h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cancel, ok := c.active[h.ID()]; ok {
		cancel()
		delete(c.active, h.ID())
	}
	return nil
}

// Close cancels all requests and waits for them to finish
func (c *HTTPClient) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *HTTPClient) run(ctx context.Context, h Handler) {
	resp, err := c.post(ctx, h.Payload())

	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	// skip callbacks if the handler was completed while waiting
	c.mu.Lock()
	_, live := c.active[h.ID()]
	delete(c.active, h.ID())
	c.mu.Unlock()
	if !live || ctx.Err() != nil {
		return
	}

	if err != nil {
		logging.Info().Err(err).Str("url", c.url).Str("id", h.ID()).Msg("http operation failed")
		h.OnError(models.ErrorList{{Message: err.Error()}})
		return
	}

	payload := models.NextPayload{Data: resp.Data, Errors: resp.Errors}
	if !payload.HasData() && len(resp.Errors) > 0 {
		h.OnError(resp.Errors)
		return
	}
	if payload.HasData() {
		if err := h.OnData(payload); err != nil {
			logging.Error().Err(err).Str("id", h.ID()).Msg("handler rejected response")
		}
	}
	h.OnCompleted()
}

func (c *HTTPClient) post(ctx context.Context, payload models.OperationPayload) (*httpResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var out httpResponse
	if err := json.Unmarshal(data, &out); err != nil {
		if res.StatusCode >= 400 {
			return nil, fmt.Errorf("server returned %s", res.Status)
		}
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &out, nil
}
