// Package client is a thin HTTP client for the convoyd API, used by the
// convoy CLI.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CO3302Group3/convoy/internal/server"
	"github.com/CO3302Group3/convoy/internal/spec"
)

// ValidationError carries the per-field messages from a rejected stack.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("stack validation failed:\n  %s", strings.Join(e.Errors, "\n  "))
}

// TeardownTimeoutError reports that the daemon gave up on a teardown before
// every service stopped.
type TeardownTimeoutError struct {
	Stack string
}

func (e *TeardownTimeoutError) Error() string {
	return fmt.Sprintf("teardown of stack %q timed out", e.Stack)
}

// Client talks to a convoyd server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the daemon at baseURL (e.g. http://127.0.0.1:7711).
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

// CreateResponse is the daemon's answer to a stack submission.
type CreateResponse struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Stages [][]string `json:"stages"`
}

// CreateStack submits a stack for bring-up. Validation failures are returned
// as *ValidationError.
func (c *Client) CreateStack(ctx context.Context, stack *spec.Stack) (CreateResponse, error) {
	body, err := json.Marshal(stack)
	if err != nil {
		return CreateResponse{}, fmt.Errorf("encode stack: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/stacks", bytes.NewReader(body))
	if err != nil {
		return CreateResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return CreateResponse{}, fmt.Errorf("connect to daemon: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		var out CreateResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return CreateResponse{}, fmt.Errorf("decode response: %w", err)
		}
		return out, nil

	case http.StatusUnprocessableEntity:
		var payload struct {
			ValidationErrors []string `json:"validation_errors"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return CreateResponse{}, fmt.Errorf("decode response: %w", err)
		}
		return CreateResponse{}, &ValidationError{Errors: payload.ValidationErrors}

	default:
		return CreateResponse{}, apiError(resp)
	}
}

// GetStack fetches the status snapshot for a stack by instance ID or name.
func (c *Client) GetStack(ctx context.Context, key string) (server.StackStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/stacks/"+url.PathEscape(key), nil)
	if err != nil {
		return server.StackStatus{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return server.StackStatus{}, fmt.Errorf("connect to daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return server.StackStatus{}, apiError(resp)
	}
	var out server.StackStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return server.StackStatus{}, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// ListStacks fetches status snapshots for all known stacks.
func (c *Client) ListStacks(ctx context.Context) ([]server.StackStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stacks", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var out []server.StackStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// Down tears a stack down, blocking until the daemon finishes or gives up.
// A daemon-side teardown timeout is returned as *TeardownTimeoutError.
func (c *Client) Down(ctx context.Context, key string, timeout time.Duration) error {
	u := c.baseURL + "/stacks/" + url.PathEscape(key) + "/down"
	if timeout > 0 {
		u += "?timeout=" + url.QueryEscape(timeout.String())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusGatewayTimeout:
		io.Copy(io.Discard, resp.Body)
		return &TeardownTimeoutError{Stack: key}
	default:
		return apiError(resp)
	}
}

// Events streams lifecycle events for a stack, invoking fn for each one.
// Returns nil when fn reports stop, the stream ends, or ctx is cancelled.
func (c *Client) Events(ctx context.Context, key string, fn func(server.Event) (stop bool)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/stacks/"+url.PathEscape(key)+"/events", nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")

		case line == "" && data != "":
			var event server.Event
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			data = ""
			if fn(event) {
				return nil
			}
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("event stream: %w", err)
	}
	return nil
}

// Logs copies a service's captured output to w. With follow=true the stream
// stays open until ctx is cancelled.
func (c *Client) Logs(ctx context.Context, key, service string, follow bool, w io.Writer) error {
	u := c.baseURL + "/stacks/" + url.PathEscape(key) +
		"/services/" + url.PathEscape(service) + "/logs"
	if follow {
		u += "?follow=true"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	if _, err := io.Copy(w, resp.Body); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream logs: %w", err)
	}
	return nil
}

// apiError decodes the daemon's {"error": ...} payload into an error.
func apiError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		return fmt.Errorf("daemon: %s (HTTP %d)", payload.Error, resp.StatusCode)
	}
	return fmt.Errorf("daemon: HTTP %d", resp.StatusCode)
}
