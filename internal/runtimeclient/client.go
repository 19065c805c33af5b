// Package runtimeclient is the HTTP client for the single remote
// Runtime capability consumed by OB, WC, and GC (spec.md section
// 4.7). It exposes exactly the nine fixed RPCs the spec names; every
// state-changing call is idempotent on (workspace_id, op_id), so
// retries after a timeout or crash are always safe to repeat.
//
// Grounded on the teacher's pkg/runtime package shape (a single
// doc.go describing the capability plus one file implementing the
// calls) with the containerd/gRPC calls replaced by HTTP calls to the
// spec'd Agent surface — no generic REST client library in the pack
// fits a fixed 9-RPC surface better than a thin wrapper over
// net/http, so that part stays stdlib (see DESIGN.md).
package runtimeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a thin wrapper over net/http scoped to one Runtime
// endpoint and API key.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// New builds a Client with the given per-call timeout as the HTTP
// client's default (callers may still pass a shorter-deadlined
// context).
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

// ContainerObservation is one entry of observe_all's container list.
type ContainerObservation struct {
	Running bool   `json:"running"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// ArchiveObservation is one entry of observe_all's archive list.
type ArchiveObservation struct {
	LatestKey string `json:"latest_key"`
	Reason    string `json:"reason"`
}

// ObserveAllResult is OB's ≤3-calls-per-tick bulk observation.
type ObserveAllResult struct {
	Containers map[string]ContainerObservation `json:"containers"`
	Volumes    map[string]bool                 `json:"volumes"`
	Archives   map[string]ArchiveObservation    `json:"archives"`
}

// ObserveAll lists all containers, volumes, and archives under
// prefix in a single call.
func (c *Client) ObserveAll(ctx context.Context, prefix string) (ObserveAllResult, error) {
	var out ObserveAllResult
	err := c.post(ctx, "/observe_all", map[string]any{"prefix": prefix}, &out)
	return out, err
}

// Status is the completion state any of the single-resource RPCs may
// report.
type Status string

const (
	StatusCompleted      Status = "completed"
	StatusAlreadyRunning Status = "already_running"
	StatusAlreadyStopped Status = "already_stopped"
	StatusAlreadyExists  Status = "already_exists"
	StatusInProgress     Status = "in_progress"
)

type statusResponse struct {
	Status Status `json:"status"`
}

func (c *Client) StartContainer(ctx context.Context, workspaceID, opID, imageRef string) (Status, error) {
	var out statusResponse
	err := c.post(ctx, "/start_container", map[string]any{"workspace_id": workspaceID, "op_id": opID, "image_ref": imageRef}, &out)
	return out.Status, err
}

func (c *Client) StopContainer(ctx context.Context, workspaceID, opID string) (Status, error) {
	var out statusResponse
	err := c.post(ctx, "/stop_container", map[string]any{"workspace_id": workspaceID, "op_id": opID}, &out)
	return out.Status, err
}

func (c *Client) DeleteContainer(ctx context.Context, workspaceID, opID string) (Status, error) {
	var out statusResponse
	err := c.post(ctx, "/delete_container", map[string]any{"workspace_id": workspaceID, "op_id": opID}, &out)
	return out.Status, err
}

func (c *Client) CreateVolume(ctx context.Context, workspaceID, opID string) (Status, error) {
	var out statusResponse
	err := c.post(ctx, "/create_volume", map[string]any{"workspace_id": workspaceID, "op_id": opID}, &out)
	return out.Status, err
}

func (c *Client) DeleteVolume(ctx context.Context, workspaceID, opID string) (Status, error) {
	var out statusResponse
	err := c.post(ctx, "/delete_volume", map[string]any{"workspace_id": workspaceID, "op_id": opID}, &out)
	return out.Status, err
}

// JobResult is the outcome of a helper-container job (archive or
// restore): an exit code and captured logs.
type JobResult struct {
	ExitCode   int    `json:"exit_code"`
	Logs       string `json:"logs"`
	ArchiveKey string `json:"archive_key,omitempty"`
}

func (c *Client) RunArchive(ctx context.Context, workspaceID, opID string) (JobResult, error) {
	var out JobResult
	err := c.post(ctx, "/run_archive", map[string]any{"workspace_id": workspaceID, "op_id": opID}, &out)
	return out, err
}

func (c *Client) RunRestore(ctx context.Context, workspaceID, opID, archiveKey string) (JobResult, error) {
	var out JobResult
	err := c.post(ctx, "/run_restore", map[string]any{"workspace_id": workspaceID, "op_id": opID, "archive_key": archiveKey}, &out)
	return out, err
}

// ProtectedRef names a (workspace_id, op_id) pair GC must never treat
// as orphaned, even if the Runtime's own bookkeeping briefly disagrees.
type ProtectedRef struct {
	WorkspaceID string `json:"workspace_id"`
	OpID        string `json:"op_id"`
}

type runGCResponse struct {
	DeletedCount int      `json:"deleted_count"`
	DeletedKeys  []string `json:"deleted_keys"`
}

func (c *Client) RunGC(ctx context.Context, protected []ProtectedRef) (deletedCount int, deletedKeys []string, err error) {
	var out runGCResponse
	err = c.post(ctx, "/run_gc", map[string]any{"protected": protected}, &out)
	return out.DeletedCount, out.DeletedKeys, err
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("runtimeclient: marshal %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("runtimeclient: build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TransportError{Path: path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("runtimeclient: read response %s: %w", path, err)
	}

	if resp.StatusCode >= 500 {
		return TransportError{Path: path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
	}
	if resp.StatusCode >= 400 {
		return StatusError{Path: path, Code: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("runtimeclient: decode response %s: %w", path, err)
		}
	}
	return nil
}

// TransportError wraps a network-level failure (connection
// refused/reset, timeout, 5xx): callers classify this as retryable.
type TransportError struct {
	Path string
	Err  error
}

func (e TransportError) Error() string {
	return fmt.Sprintf("runtimeclient: %s: transport error: %v", e.Path, e.Err)
}

func (e TransportError) Unwrap() error { return e.Err }

// StatusError wraps a non-2xx, non-5xx response (4xx): these
// represent a permanent rejection by the Runtime (e.g. bad request,
// not found) and callers classify them as terminal.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("runtimeclient: %s: status %d: %s", e.Path, e.Code, e.Body)
}
