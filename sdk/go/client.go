package taskflowsdk

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
)

// Client is a minimal Taskflow HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API prefix,
// e.g. http://localhost:8080/v1.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID             string  `json:"id"`
	ProjectID      string  `json:"project_id"`
	Title          string  `json:"title"`
	Priority       string  `json:"priority"`
	StageID        string  `json:"stage_id"`
	Position       int     `json:"position"`
	DueDate        *string `json:"due_date,omitempty"`
	ParentID       *string `json:"parent_id,omitempty"`
	ApprovalStatus string  `json:"approval_status"`
}

// NewTask carries the fields accepted when creating a task.
type NewTask struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	StageID     string   `json:"stage_id,omitempty"`
	DueDate     string   `json:"due_date,omitempty"`
	ParentID    string   `json:"parent_id,omitempty"`
	Assignees   []string `json:"assignees,omitempty"`
}

// WIPWarning is returned when a move lands in a warning-mode stage at its limit.
type WIPWarning struct {
	StageID string `json:"stage_id"`
	Limit   int    `json:"limit"`
	Count   int    `json:"count"`
}

// MoveResult is the outcome of a move or rejection.
type MoveResult struct {
	Task        Task        `json:"task"`
	FromStageID string      `json:"from_stage_id"`
	Moved       bool        `json:"moved"`
	Warning     *WIPWarning `json:"warning,omitempty"`
}

// Event represents a change feed entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Changes is a page of the change feed. Cursor is passed back as after.
type Changes struct {
	Events []Event `json:"events"`
	Cursor int64   `json:"cursor"`
}

// AttentionItem is an inbox entry.
type AttentionItem struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Priority string  `json:"priority"`
	Title    string  `json:"title"`
	Body     string  `json:"body,omitempty"`
	TaskID   *string `json:"task_id,omitempty"`
	ReadAt   *string `json:"read_at,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a task in a project.
func (c *Client) CreateTask(ctx context.Context, projectID string, task NewTask) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("projects/%s/tasks", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, task, &resp)
	return resp, err
}

// MoveTask moves a task to a stage. A nil index appends.
func (c *Client) MoveTask(ctx context.Context, taskID, stageID string, index *int) (MoveResult, error) {
	body := map[string]any{"to_stage_id": stageID}
	if index != nil {
		body["index"] = *index
	}
	var resp MoveResult
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "move"), body, &resp)
	return resp, err
}

// Approve approves a task pending in the done stage.
func (c *Client) Approve(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "approve"), nil, &resp)
	return resp, err
}

// Reject sends a pending task back to returnStageID.
func (c *Client) Reject(ctx context.Context, taskID, returnStageID, reason string) (MoveResult, error) {
	body := map[string]any{
		"return_stage_id": returnStageID,
		"reason":          reason,
	}
	var resp MoveResult
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "reject"), body, &resp)
	return resp, err
}

// AddDependency records that blockingID blocks taskID.
func (c *Client) AddDependency(ctx context.Context, taskID, blockingID string) error {
	body := map[string]any{"blocking_task_id": blockingID}
	return c.do(ctx, http.MethodPost, taskPath(taskID, "dependencies"), body, nil)
}

// Changes returns events after the cursor, oldest first.
func (c *Client) Changes(ctx context.Context, projectID string, after int64, limit int) (Changes, error) {
	q := url.Values{}
	q.Set("after", fmt.Sprint(after))
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := fmt.Sprintf("projects/%s/changes?%s", url.PathEscape(projectID), q.Encode())
	var resp Changes
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Inbox lists the caller's attention items.
func (c *Client) Inbox(ctx context.Context, unreadOnly bool) ([]AttentionItem, error) {
	endpoint := "inbox"
	if unreadOnly {
		endpoint += "?unread_only=true"
	}
	var resp []AttentionItem
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MarkRead marks inbox items read and returns how many changed.
func (c *Client) MarkRead(ctx context.Context, ids ...string) (int64, error) {
	var resp struct {
		Count int64 `json:"count"`
	}
	err := c.do(ctx, http.MethodPost, "inbox/read", map[string]any{"ids": ids}, &resp)
	return resp.Count, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func taskPath(taskID, action string) string {
	return fmt.Sprintf("tasks/%s/%s", url.PathEscape(taskID), action)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
