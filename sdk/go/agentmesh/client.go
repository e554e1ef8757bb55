package agentmesh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the AgentMesh Chain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// TaskSubmission represents the payload required to publish a new task.
type TaskSubmission struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Task mirrors the coordination core's task entity on the wire.
type Task struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Status      string      `json:"status"`
	CreatedBy   string      `json:"created_by"`
	AssignedTo  string      `json:"assigned_to,omitempty"`
	Result      *TaskResult `json:"result,omitempty"`
	Version     int64       `json:"version"`
	CreatedAt   int64       `json:"created_at"`
	UpdatedAt   int64       `json:"updated_at"`
}

// TaskResult carries the executor's output and metadata.
type TaskResult struct {
	Output   any            `json:"output,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Payment mirrors the escrow payment entity on the wire.
type Payment struct {
	ID                  string         `json:"id"`
	TaskID              string         `json:"task_id"`
	Payer               string         `json:"payer"`
	Payee               string         `json:"payee"`
	Amount              string         `json:"amount"`
	Currency            string         `json:"currency"`
	Status              string         `json:"status"`
	AuthorizationHandle string         `json:"authorization_handle,omitempty"`
	SettlementReceipt   *Receipt       `json:"settlement_receipt,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	CreatedAt           int64          `json:"created_at"`
	CompletedAt         int64          `json:"completed_at,omitempty"`
}

// Receipt identifies a settled ledger transfer.
type Receipt struct {
	TransactionID string `json:"transaction_id"`
	Timestamp     string `json:"timestamp"`
}

// ThreadMessage is one entry of an A2A negotiation thread.
type ThreadMessage struct {
	ID        string         `json:"id"`
	Protocol  string         `json:"protocol"`
	Type      string         `json:"type"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	ThreadID  string         `json:"thid"`
	Timestamp string         `json:"timestamp"`
	Body      map[string]any `json:"body,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("agentmesh api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the AgentMesh Chain API. When httpClient
// is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SubmitTask publishes a new task to the marketplace.
func (c *Client) SubmitTask(ctx context.Context, submission TaskSubmission) (Task, error) {
	var created Task
	if err := c.post(ctx, "/api/v1/tasks", submission, &created); err != nil {
		return Task{}, err
	}
	return created, nil
}

// GetTask fetches task details by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var detail Task
	if err := c.get(ctx, "/api/v1/tasks/"+url.PathEscape(taskID), &detail); err != nil {
		return Task{}, err
	}
	return detail, nil
}

// ListTasks returns the most recent tasks, newest first.
func (c *Client) ListTasks(ctx context.Context, limit int) ([]Task, error) {
	endpoint := "/api/v1/tasks"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var tasks []Task
	if err := c.get(ctx, endpoint, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetPayment fetches an escrow payment by identifier.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	var detail Payment
	if err := c.get(ctx, "/api/v1/payments/"+url.PathEscape(paymentID), &detail); err != nil {
		return Payment{}, err
	}
	return detail, nil
}

// GetThread fetches the A2A negotiation thread with the given thread id.
func (c *Client) GetThread(ctx context.Context, threadID string) ([]ThreadMessage, error) {
	var thread []ThreadMessage
	if err := c.get(ctx, "/api/v1/threads/"+threadID, &thread); err != nil {
		return nil, err
	}
	return thread, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(bytes.TrimSpace(data)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
