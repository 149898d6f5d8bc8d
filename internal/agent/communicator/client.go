package communicator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/monihub/monihub/internal/agent/state"
	"go.uber.org/zap"
)

// TaskItem is one unit of work handed out by the control plane.
type TaskItem struct {
	TaskID         uint                   `json:"task_id"`
	RecordID       uint                   `json:"record_id"`
	TaskType       string                 `json:"task_type"`
	TaskContent    map[string]interface{} `json:"task_content"`
	TimeoutSeconds int                    `json:"timeout_seconds"`
	Priority       int                    `json:"priority"`
}

type PullTasksResponse struct {
	Tasks     []TaskItem `json:"tasks"`
	Timestamp string     `json:"timestamp"`
}

type ReportRequest struct {
	InstanceID      string                 `json:"instance_id"`
	AgentType       string                 `json:"agent_type"`
	AgentVersion    string                 `json:"agent_version"`
	SystemInfo      interface{}            `json:"system_info"`
	NetworkInfo     interface{}            `json:"network_info"`
	HardwareInfo    interface{}            `json:"hardware_info"`
	RuntimeInfo     interface{}            `json:"runtime_info"`
	CustomMetrics   map[string]interface{} `json:"custom_metrics,omitempty"`
	ReportTimestamp string                 `json:"report_timestamp"`
	Logs            []state.LogEntry       `json:"logs,omitempty"`
}

type ReportResponse struct {
	Status   string `json:"status"`
	RecordID uint   `json:"record_id"`
}

type ResultRequest struct {
	RecordID      uint                   `json:"record_id"`
	InstanceID    string                 `json:"instance_id"`
	Status        string                 `json:"status"`
	ResultCode    int                    `json:"result_code"`
	ResultMessage string                 `json:"result_message,omitempty"`
	ResultData    map[string]interface{} `json:"result_data,omitempty"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	StartTime     string                 `json:"start_time"`
	EndTime       string                 `json:"end_time"`
	DurationMs    int64                  `json:"duration_ms"`
}

type Client struct {
	serverURL  string
	httpClient *http.Client
	pollClient *http.Client
	state      *state.AgentState
	logger     *zap.Logger
}

type ClientConfig struct {
	ServerURL string
	Timeout   time.Duration
	State     *state.AgentState
	Logger    *zap.Logger
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		serverURL:  cfg.ServerURL,
		state:      cfg.State,
		logger:     cfg.Logger,
		httpClient: &http.Client{Timeout: timeout},
		// Long-poll requests stay open up to the server-side cap plus margin.
		pollClient: &http.Client{Timeout: 90 * time.Second},
	}
}

// observeStatus drives the circuit breaker: 403 trips it, any 2xx resets it.
func (c *Client) observeStatus(code int) {
	if code == http.StatusForbidden {
		c.state.SetHTTPEnabled(false)
		c.logger.Warn("http circuit breaker tripped", zap.Int("status", code))
		return
	}
	if code >= 200 && code < 300 {
		if !c.state.HTTPEnabled() {
			c.logger.Info("http circuit breaker reset")
		}
		c.state.SetHTTPEnabled(true)
	}
}

func (c *Client) SendReport(req *ReportRequest) (*ReportResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}

	respBody, status, err := c.post(c.serverURL+"/api/open/instances/report", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", status, string(respBody))
	}

	var resp ReportResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse report response: %w", err)
	}
	return &resp, nil
}

func (c *Client) PullTasks(wait bool, timeoutSeconds int) ([]TaskItem, error) {
	query := url.Values{}
	query.Set("agent_instance_id", c.state.InstanceID)
	query.Set("wait", strconv.FormatBool(wait))
	query.Set("timeout", strconv.Itoa(timeoutSeconds))

	pullURL := c.serverURL + "/api/open/instances/tasks?" + query.Encode()
	httpReq, err := http.NewRequest(http.MethodGet, pullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.userAgent())

	client := c.httpClient
	if wait {
		client = c.pollClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.observeStatus(resp.StatusCode)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var pullResp PullTasksResponse
	if err := json.Unmarshal(respBody, &pullResp); err != nil {
		return nil, fmt.Errorf("failed to parse pull response: %w", err)
	}
	return pullResp.Tasks, nil
}

func (c *Client) SubmitResult(req *ResultRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	respBody, status, err := c.post(c.serverURL+"/api/open/instances/tasks/result", body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("server returned status %d: %s", status, string(respBody))
	}
	return nil
}

func (c *Client) post(postURL string, body []byte) ([]byte, int, error) {
	httpReq, err := http.NewRequest(http.MethodPost, postURL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.observeStatus(resp.StatusCode)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

func (c *Client) userAgent() string {
	return fmt.Sprintf("MoniHubAgent/%s", c.state.Config.AgentVersion)
}
