package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// CaseResponse — кейс из API.
type CaseResponse struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Payload       map[string]any `json:"payload,omitempty"`
	Priority      string         `json:"priority"`
	State         string         `json:"state"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Version       int            `json:"version"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     string         `json:"created_at"`
	FinishedAt    string         `json:"finished_at,omitempty"`
	InstanceID    string         `json:"instance_id,omitempty"`
}

// CaseDetailResponse — кейс вместе с workflow-состоянием.
type CaseDetailResponse struct {
	CaseResponse
	Workflow *InstanceResponse `json:"workflow,omitempty"`
}

// InstanceResponse — workflow-экземпляр из API.
type InstanceResponse struct {
	ID                string                    `json:"id"`
	DefinitionID      string                    `json:"definition_id"`
	DefinitionVersion int                       `json:"definition_version"`
	Status            string                    `json:"status"`
	StepStatuses      map[string]string         `json:"step_statuses"`
	StepOutputs       map[string]map[string]any `json:"step_outputs,omitempty"`
	StepErrors        map[string]string         `json:"step_errors,omitempty"`
	StartedAt         string                    `json:"started_at"`
	CompletedAt       string                    `json:"completed_at,omitempty"`
}

// TransitionResponse — запись перехода состояния из API.
type TransitionResponse struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Trigger string `json:"trigger"`
	Actor   string `json:"actor"`
	At      string `json:"at"`
	HeldMs  int64  `json:"held_ms"`
}

// DefinitionResponse — definition из API.
type DefinitionResponse struct {
	ID        string         `json:"id"`
	CaseType  string         `json:"case_type"`
	Version   int            `json:"version"`
	Spec      map[string]any `json:"spec"`
	CreatedAt string         `json:"created_at"`
}

// QueueStatsResponse — статистика очереди из API.
type QueueStatsResponse struct {
	Depth  map[string]int64 `json:"depth"`
	Leased int64            `json:"leased"`
	Dead   int64            `json:"dead"`
	Total  int64            `json:"total"`
}

// DeadLetterResponse — задача из dead-letter списка.
type DeadLetterResponse struct {
	TaskID     string `json:"task_id"`
	CaseID     string `json:"case_id"`
	StepID     string `json:"step_id"`
	Capability string `json:"capability"`
	Priority   string `json:"priority"`
	Attempt    int    `json:"attempt"`
	Error      string `json:"error,omitempty"`
	EnqueuedAt string `json:"enqueued_at"`
}

// --- Request types ---

// SubmitCaseRequest — создание кейса.
type SubmitCaseRequest struct {
	Type          string         `json:"type"`
	Payload       map[string]any `json:"payload,omitempty"`
	Priority      string         `json:"priority,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// RegisterDefinitionRequest — регистрация definition.
type RegisterDefinitionRequest struct {
	CaseType string          `json:"case_type"`
	Spec     json.RawMessage `json:"spec"`
}

// ListCasesOpts — параметры фильтрации кейсов.
type ListCasesOpts struct {
	Type  string
	State string
	Limit int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Tribunal API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Cases ---

// SubmitCase создаёт новый кейс.
func (c *Client) SubmitCase(req SubmitCaseRequest) (*CaseResponse, error) {
	var cs CaseResponse
	err := c.post("/api/v1/cases", req, &cs)
	return &cs, err
}

// ListCases возвращает список кейсов с фильтрацией.
func (c *Client) ListCases(opts ListCasesOpts) ([]CaseResponse, error) {
	params := url.Values{}
	if opts.Type != "" {
		params.Set("type", opts.Type)
	}
	if opts.State != "" {
		params.Set("state", opts.State)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var cases []CaseResponse
	err := c.list("/api/v1/cases", params, &cases)
	return cases, err
}

// GetCase возвращает кейс вместе с workflow-состоянием.
func (c *Client) GetCase(id string) (*CaseDetailResponse, error) {
	var cs CaseDetailResponse
	err := c.get("/api/v1/cases/"+id, &cs)
	return &cs, err
}

// ListTransitions возвращает историю переходов кейса.
func (c *Client) ListTransitions(id string) ([]TransitionResponse, error) {
	var transitions []TransitionResponse
	err := c.list("/api/v1/cases/"+id+"/transitions", nil, &transitions)
	return transitions, err
}

// CancelCase отменяет кейс.
func (c *Client) CancelCase(id string) (*CaseResponse, error) {
	var cs CaseResponse
	err := c.post("/api/v1/cases/"+id+"/cancel", nil, &cs)
	return &cs, err
}

// --- Definitions ---

// RegisterDefinition регистрирует новую версию definition.
func (c *Client) RegisterDefinition(caseType string, spec json.RawMessage) (*DefinitionResponse, error) {
	var def DefinitionResponse
	err := c.post("/api/v1/definitions", RegisterDefinitionRequest{CaseType: caseType, Spec: spec}, &def)
	return &def, err
}

// ListDefinitions возвращает последние версии всех definitions.
func (c *Client) ListDefinitions() ([]DefinitionResponse, error) {
	var defs []DefinitionResponse
	err := c.list("/api/v1/definitions", nil, &defs)
	return defs, err
}

// GetDefinition возвращает definition по ID.
func (c *Client) GetDefinition(id string) (*DefinitionResponse, error) {
	var def DefinitionResponse
	err := c.get("/api/v1/definitions/"+id, &def)
	return &def, err
}

// --- Queue ---

// QueueStats возвращает статистику очереди.
func (c *Client) QueueStats() (*QueueStatsResponse, error) {
	var stats QueueStatsResponse
	err := c.get("/api/v1/queue/stats", &stats)
	return &stats, err
}

// ListDeadLetters возвращает dead-letter задачи.
func (c *Client) ListDeadLetters(limit int) ([]DeadLetterResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}

	var tasks []DeadLetterResponse
	err := c.list("/api/v1/queue/deadletters", params, &tasks)
	return tasks, err
}

// ReplayDeadLetter возвращает задачу из dead-letter в очередь.
func (c *Client) ReplayDeadLetter(taskID string) error {
	return c.post("/api/v1/queue/deadletters/"+taskID+"/replay", nil, nil)
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
