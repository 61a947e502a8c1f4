package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultInvokeTimeout = 30 * time.Second
	maxResponseBody      = 10 * 1024 * 1024 // 10 MB
)

// HTTPCapability — capability, делегирующая работу внешнему сервису
// по HTTP.
//
// Invoke отправляет POST с JSON-телом:
//
//	{
//	    "step_id": "classify",
//	    "correlation_id": "…",
//	    "payload": {...}
//	}
//
// Ответ 2xx с JSON-телом трактуется как outputs шага. Ответ 4xx —
// permanent-ошибка (повторять бессмысленно), 5xx и сетевые ошибки —
// transient (очередь сделает retry с backoff).
type HTTPCapability struct {
	name     string
	endpoint string
	headers  map[string]string
	client   *http.Client
}

// NewHTTPCapability создаёт HTTP capability.
func NewHTTPCapability(name, endpoint string, headers map[string]string) *HTTPCapability {
	return &HTTPCapability{
		name:     name,
		endpoint: endpoint,
		headers:  headers,
		client: &http.Client{
			Timeout: defaultInvokeTimeout,
		},
	}
}

// Name возвращает имя capability.
func (c *HTTPCapability) Name() string { return c.name }

// invokeBody — тело запроса к внешнему сервису.
type invokeBody struct {
	StepID        string         `json:"step_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Payload       map[string]any `json:"payload"`
}

// Invoke выполняет POST к endpoint сервиса.
func (c *HTTPCapability) Invoke(ctx context.Context, req *Request) (*Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultInvokeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(invokeBody{
		StepID:        req.StepID,
		CorrelationID: req.CorrelationID,
		Payload:       req.Payload,
	})
	if err != nil {
		return nil, Permanent(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s", ErrInvocationTimeout, c.name)
		}
		return nil, fmt.Errorf("invoke %s: %w", c.name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		outputs := make(map[string]any)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &outputs); err != nil {
				return nil, Permanent(fmt.Errorf("parse response: %w", err))
			}
		}
		return NewResult(outputs), nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, Permanent(fmt.Errorf("invoke %s: status %d: %s",
			c.name, resp.StatusCode, truncate(data, 256)))

	default:
		return nil, fmt.Errorf("invoke %s: status %d: %s",
			c.name, resp.StatusCode, truncate(data, 256))
	}
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "…"
}
