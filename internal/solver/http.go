package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPClient — клиент солвера поверх его HTTP API.
//
// POST {base}/problems принимает задачу и возвращает {"problem_id"};
// GET {base}/problems/{id} возвращает Solution.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient создаёт клиент с базовым URL солвера.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Submit отправляет задачу и возвращает её идентификатор.
func (c *HTTPClient) Submit(ctx context.Context, problem Problem) (string, error) {
	body, err := json.Marshal(problem)
	if err != nil {
		return "", fmt.Errorf("marshal problem: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/problems", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit problem: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", httpError("submit problem", resp)
	}

	var out struct {
		ProblemID string `json:"problem_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if out.ProblemID == "" {
		return "", fmt.Errorf("submit problem: empty problem_id in response")
	}
	return out.ProblemID, nil
}

// Query возвращает текущее состояние задачи.
func (c *HTTPClient) Query(ctx context.Context, problemID string) (*Solution, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/problems/"+problemID, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query problem %s: %w", problemID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, httpError("query problem "+problemID, resp)
	}

	var solution Solution
	if err := json.NewDecoder(resp.Body).Decode(&solution); err != nil {
		return nil, fmt.Errorf("decode solution: %w", err)
	}
	return &solution, nil
}

func httpError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
	return fmt.Errorf("%s: HTTP %d: %s", op, resp.StatusCode, string(body))
}
