package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"quizpipe/internal/domain"
	"quizpipe/internal/infra/metrics"
)

// Client обращается к внешнему сервису рендера шаблонов квизов в изображения.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type renderRequest struct {
	TemplateType string `json:"template_type"`
	Language     string `json:"language"`
	Difficulty   string `json:"difficulty"`
	Theme        string `json:"theme"`
	Content      string `json:"content"`
	Answer       string `json:"answer"`
}

type renderResponse struct {
	ImageURL string `json:"image_url"`
}

// New создаёт клиента сервиса рендера.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}
	client := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Render отрисовывает квиз и возвращает ссылку на изображение.
func (c *Client) Render(ctx context.Context, quiz domain.Quiz) (string, error) {
	payload := renderRequest{
		TemplateType: quiz.Spec.TemplateType,
		Language:     quiz.Spec.Language,
		Difficulty:   quiz.Spec.Difficulty,
		Theme:        quiz.Spec.Theme,
		Content:      quiz.Content,
		Answer:       quiz.Answer,
	}
	var out renderResponse
	if err := c.post(ctx, "/api/v1/render", payload, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ImageURL) == "" {
		return "", fmt.Errorf("renderer: пустая ссылка на изображение")
	}
	return out.ImageURL, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body any, out any) error {
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	start := time.Now()
	err = c.do(req, out)
	metrics.ObserveNetworkRequest("renderer", strings.Trim(endpoint, "/"), c.baseURL.Host, start, err)
	return err
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	resolved := *c.baseURL
	basePath := strings.TrimSuffix(c.baseURL.Path, "/")
	resolved.Path = path.Clean(basePath + endpoint)
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("renderer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr == nil && len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		if apiErr.Code != "" {
			return fmt.Errorf("renderer error [%s]: %s", apiErr.Code, apiErr.Error)
		}
		return fmt.Errorf("renderer error: status=%d message=%s", resp.StatusCode, apiErr.Error)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ domain.ImageRenderer = (*Client)(nil)
