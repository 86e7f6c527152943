package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quizpipe/internal/domain"
	"quizpipe/internal/infra/metrics"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// Graph публикует изображения через Graph API в два шага: контейнер медиа и его публикация.
type Graph struct {
	http        *http.Client
	baseURL     string
	accountID   string
	accessToken string
}

// NewGraph создаёт публикатор Graph API.
func NewGraph(baseURL, accountID, accessToken string, timeout time.Duration) (*Graph, error) {
	if accountID == "" || accessToken == "" {
		return nil, errors.New("graph: не указаны аккаунт или токен")
	}
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Graph{
		http:        &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(baseURL, "/"),
		accountID:   accountID,
		accessToken: accessToken,
	}, nil
}

type graphID struct {
	ID string `json:"id"`
}

type graphError struct {
	Error struct {
		Message     string `json:"message"`
		Type        string `json:"type"`
		Code        int    `json:"code"`
		IsTransient bool   `json:"is_transient"`
	} `json:"error"`
}

// Publish создаёт контейнер медиа и публикует его. Для отложенной публикации передаётся
// scheduled_publish_time, если ScheduledAt задан и ещё не наступил.
func (g *Graph) Publish(ctx context.Context, req domain.PublishRequest) (string, error) {
	form := url.Values{}
	form.Set("image_url", req.ImageURL)
	form.Set("caption", req.Caption)
	if req.ScheduledAt != nil && req.ScheduledAt.After(time.Now()) {
		form.Set("published", "false")
		form.Set("scheduled_publish_time", fmt.Sprint(req.ScheduledAt.Unix()))
	}

	var container graphID
	if err := g.call(ctx, "media", form, &container); err != nil {
		return "", err
	}
	if container.ID == "" {
		return "", fmt.Errorf("%w: graph media: пустой идентификатор контейнера", domain.ErrPublishTransient)
	}

	publish := url.Values{}
	publish.Set("creation_id", container.ID)
	var post graphID
	if err := g.call(ctx, "media_publish", publish, &post); err != nil {
		return "", err
	}
	if post.ID == "" {
		return "", fmt.Errorf("%w: graph media_publish: пустой идентификатор поста", domain.ErrPublishTransient)
	}
	return post.ID, nil
}

func (g *Graph) call(ctx context.Context, edge string, form url.Values, out any) error {
	form.Set("access_token", g.accessToken)
	endpoint := fmt.Sprintf("%s/%s/%s", g.baseURL, url.PathEscape(g.accountID), edge)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: graph %s: build request: %v", domain.ErrPublishRejected, edge, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := g.http.Do(httpReq)
	if err != nil {
		metrics.ObserveNetworkRequest("graph", edge, g.accountID, start, err)
		return fmt.Errorf("%w: graph %s: %v", domain.ErrPublishTransient, edge, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.ObserveNetworkRequest("graph", edge, g.accountID, start, err)
		return fmt.Errorf("%w: graph %s: read response: %v", domain.ErrPublishTransient, edge, err)
	}
	if resp.StatusCode >= 400 {
		apiErr := classifyGraph(edge, resp.StatusCode, body)
		metrics.ObserveNetworkRequest("graph", edge, g.accountID, start, apiErr)
		return apiErr
	}
	metrics.ObserveNetworkRequest("graph", edge, g.accountID, start, nil)
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: graph %s: decode response: %v", domain.ErrPublishTransient, edge, err)
	}
	return nil
}

func classifyGraph(edge string, status int, body []byte) error {
	var payload graphError
	_ = json.Unmarshal(body, &payload)
	message := payload.Error.Message
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	kind := domain.ErrPublishRejected
	if status == http.StatusTooManyRequests || status >= 500 || payload.Error.IsTransient {
		kind = domain.ErrPublishTransient
	}
	return fmt.Errorf("%w: graph %s: status %d: %s", kind, edge, status, message)
}

var _ domain.Publisher = (*Graph)(nil)
