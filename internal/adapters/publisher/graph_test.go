package publisher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quizpipe/internal/domain"
)

func TestGraphPublishTwoSteps(t *testing.T) {
	var steps []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("не удалось разобрать форму: %v", err)
		}
		if r.PostForm.Get("access_token") != "token" {
			t.Errorf("нет токена в запросе %s", r.URL.Path)
		}
		steps = append(steps, r.URL.Path)
		switch r.URL.Path {
		case "/acc/media":
			if r.PostForm.Get("image_url") != "https://cdn/q.png" || r.PostForm.Get("caption") != "Вопрос?" {
				t.Errorf("неожиданная форма: %v", r.PostForm)
			}
			_, _ = w.Write([]byte(`{"id":"container-1"}`))
		case "/acc/media_publish":
			if r.PostForm.Get("creation_id") != "container-1" {
				t.Errorf("неожиданный creation_id: %s", r.PostForm.Get("creation_id"))
			}
			_, _ = w.Write([]byte(`{"id":"post-9"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	g, err := NewGraph(srv.URL, "acc", "token", time.Second)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	id, err := g.Publish(context.Background(), domain.PublishRequest{ImageURL: "https://cdn/q.png", Caption: "Вопрос?"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if id != "post-9" || len(steps) != 2 {
		t.Fatalf("ожидали post-9 за два шага, получили %s за %d", id, len(steps))
	}
}

func TestGraphErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusBadRequest, `{"error":{"message":"Invalid image","code":100}}`, domain.ErrPublishRejected},
		{http.StatusBadRequest, `{"error":{"message":"Try later","is_transient":true}}`, domain.ErrPublishTransient},
		{http.StatusTooManyRequests, ``, domain.ErrPublishTransient},
		{http.StatusInternalServerError, `oops`, domain.ErrPublishTransient},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))
		g, _ := NewGraph(srv.URL, "acc", "token", time.Second)
		_, err := g.Publish(context.Background(), domain.PublishRequest{ImageURL: "u"})
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("статус %d: ожидали %v, получили %v", tc.status, tc.want, err)
		}
	}
}

func TestGraphNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()
	g, _ := NewGraph(addr, "acc", "token", time.Second)
	if _, err := g.Publish(context.Background(), domain.PublishRequest{ImageURL: "u"}); !errors.Is(err, domain.ErrPublishTransient) {
		t.Fatalf("сетевая ошибка должна быть временной, получили %v", err)
	}
}

func TestNewGraphRequiresCredentials(t *testing.T) {
	if _, err := NewGraph("", "", "token", 0); err == nil {
		t.Fatalf("ожидали ошибку без аккаунта")
	}
}
