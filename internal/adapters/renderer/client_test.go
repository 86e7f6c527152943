package renderer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"quizpipe/internal/domain"
)

func TestRender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/base/api/v1/render" {
			t.Errorf("неожиданный запрос %s %s", r.Method, r.URL.Path)
		}
		var req renderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("не удалось прочитать тело: %v", err)
		}
		if req.TemplateType != "math" || req.Content != "2+2?" {
			t.Errorf("неожиданное тело: %+v", req)
		}
		_, _ = w.Write([]byte(`{"image_url":"https://cdn.example.com/1.png"}`))
	}))
	defer srv.Close()

	client, err := New(srv.URL + "/base/")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	url, err := client.Render(context.Background(), domain.Quiz{Spec: domain.QuizSpec{TemplateType: "math"}, Content: "2+2?"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if url != "https://cdn.example.com/1.png" {
		t.Fatalf("неожиданная ссылка: %s", url)
	}
}

func TestRenderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"unknown template","code":"template_not_found"}`))
	}))
	defer srv.Close()

	client, _ := New(srv.URL)
	_, err := client.Render(context.Background(), domain.Quiz{})
	if err == nil || !strings.Contains(err.Error(), "template_not_found") {
		t.Fatalf("ожидали ошибку с кодом, получили %v", err)
	}

	if _, err := New(""); err == nil {
		t.Fatalf("пустой адрес должен быть ошибкой")
	}
}
