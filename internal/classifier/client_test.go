package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testFiles() []model.FileRecord {
	ts := time.Date(2023, time.March, 14, 9, 30, 0, 0, time.UTC)
	return []model.FileRecord{
		{ID: "a", Name: "a.pdf", SizeBytes: model.Size(10), MimeType: "application/pdf", ModifiedAt: ts},
		{ID: "b", Name: "Doc", MimeType: "application/vnd.google-apps.document", ModifiedAt: ts},
	}
}

// newMockClassifier создаёт тестовый сервер, отвечающий заданным телом.
func newMockClassifier(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v1/classify" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req classifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("некорректное тело запроса: %v", err)
		}
		if req.Model != "m-1" || len(req.Files) != 2 {
			t.Errorf("неожиданный запрос: %+v", req)
		}
		if req.Files[1].SizeBytes != nil {
			t.Errorf("неизвестный размер не должен передаваться как число")
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(Options{URL: url, Timeout: 5 * time.Second}, StaticCredentials("secret", "m-1"), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestClient_Classify(t *testing.T) {
	srv, _ := newMockClassifier(t, http.StatusOK,
		`{"summary":"Найден дубликат","candidates":[{"id":"a","category":"Duplicate","reason":"копия","confidence":0.9}]}`)

	c := newTestClient(t, srv.URL)
	cands, summary, err := c.Classify(context.Background(), testFiles())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if summary != "Найден дубликат" {
		t.Errorf("summary = %q", summary)
	}
	if len(cands) != 1 || cands[0].ID != "a" || cands[0].Confidence != 0.9 {
		t.Errorf("кандидаты: %+v", cands)
	}
	// Категория не нормализуется клиентом
	if cands[0].Category != "Duplicate" {
		t.Errorf("category = %q", cands[0].Category)
	}
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"статус 500", http.StatusInternalServerError, `{"error":"boom"}`},
		{"некорректный JSON", http.StatusOK, `не json`},
		{"некорректный text", http.StatusOK, `{"text":"` + "```json\\n{oops" + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newMockClassifier(t, tt.status, tt.body)
			c := newTestClient(t, srv.URL)
			_, _, err := c.Classify(context.Background(), testFiles())
			if !errors.Is(err, model.ErrClassification) {
				t.Errorf("ожидалась ErrClassification, получено %v", err)
			}
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	if _, _, err := c.Classify(context.Background(), testFiles()); !errors.Is(err, model.ErrClassification) {
		t.Errorf("ожидалась ErrClassification, получено %v", err)
	}
}

func TestClient_CredentialsError(t *testing.T) {
	creds := func(context.Context) (string, string, error) {
		return "", "", errors.New("хранилище настроек недоступно")
	}
	c, err := New(Options{URL: "http://127.0.0.1:1"}, creds, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, err := c.Classify(context.Background(), testFiles()); !errors.Is(err, model.ErrClassification) {
		t.Errorf("ожидалась ErrClassification, получено %v", err)
	}
}

// TestClient_CheckReady проверяет health-проверку классификатора.
func TestClient_CheckReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if status, msg := newTestClient(t, srv.URL).CheckReady(); status != "ok" {
		t.Errorf("CheckReady: %s (%s)", status, msg)
	}
	if status, _ := newTestClient(t, "http://127.0.0.1:1").CheckReady(); status != "fail" {
		t.Errorf("недоступный классификатор: %s", status)
	}
}

func TestNew_EmptyURL(t *testing.T) {
	if _, err := New(Options{}, StaticCredentials("", ""), testLogger()); err == nil {
		t.Error("ожидалась ошибка для пустого URL")
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantSummary string
		wantCount   int
	}{
		{
			name:        "чистый JSON",
			raw:         `{"summary":"s","candidates":[{"id":"a","category":"old","confidence":0.5}]}`,
			wantSummary: "s",
			wantCount:   1,
		},
		{
			name:        "ограждение json",
			raw:         "```json\n{\"summary\":\"s\",\"candidates\":[]}\n```",
			wantSummary: "s",
			wantCount:   0,
		},
		{
			name:        "ограждение без языка",
			raw:         "  ```\n{\"summary\":\"s\"}\n```  ",
			wantSummary: "s",
			wantCount:   0,
		},
		{
			name:        "вложенный text",
			raw:         `{"summary":"внешняя","text":"` + "```json\\n{\\\"candidates\\\":[{\\\"id\\\":\\\"a\\\",\\\"category\\\":\\\"large\\\",\\\"confidence\\\":1}]}\\n```" + `"}`,
			wantSummary: "внешняя",
			wantCount:   1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := decodeResponse([]byte(tt.raw))
			if err != nil {
				t.Fatalf("decodeResponse: %v", err)
			}
			if resp.Summary != tt.wantSummary {
				t.Errorf("summary = %q, ожидалось %q", resp.Summary, tt.wantSummary)
			}
			if len(resp.Candidates) != tt.wantCount {
				t.Errorf("кандидатов %d, ожидалось %d", len(resp.Candidates), tt.wantCount)
			}
		})
	}
}
