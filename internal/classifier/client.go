// Пакет classifier: клиент внешнего сервиса классификации файлов.
//
// Client отправляет метаданные файлов на POST {url}/v1/classify и разбирает
// ответ: JSON-объект с полями summary и candidates. Ответ может прийти
// обёрнутым в поле text и в markdown-ограждение ```json ... ```.
// Все ошибки оборачивают model.ErrClassification.
//
// Cached: декоратор с expirable LRU по отпечатку набора файлов.
package classifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
)

// maxResponseSize: ограничение размера ответа классификатора.
const maxResponseSize = 8 << 20

// Prometheus-метрики клиента.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pm_classifier_requests_total",
		Help: "Количество запросов к классификатору по результату.",
	}, []string{"result"})
	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pm_classifier_request_duration_seconds",
		Help:    "Длительность запроса к классификатору.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
)

// Credentials возвращает API-ключ и имя модели для очередного запроса.
// Позволяет подменять ключ через хранилище настроек без перезапуска.
type Credentials func(ctx context.Context) (apiKey, modelName string, err error)

// StaticCredentials: ключ и модель из конфигурации.
func StaticCredentials(apiKey, modelName string) Credentials {
	return func(context.Context) (string, string, error) {
		return apiKey, modelName, nil
	}
}

// Options: параметры клиента.
type Options struct {
	// URL: базовый URL сервиса классификации
	URL string
	// CACertPath: путь к CA-сертификату (пусто означает системный пул)
	CACertPath string
	// Timeout: таймаут запроса классификации
	Timeout time.Duration
}

// Client: HTTP-клиент классификатора.
type Client struct {
	httpClient *http.Client
	baseURL    string
	creds      Credentials
	logger     *slog.Logger
}

// classifyFile: описание файла в запросе.
type classifyFile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SizeBytes  *int64 `json:"size_bytes,omitempty"`
	MimeType   string `json:"mime_type"`
	ModifiedAt string `json:"modified_at,omitempty"`
	Checksum   string `json:"checksum,omitempty"`
}

// classifyRequest: тело запроса.
type classifyRequest struct {
	Model string         `json:"model,omitempty"`
	Files []classifyFile `json:"files"`
}

// classifyResponse: ответ классификатора.
// Text заполняется сервисами, возвращающими ответ модели как строку.
type classifyResponse struct {
	Summary    string                   `json:"summary"`
	Candidates []model.CleanupCandidate `json:"candidates"`
	Text       string                   `json:"text,omitempty"`
}

// New создаёт клиент классификатора.
func New(opts Options, creds Credentials, logger *slog.Logger) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("не задан URL классификатора")
	}
	transport := &http.Transport{MaxIdleConnsPerHost: 4}
	if opts.CACertPath != "" {
		tlsConfig, err := buildTLSConfig(opts.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата классификатора: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout, Transport: transport},
		baseURL:    strings.TrimRight(opts.URL, "/"),
		creds:      creds,
		logger:     logger.With(slog.String("component", "classifier")),
	}, nil
}

// BaseURL возвращает базовый URL сервиса (для dephealth).
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CheckReady проверяет доступность классификатора (GET /health).
func (c *Client) CheckReady() (status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", http.NoBody)
	if err != nil {
		return "fail", "ошибка создания запроса: " + err.Error()
	}
	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return "fail", fmt.Sprintf("классификатор недоступен: %v", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "fail", fmt.Sprintf("классификатор вернул статус %d", resp.StatusCode)
	}
	return "ok", "классификатор доступен"
}

// Classify отправляет набор файлов и возвращает сырых кандидатов и сводку.
// Кандидаты не проверяются: это делает сессия аудита.
func (c *Client) Classify(ctx context.Context, files []model.FileRecord) ([]model.CleanupCandidate, string, error) {
	start := time.Now()
	cands, summary, err := c.classify(ctx, files)
	requestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("Ошибка классификации",
			slog.Int("files", len(files)),
			slog.String("error", err.Error()),
		)
		return nil, "", err
	}
	requestsTotal.WithLabelValues("ok").Inc()
	c.logger.Info("Классификация завершена",
		slog.Int("files", len(files)),
		slog.Int("candidates", len(cands)),
		slog.Duration("duration", time.Since(start)),
	)
	return cands, summary, nil
}

func (c *Client) classify(ctx context.Context, files []model.FileRecord) ([]model.CleanupCandidate, string, error) {
	apiKey, modelName, err := c.creds(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("%w: получение учётных данных: %w", model.ErrClassification, err)
	}

	body, err := json.Marshal(buildRequest(modelName, files))
	if err != nil {
		return nil, "", fmt.Errorf("%w: сериализация запроса: %w", model.ErrClassification, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/classify", bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("%w: создание запроса: %w", model.ErrClassification, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, "", fmt.Errorf("%w: запрос: %w", model.ErrClassification, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, "", fmt.Errorf("%w: чтение ответа: %w", model.ErrClassification, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: классификатор вернул статус %d: %s",
			model.ErrClassification, resp.StatusCode, truncate(strings.TrimSpace(string(raw)), 512))
	}

	parsed, err := decodeResponse(raw)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", model.ErrClassification, err)
	}
	return parsed.Candidates, parsed.Summary, nil
}

// buildRequest формирует тело запроса из метаданных файлов.
func buildRequest(modelName string, files []model.FileRecord) classifyRequest {
	req := classifyRequest{Model: modelName, Files: make([]classifyFile, 0, len(files))}
	for i := range files {
		f := &files[i]
		cf := classifyFile{
			ID:        f.ID,
			Name:      f.Name,
			SizeBytes: f.SizeBytes,
			MimeType:  f.MimeType,
			Checksum:  f.Checksum,
		}
		if !f.ModifiedAt.IsZero() {
			cf.ModifiedAt = f.ModifiedAt.UTC().Format(time.RFC3339)
		}
		req.Files = append(req.Files, cf)
	}
	return req
}

// decodeResponse разбирает ответ с учётом markdown-ограждения
// и вложенного текстового ответа модели.
func decodeResponse(raw []byte) (*classifyResponse, error) {
	var resp classifyResponse
	if err := json.Unmarshal(stripFence(raw), &resp); err != nil {
		return nil, fmt.Errorf("некорректный JSON ответа: %w", err)
	}
	if resp.Candidates != nil || resp.Text == "" {
		return &resp, nil
	}

	var inner classifyResponse
	if err := json.Unmarshal(stripFence([]byte(resp.Text)), &inner); err != nil {
		return nil, fmt.Errorf("некорректный JSON в поле text: %w", err)
	}
	if inner.Summary == "" {
		inner.Summary = resp.Summary
	}
	return &inner, nil
}

// stripFence убирает обрамление ```json ... ``` вокруг JSON.
func stripFence(raw []byte) []byte {
	s := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(s, []byte("```")) {
		return s
	}
	if nl := bytes.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = bytes.TrimPrefix(s, []byte("```"))
	}
	s = bytes.TrimSpace(s)
	s = bytes.TrimSuffix(s, []byte("```"))
	return bytes.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}
