// Пакет source: адаптеры источников файлов для сессии аудита.
//
// Drive: HTTP-клиент API облачного хранилища (листинг и перемещение в корзину).
// Demo: фиксированный набор файлов для работы без авторизации.
//
// Ошибки оборачивают sentinel-ошибки пакета model:
//   - 401 → ErrUnauthorized
//   - 403 → ErrForbidden
//   - 404 → ErrNotFound
//   - 429, 5xx, сеть → ErrTransient
//
// Ошибки листинга дополнительно оборачивают ErrSourceUnavailable.
package source

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
)

// listFields: поля, запрашиваемые при листинге.
const listFields = "nextPageToken,files(id,name,size,mimeType,modifiedTime,md5Checksum,webViewLink)"

// DriveOptions: параметры клиента хранилища.
type DriveOptions struct {
	// APIURL: базовый URL API (например, https://www.googleapis.com/drive/v3)
	APIURL string
	// CACertPath: путь к CA-сертификату (пусто означает системный пул)
	CACertPath string
	// Timeout: таймаут одного HTTP-запроса
	Timeout time.Duration
	// PageSize: размер страницы листинга
	PageSize int
	// MaxFiles: максимум файлов за сканирование
	MaxFiles int
	// ReadyTimeout: ожидание готовности адаптера
	ReadyTimeout time.Duration
}

// Drive: адаптер облачного хранилища.
type Drive struct {
	httpClient   *http.Client
	apiURL       string
	tokens       TokenProvider
	pageSize     int
	maxFiles     int
	readyTimeout time.Duration
	logger       *slog.Logger

	// mu защищает ready: после неудачной проверки сигнал заменяется новым
	mu    sync.Mutex
	ready *Readiness
}

// driveFile: файл в ответе API.
type driveFile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Size         string `json:"size"`
	MimeType     string `json:"mimeType"`
	ModifiedTime string `json:"modifiedTime"`
	MD5Checksum  string `json:"md5Checksum"`
	WebViewLink  string `json:"webViewLink"`
}

// driveListResponse: страница листинга.
type driveListResponse struct {
	NextPageToken string      `json:"nextPageToken"`
	Files         []driveFile `json:"files"`
}

// NewDrive создаёт адаптер хранилища. Адаптер не готов до вызова Init.
func NewDrive(opts DriveOptions, tokens TokenProvider, logger *slog.Logger) (*Drive, error) {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
	}
	if opts.CACertPath != "" {
		tlsConfig, err := buildTLSConfig(opts.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата хранилища: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = 1000
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 10 * time.Second
	}

	return &Drive{
		httpClient:   &http.Client{Timeout: opts.Timeout, Transport: transport},
		apiURL:       strings.TrimRight(opts.APIURL, "/"),
		tokens:       tokens,
		pageSize:     opts.PageSize,
		maxFiles:     opts.MaxFiles,
		readyTimeout: opts.ReadyTimeout,
		ready:        NewReadiness(),
		logger:       logger.With(slog.String("component", "drive_source")),
	}, nil
}

// Init проверяет доступность API и разрешает сигнал готовности.
// Обычно вызывается в отдельной горутине при создании адаптера.
func (d *Drive) Init(ctx context.Context) {
	err := d.probe(ctx)
	if err != nil {
		d.logger.Warn("Хранилище недоступно при инициализации", slog.String("error", err.Error()))
	} else {
		d.logger.Info("Адаптер хранилища готов", slog.String("api_url", d.apiURL))
	}
	d.Readiness().Resolve(err)
}

// Readiness возвращает текущий сигнал готовности адаптера.
func (d *Drive) Readiness() *Readiness {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// CheckReady реализует проверку готовности для health endpoint.
func (d *Drive) CheckReady() (status, message string) {
	ready := d.Readiness()
	if !ready.Resolved() {
		return "degraded", "инициализация не завершена"
	}
	if err := ready.Err(); err != nil {
		return "fail", err.Error()
	}
	return "ok", "хранилище доступно"
}

// awaitReady ожидает готовности адаптера не дольше readyTimeout.
// Если инициализация завершилась ошибкой, проверка API повторяется.
func (d *Drive) awaitReady(ctx context.Context) error {
	ready := d.Readiness()
	err := ready.Wait(ctx, d.readyTimeout)
	if err == nil || !ready.Resolved() {
		return err
	}
	return d.reprobe(ctx, ready)
}

// reprobe повторяет проверку about и заменяет неудачный сигнал новым.
// Параллельные вызовы выполняют одну проверку.
func (d *Drive) reprobe(ctx context.Context, failed *Readiness) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ready != failed {
		// Сигнал уже заменён другим вызовом и разрешён
		return d.ready.Err()
	}

	probeCtx, cancel := context.WithTimeout(ctx, d.readyTimeout)
	defer cancel()
	err := d.probe(probeCtx)

	next := NewReadiness()
	next.Resolve(err)
	d.ready = next

	if err != nil {
		d.logger.Warn("Повторная проверка хранилища не удалась", slog.String("error", err.Error()))
		return err
	}
	d.logger.Info("Хранилище снова доступно", slog.String("api_url", d.apiURL))
	return nil
}

// probe: запрос about для проверки токена и доступности API.
func (d *Drive) probe(ctx context.Context) error {
	resp, err := d.do(ctx, http.MethodGet, d.apiURL+"/about?fields=user", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// List возвращает файлы, не находящиеся в корзине.
// Останавливается после MaxFiles файлов.
func (d *Drive) List(ctx context.Context) ([]model.FileRecord, error) {
	if err := d.awaitReady(ctx); err != nil {
		return nil, listError(err)
	}

	files := make([]model.FileRecord, 0, d.pageSize)
	pageToken := ""

	for {
		q := url.Values{
			"q":        {"trashed = false"},
			"pageSize": {strconv.Itoa(d.pageSize)},
			"fields":   {listFields},
		}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		page, err := d.listPage(ctx, d.apiURL+"/files?"+q.Encode())
		if err != nil {
			return nil, listError(err)
		}

		for _, f := range page.Files {
			rec, convErr := f.toRecord()
			if convErr != nil {
				d.logger.Warn("Пропуск файла с некорректными метаданными",
					slog.String("file_id", f.ID),
					slog.String("error", convErr.Error()),
				)
				continue
			}
			files = append(files, rec)
			if len(files) >= d.maxFiles {
				d.logger.Info("Достигнут лимит файлов сканирования", slog.Int("max_files", d.maxFiles))
				return files, nil
			}
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	d.logger.Debug("Листинг завершён", slog.Int("files", len(files)))
	return files, nil
}

// listPage запрашивает одну страницу листинга.
func (d *Drive) listPage(ctx context.Context, reqURL string) (*driveListResponse, error) {
	resp, err := d.do(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var page driveListResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("декодирование страницы листинга: %w", err)
	}
	return &page, nil
}

// Trash перемещает файл в корзину (PATCH files/{id} trashed=true).
// Повторное перемещение уже удалённого файла API считает успешным.
func (d *Drive) Trash(ctx context.Context, id string) error {
	if err := d.awaitReady(ctx); err != nil {
		return err
	}

	reqURL := fmt.Sprintf("%s/files/%s?fields=id", d.apiURL, url.PathEscape(id))
	resp, err := d.do(ctx, http.MethodPatch, reqURL, []byte(`{"trashed":true}`))
	if err != nil {
		return fmt.Errorf("trash %s: %w", id, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	d.logger.Debug("Файл перемещён в корзину", slog.String("file_id", id))
	return nil
}

// do выполняет авторизованный запрос и переводит статус в sentinel-ошибку.
// При успехе вызывающий код обязан закрыть resp.Body.
func (d *Drive) do(ctx context.Context, method, reqURL string, body []byte) (*http.Response, error) {
	token, err := d.tokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение токена хранилища: %w", err)
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("создание запроса %s: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("запрос %s: %v: %w", method, err, model.ErrTransient)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return nil, fmt.Errorf("хранилище вернуло статус %d: %s: %w",
		resp.StatusCode, strings.TrimSpace(string(msg)), statusError(resp.StatusCode))
}

// statusError сопоставляет HTTP-статус sentinel-ошибке.
func statusError(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return model.ErrUnauthorized
	case status == http.StatusForbidden:
		return model.ErrForbidden
	case status == http.StatusNotFound:
		return model.ErrNotFound
	default:
		return model.ErrTransient
	}
}

// listError оборачивает ошибку листинга в ErrSourceUnavailable,
// сохраняя ErrUnauthorized различимой.
func listError(err error) error {
	if errors.Is(err, model.ErrSourceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrSourceUnavailable, err)
}

// toRecord преобразует файл API в FileRecord.
// Отсутствующий размер (документы редактора) остаётся неизвестным.
func (f driveFile) toRecord() (model.FileRecord, error) {
	if f.ID == "" {
		return model.FileRecord{}, fmt.Errorf("пустой id")
	}
	rec := model.FileRecord{
		ID:          f.ID,
		Name:        f.Name,
		MimeType:    f.MimeType,
		Checksum:    f.MD5Checksum,
		PreviewLink: f.WebViewLink,
		Origin:      model.OriginLive,
	}
	if f.Size != "" {
		n, err := strconv.ParseInt(f.Size, 10, 64)
		if err != nil || n < 0 {
			return model.FileRecord{}, fmt.Errorf("некорректный размер %q", f.Size)
		}
		rec.SizeBytes = &n
	}
	if f.ModifiedTime != "" {
		ts, err := time.Parse(time.RFC3339, f.ModifiedTime)
		if err != nil {
			return model.FileRecord{}, fmt.Errorf("некорректное время изменения %q", f.ModifiedTime)
		}
		rec.ModifiedAt = ts.UTC()
	}
	return rec, nil
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
