package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/purge-module/internal/domain/model"
)

// TokenProvider: функция, возвращающая access token для запросов к хранилищу.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken возвращает провайдер фиксированного токена.
// Используется, когда токен получен UI после собственного handshake с хранилищем.
func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) {
		if token == "" {
			return "", fmt.Errorf("пустой access token: %w", model.ErrUnauthorized)
		}
		return token, nil
	}
}

// tokenInfo: закэшированный токен с временем истечения.
type tokenInfo struct {
	accessToken string
	expiresAt   time.Time
}

// RefreshTokenSource: получение access token через refresh_token grant.
// Токен кэшируется до истечения (exp - 30s).
type RefreshTokenSource struct {
	httpClient   *http.Client
	tokenURL     string
	clientID     string
	clientSecret string //nolint:gosec // G101: поле структуры, не содержит секрет напрямую
	refreshToken string //nolint:gosec // G101: поле структуры
	logger       *slog.Logger

	mu    sync.RWMutex
	token *tokenInfo
}

// NewRefreshTokenSource создаёт провайдер токенов OAuth.
func NewRefreshTokenSource(
	tokenURL string,
	clientID string,
	clientSecret string,
	refreshToken string,
	httpClient *http.Client,
	logger *slog.Logger,
) *RefreshTokenSource {
	return &RefreshTokenSource{
		httpClient:   httpClient,
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		logger:       logger.With(slog.String("component", "drive_token")),
	}
}

// Token возвращает действующий access token.
func (s *RefreshTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	if s.token != nil && time.Now().Before(s.token.expiresAt) {
		token := s.token.accessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check после получения write lock
	if s.token != nil && time.Now().Before(s.token.expiresAt) {
		return s.token.accessToken, nil
	}

	return s.requestToken(ctx)
}

// Invalidate сбрасывает кэш (например, после 401 от API хранилища).
func (s *RefreshTokenSource) Invalidate() {
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()
}

// requestToken запрашивает новый токен. Вызывается под write lock.
func (s *RefreshTokenSource) requestToken(ctx context.Context) (string, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {s.refreshToken},
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("создание запроса token: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return "", fmt.Errorf("запрос token: %v: %w", err, model.ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		kind := model.ErrTransient
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			// invalid_grant / invalid_client: требуется повторная авторизация
			kind = model.ErrUnauthorized
		}
		return "", fmt.Errorf("token endpoint вернул статус %d: %s: %w", resp.StatusCode, string(body), kind)
	}

	var tokenResp struct {
		Token     string `json:"access_token"` //nolint:gosec // G117: JSON-маппинг OAuth2 ответа
		ExpiresIn int    `json:"expires_in"`
		TokenType string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("декодирование token response: %w", err)
	}
	if tokenResp.Token == "" {
		return "", fmt.Errorf("пустой access_token в ответе: %w", model.ErrUnauthorized)
	}

	s.token = &tokenInfo{
		accessToken: tokenResp.Token,
		expiresAt:   time.Now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - 30*time.Second),
	}

	s.logger.Debug("Access token получен", slog.Int("expires_in", tokenResp.ExpiresIn))
	return tokenResp.Token, nil
}
