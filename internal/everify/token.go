package everify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// AccessToken — bearer-токен и момент истечения.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// Expired: токен нельзя использовать начиная с момента истечения.
func (t *AccessToken) Expired(now time.Time) bool {
	return t == nil || t.Value == "" || !now.Before(t.ExpiresAt)
}

type authResponse struct {
	Data struct {
		AccessToken string      `json:"access_token"`
		ExpiresAt   json.Number `json:"expires_at"`
	} `json:"data"`
}

// TokenSource владеет единственным закешированным токеном.
// Проверяется перед каждым исходящим вызовом, обновляется синхронно.
// Параллельные вызовы могут обновить токен одновременно: побеждает последний.
type TokenSource struct {
	transport    Transport
	clientID     string
	clientSecret string
	now          func() time.Time
	logger       *zap.Logger

	mu    sync.Mutex
	token *AccessToken
}

func NewTokenSource(transport Transport, clientID, clientSecret string, logger *zap.Logger) *TokenSource {
	return &TokenSource{
		transport:    transport,
		clientID:     clientID,
		clientSecret: clientSecret,
		now:          time.Now,
		logger:       logger.With(zap.String("mod", "everify-token")),
	}
}

// Token возвращает действующий токен, при необходимости получая новый.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	cur := s.token
	s.mu.Unlock()

	if !cur.Expired(s.now()) {
		return cur.Value, nil
	}

	tok, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()

	s.logger.Info("access token refreshed", zap.Time("expires_at", tok.ExpiresAt))
	return tok.Value, nil
}

// Invalidate сбрасывает кеш (например, после 401 от внешнего API).
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()
}

func (s *TokenSource) fetch(ctx context.Context) (*AccessToken, error) {
	body, _ := json.Marshal(map[string]string{
		"client_id":     s.clientID,
		"client_secret": s.clientSecret,
	})

	resp, err := s.transport.Post(ctx, "/auth", "", body)
	if err != nil {
		if errors.Is(err, ErrUpstreamTimeout) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if resp.Status != http.StatusOK {
		s.logger.Error("failed to get access token", zap.Int("status", resp.Status), zap.ByteString("body", resp.Body))
		return nil, fmt.Errorf("%w: status %d", ErrAuthFailed, resp.Status)
	}

	var ar authResponse
	if err := json.Unmarshal(resp.Body, &ar); err != nil {
		return nil, fmt.Errorf("%w: decode auth response: %v", ErrAuthFailed, err)
	}
	if ar.Data.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrAuthFailed)
	}

	exp, err := expiryOf(ar.Data.AccessToken, ar.Data.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	return &AccessToken{Value: ar.Data.AccessToken, ExpiresAt: exp}, nil
}

// expiryOf: claim exp из JWT (подпись не проверяем, токен не наш),
// иначе поле expires_at ответа (unix-секунды).
func expiryOf(raw string, expiresAt json.Number) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time, nil
		}
	}

	if expiresAt != "" {
		sec, err := strconv.ParseInt(expiresAt.String(), 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad expires_at %q", expiresAt)
		}
		return time.Unix(sec, 0), nil
	}
	return time.Time{}, errors.New("token expiry unknown")
}
