package everify

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

const (
	PathQuery   = "/query"
	PathQR      = "/query/qr"
	PathQRCheck = "/query/qr/check"
)

// Client — вызовы внешнего API верификации с актуальным токеном.
type Client struct {
	transport Transport
	tokens    *TokenSource
	logger    *zap.Logger
}

func NewClient(transport Transport, tokens *TokenSource, logger *zap.Logger) *Client {
	return &Client{
		transport: transport,
		tokens:    tokens,
		logger:    logger.Named("everify"),
	}
}

// Query, QueryQR и CheckQR передают тело как есть.
func (c *Client) Query(ctx context.Context, payload []byte) (*Response, error) {
	return c.call(ctx, PathQuery, payload)
}

func (c *Client) QueryQR(ctx context.Context, payload []byte) (*Response, error) {
	return c.call(ctx, PathQR, payload)
}

func (c *Client) CheckQR(ctx context.Context, payload []byte) (*Response, error) {
	return c.call(ctx, PathQRCheck, payload)
}

func (c *Client) call(ctx context.Context, path string, payload []byte) (*Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.Post(ctx, path, token, payload)
	if err != nil {
		c.logger.Error("upstream call failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}

	if resp.Status == http.StatusUnauthorized {
		// Токен отозван раньше срока: следующий вызов возьмет новый
		c.tokens.Invalidate()
	}
	return resp, nil
}
