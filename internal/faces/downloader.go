package faces

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"

	"go.uber.org/zap"
)

// Downloader скачивает изображение лица по URL и кладет в Store под именем файла из URL.
type Downloader struct {
	client *http.Client
	store  Store
	logger *zap.Logger
}

func NewDownloader(client *http.Client, store Store, logger *zap.Logger) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{
		client: client,
		store:  store,
		logger: logger.With(zap.String("mod", "faces")),
	}
}

// KeyFromURL — имя файла из пути URL ("https://x/y/2812742641908201.jpg" -> "2812742641908201.jpg").
func KeyFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("faces: bad url: %w", err)
	}
	key := path.Base(u.Path)
	if key == "." || key == "/" || key == "" {
		return "", fmt.Errorf("faces: no file name in %q", raw)
	}
	return key, nil
}

// Fetch возвращает ключ сохраненного изображения. Уже сохраненное повторно не качается.
func (d *Downloader) Fetch(ctx context.Context, faceURL string) (string, error) {
	key, err := KeyFromURL(faceURL)
	if err != nil {
		return "", err
	}

	exists, err := d.store.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		d.logger.Debug("face image already stored", zap.String("key", key))
		return key, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, faceURL, nil)
	if err != nil {
		return "", fmt.Errorf("faces: build request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("faces: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("faces: download: status %d", resp.StatusCode)
	}

	if err := d.store.Save(ctx, key, resp.Body); err != nil {
		return "", err
	}
	d.logger.Info("face image saved", zap.String("key", key))
	return key, nil
}
